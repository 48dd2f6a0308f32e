package invoicing

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoice-ledger/internal/directory"
	"github.com/odyssey-erp/invoice-ledger/internal/numbering"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
	"github.com/odyssey-erp/invoice-ledger/internal/stock"
)

// memoryRepo is a map-backed Repository. WithTx serialises transactions and
// restores the previous state when fn fails.
type memoryRepo struct {
	mu         sync.Mutex
	invoices   map[int64]Invoice
	goods      map[int64]stock.FinishedGood
	dispatched map[int64]bool
	counters   map[string]int64
	nextID     int64

	collisions int
	insertErr  error
	getErr     error
	txCount    int
	reads      int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		invoices:   make(map[int64]Invoice),
		goods:      make(map[int64]stock.FinishedGood),
		dispatched: make(map[int64]bool),
		counters:   make(map[string]int64),
	}
}

func (r *memoryRepo) addGood(id int64, name, qty string) {
	r.goods[id] = stock.FinishedGood{
		ID:                id,
		BatchLabel:        "B-" + name,
		ProductName:       name,
		AvailableQuantity: decimal.RequireFromString(qty),
	}
}

func (r *memoryRepo) available(id int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.goods[id].AvailableQuantity.String()
}

type memoryState struct {
	invoices map[int64]Invoice
	goods    map[int64]stock.FinishedGood
	counters map[string]int64
	nextID   int64
}

func (r *memoryRepo) snapshot() memoryState {
	s := memoryState{
		invoices: make(map[int64]Invoice, len(r.invoices)),
		goods:    make(map[int64]stock.FinishedGood, len(r.goods)),
		counters: make(map[string]int64, len(r.counters)),
		nextID:   r.nextID,
	}
	for k, v := range r.invoices {
		s.invoices[k] = v
	}
	for k, v := range r.goods {
		s.goods[k] = v
	}
	for k, v := range r.counters {
		s.counters[k] = v
	}
	return s
}

func (r *memoryRepo) restore(s memoryState) {
	r.invoices = s.invoices
	r.goods = s.goods
	r.counters = s.counters
	r.nextID = s.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCount++
	saved := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(saved)
		return err
	}
	return nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.getErr != nil {
		return Invoice{}, r.getErr
	}
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, shared.NewNotFoundError("invoice", id)
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Invoice
	for _, inv := range r.invoices {
		if filter.ClientID != nil && inv.ClientID != *filter.ClientID {
			continue
		}
		if filter.PaymentStatus != nil && inv.PaymentStatus != *filter.PaymentStatus {
			continue
		}
		if filter.From != nil && inv.InvoiceDate.Before(filter.From.Time) {
			continue
		}
		if filter.To != nil && inv.InvoiceDate.After(filter.To.Time) {
			continue
		}
		matched = append(matched, inv)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	start := (filter.Page - 1) * filter.PerPage
	if start >= len(matched) {
		return nil, len(matched), nil
	}
	end := min(start+filter.PerPage, len(matched))
	return matched[start:end], len(matched), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) NextInvoiceCounter(ctx context.Context, prefix, period string) (int64, error) {
	var numbers []string
	for _, inv := range t.repo.invoices {
		numbers = append(numbers, inv.InvoiceNumber)
	}
	seed := numbering.NextFromExisting(prefix+period, numbers)
	key := prefix + period
	next := max(t.repo.counters[key]+1, seed)
	t.repo.counters[key] = next
	return next, nil
}

func (t *memoryTx) Stock() stock.Store { return memoryStock{repo: t.repo} }

func (t *memoryTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := t.repo.invoices[id]
	if !ok {
		return Invoice{}, shared.NewNotFoundError("invoice", id)
	}
	return inv, nil
}

func (t *memoryTx) InvoiceHasDispatch(ctx context.Context, id int64) (bool, error) {
	return t.repo.dispatched[id], nil
}

func (t *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	if t.repo.insertErr != nil {
		return 0, t.repo.insertErr
	}
	if t.repo.collisions > 0 {
		t.repo.collisions--
		return 0, errNumberTaken
	}
	for _, existing := range t.repo.invoices {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return 0, errNumberTaken
		}
	}
	t.repo.nextID++
	inv.ID = t.repo.nextID
	t.repo.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (t *memoryTx) UpdateInvoice(ctx context.Context, inv Invoice) error {
	if _, ok := t.repo.invoices[inv.ID]; !ok {
		return shared.NewNotFoundError("invoice", inv.ID)
	}
	t.repo.invoices[inv.ID] = inv
	return nil
}

func (t *memoryTx) ReplaceLines(ctx context.Context, invoiceID int64, records []LineRecord) error {
	inv := t.repo.invoices[invoiceID]
	inv.Lines = LinesFromRecords(records)
	t.repo.invoices[invoiceID] = inv
	return nil
}

func (t *memoryTx) UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, note *string) error {
	inv := t.repo.invoices[id]
	inv.PaymentStatus = status
	inv.PaymentNote = note
	t.repo.invoices[id] = inv
	return nil
}

func (t *memoryTx) DeleteInvoice(ctx context.Context, id int64) error {
	delete(t.repo.invoices, id)
	return nil
}

type memoryStock struct {
	repo *memoryRepo
}

func (s memoryStock) LockFinishedGoods(ctx context.Context, ids []int64) (map[int64]stock.FinishedGood, error) {
	out := make(map[int64]stock.FinishedGood, len(ids))
	for _, id := range ids {
		if good, ok := s.repo.goods[id]; ok {
			out[id] = good
		}
	}
	return out, nil
}

func (s memoryStock) SetAvailable(ctx context.Context, id int64, qty decimal.Decimal) error {
	good := s.repo.goods[id]
	good.AvailableQuantity = qty
	s.repo.goods[id] = good
	return nil
}

type memoryClients map[int64]directory.Client

func (m memoryClients) GetClient(ctx context.Context, id int64) (directory.Client, error) {
	c, ok := m[id]
	if !ok {
		return directory.Client{}, shared.NewNotFoundError("client", id)
	}
	return c, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

func strPtr(s string) *string { return &s }
