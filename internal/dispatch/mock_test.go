package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	invoices   map[int64]bool
	dispatches map[int64]Dispatch
	nextID     int64
	now        time.Time
	getErr     error
}

func newMemoryRepo(invoiceIDs ...int64) *memoryRepo {
	r := &memoryRepo{
		invoices:   make(map[int64]bool),
		dispatches: make(map[int64]Dispatch),
		now:        time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC),
	}
	for _, id := range invoiceIDs {
		r.invoices[id] = true
	}
	return r
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[int64]Dispatch, len(r.dispatches))
	for k, v := range r.dispatches {
		saved[k] = v
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.dispatches = saved
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryRepo) GetDispatch(ctx context.Context, id int64) (Dispatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return Dispatch{}, r.getErr
	}
	d, ok := r.dispatches[id]
	if !ok {
		return Dispatch{}, shared.NewNotFoundError("dispatch", id)
	}
	return d, nil
}

func (r *memoryRepo) ListDispatches(ctx context.Context, filter ListFilter) ([]Dispatch, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Dispatch
	for _, d := range r.dispatches {
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.InvoiceID != nil && d.InvoiceID != *filter.InvoiceID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return nil, total, nil
	}
	return out[start:min(start+filter.PerPage, total)], total, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) LockInvoice(ctx context.Context, invoiceID int64) error {
	if !t.repo.invoices[invoiceID] {
		return shared.NewNotFoundError("invoice", invoiceID)
	}
	return nil
}

func (t *memoryTx) InvoiceHasDispatch(ctx context.Context, invoiceID int64) (bool, error) {
	for _, d := range t.repo.dispatches {
		if d.InvoiceID == invoiceID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertDispatch(ctx context.Context, d Dispatch) (int64, error) {
	for _, existing := range t.repo.dispatches {
		if existing.TrackingNumber == d.TrackingNumber {
			return 0, &shared.DuplicateError{Entity: "dispatch", Field: "tracking_number", Value: d.TrackingNumber}
		}
	}
	t.repo.nextID++
	d.ID = t.repo.nextID
	d.CreatedAt = t.repo.now
	d.UpdatedAt = t.repo.now
	t.repo.dispatches[d.ID] = d
	return d.ID, nil
}

func (t *memoryTx) LockDispatch(ctx context.Context, id int64) (Dispatch, error) {
	d, ok := t.repo.dispatches[id]
	if !ok {
		return Dispatch{}, shared.NewNotFoundError("dispatch", id)
	}
	return d, nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, id int64, status Status, deliveredAt *time.Time) error {
	d := t.repo.dispatches[id]
	d.Status = status
	if deliveredAt != nil {
		d.DeliveredAt = deliveredAt
	}
	t.repo.dispatches[id] = d
	return nil
}

func (t *memoryTx) DeleteDispatch(ctx context.Context, id int64) error {
	delete(t.repo.dispatches, id)
	return nil
}

type memoryFeedback struct {
	mu   sync.Mutex
	has  map[int64]bool
	fail bool
}

func (f *memoryFeedback) HasFeedback(ctx context.Context, dispatchID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, errors.New("feedback store unavailable")
	}
	return f.has[dispatchID], nil
}

type recordingPrompter struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (p *recordingPrompter) EnqueueFeedbackPrompt(ctx context.Context, dispatchID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, dispatchID)
	return p.err
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}
