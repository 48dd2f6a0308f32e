package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoice-ledger/internal/directory"
	"github.com/odyssey-erp/invoice-ledger/internal/numbering"
	"github.com/odyssey-erp/invoice-ledger/internal/observability"
	"github.com/odyssey-erp/invoice-ledger/internal/platform/cache"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
	"github.com/odyssey-erp/invoice-ledger/internal/stock"
	"github.com/odyssey-erp/invoice-ledger/internal/tax"
)

// maxNumberAttempts bounds retries when a minted number collides with an
// existing invoice.
const maxNumberAttempts = 3

// errNumberTaken is returned by InsertInvoice on an invoice_number collision.
var errNumberTaken = errors.New("invoice number already taken")

// Repository is the persistence port of the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	numbering.Counter
	Stock() stock.Store
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	InvoiceHasDispatch(ctx context.Context, id int64) (bool, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	ReplaceLines(ctx context.Context, invoiceID int64, records []LineRecord) error
	UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, note *string) error
	DeleteInvoice(ctx context.Context, id int64) error
}

// Config carries the issuing defaults.
type Config struct {
	SellerJurisdiction string
	DefaultDueDays     int
	DefaultCompany     CompanySnapshot
}

// Service orchestrates the invoice lifecycle.
type Service struct {
	repo      Repository
	clients   directory.Clients
	ledger    stock.Ledger
	sequencer numbering.Sequencer
	cfg       Config
	validate  *validator.Validate
	clock     shared.Clock
	cache     *cache.Versioned
	audit     shared.AuditPort
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Option customises the Service.
type Option func(*Service)

// WithCache enables the read cache.
func WithCache(c *cache.Versioned) Option { return func(s *Service) { s.cache = c } }

// WithAudit records mutations to the audit trail.
func WithAudit(a shared.AuditPort) Option { return func(s *Service) { s.audit = a } }

// WithMetrics counts committed mutations.
func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides time.Now.
func WithClock(c shared.Clock) Option { return func(s *Service) { s.clock = c } }

// NewService constructs the invoice service.
func NewService(repo Repository, clients directory.Clients, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if cfg.DefaultDueDays <= 0 {
		cfg.DefaultDueDays = 30
	}
	if cfg.SellerJurisdiction == "" {
		cfg.SellerJurisdiction = tax.DefaultSellerJurisdiction
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:    repo,
		clients: clients,
		cfg:     cfg,
		clock:   time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validate = shared.NewValidator(s.clock)
	return s
}

// draft is a validated, priced invoice waiting for stock and a number.
type draft struct {
	invoice     Invoice
	clientTaxID string
}

func (d draft) stockLines() []stock.Line {
	out := make([]stock.Line, len(d.invoice.Lines))
	for i, l := range d.invoice.Lines {
		out[i] = stock.Line{FinishedGoodID: l.FinishedGoodID, Quantity: l.Quantity}
	}
	return out
}

// withGoods fills product snapshots from the locked finished goods.
func (d draft) withGoods(goods map[int64]stock.FinishedGood) Invoice {
	inv := d.invoice
	inv.Lines = append([]Line(nil), d.invoice.Lines...)
	for i := range inv.Lines {
		good := goods[inv.Lines[i].FinishedGoodID]
		inv.Lines[i].ProductName = good.ProductName
		inv.Lines[i].BatchLabel = good.BatchLabel
	}
	return inv
}

func stockLinesOf(inv Invoice) []stock.Line {
	return draft{invoice: inv}.stockLines()
}

// sellerJurisdiction prefers the company registration prefix when it is a
// two-digit state code.
func (s *Service) sellerJurisdiction(company CompanySnapshot) string {
	code := tax.JurisdictionCode(company.RegistrationID)
	if len(code) == 2 && isDigit(code[0]) && isDigit(code[1]) {
		return code
	}
	return s.cfg.SellerJurisdiction
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// prepare validates the request, resolves the client and prices every line
// under the requested company, or the default one.
func (s *Service) prepare(ctx context.Context, req CreateInvoiceRequest) (draft, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return draft{}, shared.TranslateValidation(err)
	}
	company := s.cfg.DefaultCompany
	if req.Company != nil {
		company = *req.Company
	}
	if company.Name == "" {
		return draft{}, shared.NewValidationError("company.name", "is required")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return draft{}, fmt.Errorf("load client: %w", err)
	}
	if !client.Active {
		return draft{}, shared.NewValidationError("client_id", "client is inactive")
	}

	invoiceDate := shared.NewDate(req.InvoiceDate.Time)
	dueDate := shared.NewDate(invoiceDate.AddDate(0, 0, s.cfg.DefaultDueDays))
	if req.DueDate != nil && !req.DueDate.IsZero() {
		dueDate = shared.NewDate(req.DueDate.Time)
		if dueDate.Before(invoiceDate.Time) {
			return draft{}, shared.NewValidationError("due_date", "must not be before invoice_date")
		}
	}

	inv := Invoice{
		ClientID:      client.ID,
		IssuedBy:      shared.ActorID(ctx),
		InvoiceDate:   invoiceDate,
		DueDate:       dueDate,
		PaymentStatus: PaymentPending,
		Notes:         req.Notes,
		Lines:         make([]Line, 0, len(req.Lines)),
	}
	for i, in := range req.Lines {
		field := "lines[" + strconv.Itoa(i) + "]"
		if !in.Quantity.IsPositive() {
			return draft{}, shared.NewValidationError(field+".quantity", "must be greater than zero")
		}
		if in.UnitPrice == nil {
			return draft{}, shared.NewValidationError(field+".unit_price", "is required")
		}
		if in.UnitPrice.IsNegative() {
			return draft{}, shared.NewValidationError(field+".unit_price", "must not be negative")
		}
		slab, err := tax.ParseSlab(in.TaxSlab)
		if err != nil {
			var vErr *shared.ValidationError
			if errors.As(err, &vErr) {
				return draft{}, shared.NewValidationError(field+".tax_slab", vErr.Reason)
			}
			return draft{}, err
		}
		inv.Lines = append(inv.Lines, Line{
			FinishedGoodID: in.FinishedGoodID,
			Quantity:       in.Quantity,
			UnitPrice:      *in.UnitPrice,
			HSNCode:        in.HSNCode,
			TaxSlab:        slab,
		})
	}
	return s.price(draft{invoice: inv, clientTaxID: client.TaxID()}, company)
}

// price taxes the draft under company's seller jurisdiction. Each line is
// taxed on its unrounded amount and the subtotal is rounded once; LineTotal
// is the rounded amount kept for display.
func (s *Service) price(d draft, company CompanySnapshot) (draft, error) {
	inv := d.invoice
	inv.Company = company
	inv.Intrastate = tax.IsIntrastate(d.clientTaxID, s.sellerJurisdiction(company))
	inv.Lines = append([]Line(nil), d.invoice.Lines...)

	var breakdown tax.Breakdown
	subtotal := decimal.Zero
	for i := range inv.Lines {
		line := &inv.Lines[i]
		amount := line.Quantity.Mul(line.UnitPrice)
		lineTax, err := tax.Compute(amount, line.TaxSlab, inv.Intrastate)
		if err != nil {
			return draft{}, err
		}
		line.LineTotal = tax.Round2(amount)
		line.Tax = lineTax
		breakdown.Add(lineTax, line.TaxSlab)
		subtotal = subtotal.Add(amount)
	}
	inv.Subtotal = tax.Round2(subtotal)
	inv.Tax = breakdown
	inv.GrandTotal = tax.Round2(inv.Subtotal.Add(breakdown.TotalTax))
	d.invoice = inv
	return d, nil
}

// reload reads a committed invoice back. The written copy is returned when
// the read fails so a committed write is never reported as failed.
func (s *Service) reload(ctx context.Context, written Invoice) Invoice {
	inv, err := s.GetInvoice(ctx, written.ID)
	if err != nil {
		s.logger.Warn("reload invoice", slog.Int64("invoice_id", written.ID), slog.Any("error", err))
		return written
	}
	return inv
}

// CreateInvoice reserves stock, mints a number and persists the invoice in
// one transaction.
func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (Invoice, error) {
	d, err := s.prepare(ctx, req)
	if err != nil {
		return Invoice{}, err
	}

	var created Invoice
	for attempt := 1; ; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			goods, err := s.ledger.Reserve(ctx, tx.Stock(), d.stockLines())
			if err != nil {
				return err
			}
			inv := d.withGoods(goods)
			number, err := s.sequencer.Next(ctx, tx, inv.Company.Name, inv.InvoiceDate.Time)
			if err != nil {
				return err
			}
			inv.InvoiceNumber = number
			id, err := tx.InsertInvoice(ctx, inv)
			if err != nil {
				return err
			}
			inv.ID = id
			if err := tx.ReplaceLines(ctx, id, inv.Records()); err != nil {
				return fmt.Errorf("insert lines: %w", err)
			}
			created = inv
			return nil
		})
		if errors.Is(err, errNumberTaken) && attempt < maxNumberAttempts {
			s.logger.Warn("invoice number collision, retrying", slog.Int("attempt", attempt))
			continue
		}
		break
	}
	if err != nil {
		return Invoice{}, s.fail("create", err)
	}

	s.afterWrite(ctx, "create", created.ID, map[string]any{
		"invoice_number": created.InvoiceNumber,
		"grand_total":    created.GrandTotal.StringFixed(2),
	})
	return s.reload(ctx, created), nil
}

// EditInvoice replaces lines and reservations of an undispatched invoice.
// Without a company in the request the snapshot captured at issue is kept.
func (s *Service) EditInvoice(ctx context.Context, id int64, req EditInvoiceRequest) (Invoice, error) {
	d, err := s.prepare(ctx, req)
	if err != nil {
		return Invoice{}, err
	}

	var edited Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		pending := d
		if req.Company == nil && current.Company != pending.invoice.Company {
			if pending, err = s.price(pending, current.Company); err != nil {
				return err
			}
		}
		dispatched, err := tx.InvoiceHasDispatch(ctx, id)
		if err != nil {
			return err
		}
		if dispatched {
			return fmt.Errorf("invoice %s: %w", current.InvoiceNumber, shared.ErrEditBlocked)
		}
		goods, err := s.ledger.Replace(ctx, tx.Stock(), stockLinesOf(current), pending.stockLines())
		if err != nil {
			return err
		}
		next := pending.withGoods(goods)
		next.ID = current.ID
		next.InvoiceNumber = current.InvoiceNumber
		next.IssuedBy = current.IssuedBy
		next.PaymentStatus = current.PaymentStatus
		next.PaymentNote = current.PaymentNote
		if err := tx.UpdateInvoice(ctx, next); err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, id, next.Records()); err != nil {
			return err
		}
		edited = next
		return nil
	})
	if err != nil {
		return Invoice{}, s.fail("edit", err)
	}

	s.afterWrite(ctx, "edit", id, nil)
	return s.reload(ctx, edited), nil
}

// SetPaymentStatus records settlement progress. Dispatch does not gate it.
func (s *Service) SetPaymentStatus(ctx context.Context, id int64, req PaymentStatusRequest) (Invoice, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return Invoice{}, shared.TranslateValidation(err)
	}
	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.UpdatePaymentStatus(ctx, id, req.Status, req.Note); err != nil {
			return err
		}
		current.PaymentStatus = req.Status
		current.PaymentNote = req.Note
		updated = current
		return nil
	})
	if err != nil {
		return Invoice{}, s.fail("payment_status", err)
	}

	s.afterWrite(ctx, "payment_status", id, map[string]any{"status": string(req.Status)})
	return s.reload(ctx, updated), nil
}

// DeleteInvoice releases stock and removes an undispatched invoice.
func (s *Service) DeleteInvoice(ctx context.Context, id int64) error {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		number = current.InvoiceNumber
		dispatched, err := tx.InvoiceHasDispatch(ctx, id)
		if err != nil {
			return err
		}
		if dispatched {
			return fmt.Errorf("invoice %s: %w", current.InvoiceNumber, shared.ErrDeleteBlocked)
		}
		if err := s.ledger.Release(ctx, tx.Stock(), stockLinesOf(current)); err != nil {
			return err
		}
		return tx.DeleteInvoice(ctx, id)
	})
	if err != nil {
		return s.fail("delete", err)
	}
	s.afterWrite(ctx, "delete", id, map[string]any{"invoice_number": number})
	return nil
}

// GetInvoice loads one invoice from its normalized rows.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	key, err := s.cache.BuildKey(ctx, "get", strconv.FormatInt(id, 10))
	if err != nil {
		s.logger.Warn("invoice cache key", slog.Any("error", err))
		return s.repo.GetInvoice(ctx, id)
	}
	var inv Invoice
	err = s.cache.FetchJSON(ctx, key, &inv, func(ctx context.Context) (any, error) {
		return s.repo.GetInvoice(ctx, id)
	})
	return inv, err
}

// ListInvoices returns a filtered page built from the JSON snapshots.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.PaymentStatus != nil && !filter.PaymentStatus.IsValid() {
		return ListResult{}, shared.NewValidationError("payment_status", "must be one of [Pending Partial Paid]")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(filter.From.Time) {
		return ListResult{}, shared.NewValidationError("to", "must not be before from")
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)

	load := func(ctx context.Context) (any, error) {
		items, total, err := s.repo.ListInvoices(ctx, filter)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []Invoice{}
		}
		return ListResult{Invoices: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
	}

	key, err := s.cache.BuildKey(ctx, "list", listKey(filter))
	if err != nil {
		s.logger.Warn("invoice cache key", slog.Any("error", err))
		res, err := load(ctx)
		if err != nil {
			return ListResult{}, err
		}
		return res.(ListResult), nil
	}
	var out ListResult
	if err := s.cache.FetchJSON(ctx, key, &out, load); err != nil {
		return ListResult{}, err
	}
	return out, nil
}

func listKey(f ListFilter) string {
	key := fmt.Sprintf("p%d:n%d", f.Page, f.PerPage)
	if f.ClientID != nil {
		key += ":c" + strconv.FormatInt(*f.ClientID, 10)
	}
	if f.PaymentStatus != nil {
		key += ":s" + string(*f.PaymentStatus)
	}
	if f.From != nil {
		key += ":f" + f.From.Format(shared.DateLayout)
	}
	if f.To != nil {
		key += ":t" + f.To.Format(shared.DateLayout)
	}
	return key
}

func (s *Service) fail(op string, err error) error {
	if errors.Is(err, shared.ErrInsufficientStock) {
		s.metrics.StockRejected()
	}
	if errors.Is(err, errNumberTaken) {
		return fmt.Errorf("%s invoice: %w", op, &shared.DuplicateError{Entity: "invoice", Field: "invoice_number"})
	}
	return err
}

func (s *Service) afterWrite(ctx context.Context, op string, id int64, meta map[string]any) {
	s.metrics.InvoiceOp(op)
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("invoice cache bump", slog.Any("error", err))
	}
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorID(ctx),
		Action:   "invoice." + op,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.clock(),
	}); err != nil {
		s.logger.Error("record invoice audit", slog.Int64("invoice_id", id), slog.Any("error", err))
	}
}
