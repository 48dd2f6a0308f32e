package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/invoice-ledger/internal/directory"
	"github.com/odyssey-erp/invoice-ledger/internal/observability"
	"github.com/odyssey-erp/invoice-ledger/internal/platform/cache"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// Repository is the persistence port of the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDispatch(ctx context.Context, id int64) (Dispatch, error)
	ListDispatches(ctx context.Context, filter ListFilter) ([]Dispatch, int, error)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	// LockInvoice locks the invoice row so the dispatch gate cannot race
	// with an invoice edit or delete.
	LockInvoice(ctx context.Context, invoiceID int64) error
	InvoiceHasDispatch(ctx context.Context, invoiceID int64) (bool, error)
	InsertDispatch(ctx context.Context, d Dispatch) (int64, error)
	LockDispatch(ctx context.Context, id int64) (Dispatch, error)
	UpdateStatus(ctx context.Context, id int64, status Status, deliveredAt *time.Time) error
	DeleteDispatch(ctx context.Context, id int64) error
}

// Prompter schedules a feedback request for a delivered dispatch.
type Prompter interface {
	EnqueueFeedbackPrompt(ctx context.Context, dispatchID int64) error
}

// Service runs the dispatch state machine.
type Service struct {
	repo     Repository
	feedback directory.Feedback
	validate *validator.Validate
	clock    shared.Clock
	cache    *cache.Versioned
	audit    shared.AuditPort
	metrics  *observability.Metrics
	prompter Prompter
	logger   *slog.Logger
}

// Option customises the Service.
type Option func(*Service)

// WithCache enables the read cache.
func WithCache(c *cache.Versioned) Option { return func(s *Service) { s.cache = c } }

// WithAudit records mutations to the audit trail.
func WithAudit(a shared.AuditPort) Option { return func(s *Service) { s.audit = a } }

// WithMetrics counts status transitions.
func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithPrompter enqueues feedback prompts on delivery.
func WithPrompter(p Prompter) Option { return func(s *Service) { s.prompter = p } }

// WithClock overrides time.Now.
func WithClock(c shared.Clock) Option { return func(s *Service) { s.clock = c } }

// NewService constructs the dispatch service.
func NewService(repo Repository, feedback directory.Feedback, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, feedback: feedback, clock: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.validate = shared.NewValidator(s.clock)
	return s
}

// CreateDispatch records the shipment of an invoice. From here on the
// invoice can no longer be edited or deleted.
func (s *Service) CreateDispatch(ctx context.Context, req CreateDispatchRequest) (Dispatch, error) {
	req.CarrierName = strings.TrimSpace(req.CarrierName)
	req.TrackingNumber = strings.TrimSpace(req.TrackingNumber)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return Dispatch{}, shared.TranslateValidation(err)
	}

	var id int64
	var created Dispatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockInvoice(ctx, req.InvoiceID); err != nil {
			return err
		}
		exists, err := tx.InvoiceHasDispatch(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		if exists {
			return &shared.DuplicateError{Entity: "dispatch", Field: "invoice_id", Value: strconv.FormatInt(req.InvoiceID, 10)}
		}
		created = Dispatch{
			InvoiceID:      req.InvoiceID,
			CarrierName:    req.CarrierName,
			TrackingNumber: req.TrackingNumber,
			DispatchDate:   shared.NewDate(req.DispatchDate.Time),
			Status:         StatusReady,
			CreatedBy:      shared.ActorID(ctx),
		}
		id, err = tx.InsertDispatch(ctx, created)
		created.ID = id
		return err
	})
	if err != nil {
		return Dispatch{}, fmt.Errorf("create dispatch: %w", err)
	}

	s.afterWrite(ctx, "create", id, map[string]any{
		"invoice_id":      req.InvoiceID,
		"tracking_number": req.TrackingNumber,
	})
	return s.reload(ctx, created), nil
}

// UpdateStatus moves a dispatch forward. Reaching Delivered stamps the
// delivery time and prompts for feedback when none exists.
func (s *Service) UpdateStatus(ctx context.Context, id int64, req UpdateStatusRequest) (Dispatch, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return Dispatch{}, shared.TranslateValidation(err)
	}
	target := *req.Status
	var from Status
	var updated Dispatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockDispatch(ctx, id)
		if err != nil {
			return err
		}
		if err := Transition(current.Status, target); err != nil {
			return err
		}
		from = current.Status
		var deliveredAt *time.Time
		if target == StatusDelivered {
			now := s.clock().UTC()
			deliveredAt = &now
		}
		if err := tx.UpdateStatus(ctx, id, target, deliveredAt); err != nil {
			return err
		}
		current.Status = target
		current.DeliveredAt = deliveredAt
		updated = current
		return nil
	})
	if err != nil {
		return Dispatch{}, err
	}

	s.metrics.DispatchTransition(target.String())
	s.afterWrite(ctx, "status", id, map[string]any{"from": from.String(), "to": target.String()})

	d := s.reload(ctx, updated)
	if d.PromptFeedback && s.prompter != nil {
		if err := s.prompter.EnqueueFeedbackPrompt(ctx, id); err != nil {
			s.logger.Warn("enqueue feedback prompt", slog.Int64("dispatch_id", id), slog.Any("error", err))
		}
	}
	return d, nil
}

// DeleteDispatch removes a dispatch in any status, which makes its invoice
// editable again.
func (s *Service) DeleteDispatch(ctx context.Context, id int64) error {
	var invoiceID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockDispatch(ctx, id)
		if err != nil {
			return err
		}
		invoiceID = current.InvoiceID
		return tx.DeleteDispatch(ctx, id)
	})
	if err != nil {
		return err
	}
	s.afterWrite(ctx, "delete", id, map[string]any{"invoice_id": invoiceID})
	return nil
}

// GetDispatch loads one dispatch.
func (s *Service) GetDispatch(ctx context.Context, id int64) (Dispatch, error) {
	var d Dispatch
	key, err := s.cache.BuildKey(ctx, "get", strconv.FormatInt(id, 10))
	if err != nil {
		s.logger.Warn("dispatch cache key", slog.Any("error", err))
		d, err = s.repo.GetDispatch(ctx, id)
	} else {
		err = s.cache.FetchJSON(ctx, key, &d, func(ctx context.Context) (any, error) {
			return s.repo.GetDispatch(ctx, id)
		})
	}
	if err != nil {
		return Dispatch{}, err
	}
	return s.withPrompt(ctx, d)
}

// ListDispatches returns a filtered page of dispatches.
func (s *Service) ListDispatches(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return ListResult{}, shared.NewValidationError("status", "must be one of [Ready InTransit Delivered]")
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)

	load := func(ctx context.Context) (any, error) {
		items, total, err := s.repo.ListDispatches(ctx, filter)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []Dispatch{}
		}
		return ListResult{Dispatches: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
	}

	var out ListResult
	key, err := s.cache.BuildKey(ctx, "list", listKey(filter))
	if err != nil {
		s.logger.Warn("dispatch cache key", slog.Any("error", err))
		var res any
		if res, err = load(ctx); err == nil {
			out = res.(ListResult)
		}
	} else {
		err = s.cache.FetchJSON(ctx, key, &out, load)
	}
	if err != nil {
		return ListResult{}, err
	}
	for i := range out.Dispatches {
		if out.Dispatches[i], err = s.withPrompt(ctx, out.Dispatches[i]); err != nil {
			return ListResult{}, err
		}
	}
	return out, nil
}

// reload reads a committed dispatch back. The written copy is returned when
// the read fails so a committed write is never reported as failed.
func (s *Service) reload(ctx context.Context, written Dispatch) Dispatch {
	d, err := s.GetDispatch(ctx, written.ID)
	if err == nil {
		return d
	}
	s.logger.Warn("reload dispatch", slog.Int64("dispatch_id", written.ID), slog.Any("error", err))
	if d, err = s.withPrompt(ctx, written); err != nil {
		return written
	}
	return d
}

// withPrompt derives PromptFeedback from live feedback state; it is never
// cached.
func (s *Service) withPrompt(ctx context.Context, d Dispatch) (Dispatch, error) {
	d.PromptFeedback = false
	if d.Status != StatusDelivered || s.feedback == nil {
		return d, nil
	}
	has, err := s.feedback.HasFeedback(ctx, d.ID)
	if err != nil {
		return Dispatch{}, fmt.Errorf("check feedback: %w", err)
	}
	d.PromptFeedback = !has
	return d, nil
}

func listKey(f ListFilter) string {
	key := fmt.Sprintf("p%d:n%d", f.Page, f.PerPage)
	if f.Status != nil {
		key += ":s" + strconv.Itoa(int(*f.Status))
	}
	if f.InvoiceID != nil {
		key += ":i" + strconv.FormatInt(*f.InvoiceID, 10)
	}
	return key
}

func (s *Service) afterWrite(ctx context.Context, op string, id int64, meta map[string]any) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("dispatch cache bump", slog.Any("error", err))
	}
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorID(ctx),
		Action:   "dispatch." + op,
		Entity:   "dispatch",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.clock(),
	}); err != nil {
		s.logger.Error("record dispatch audit", slog.Int64("dispatch_id", id), slog.Any("error", err))
	}
}
