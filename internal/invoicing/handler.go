package invoicing

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/invoice-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

const idempotencyModule = "invoice.create"

// Handler exposes the invoice API.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency shared.IdempotencyPort
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idempotency shared.IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.edit)
		r.Patch("/{id}/payment-status", h.setPaymentStatus)
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	release, err := httpx.ClaimIdempotencyKey(r, h.idempotency, idempotencyModule, h.logger)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req CreateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		release()
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), req)
	if err != nil {
		release()
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/invoices/"+strconv.FormatInt(inv.ID, 10))
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req EditInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.EditInvoice(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req PaymentStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.SetPaymentStatus(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteInvoice(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func parseListFilter(q url.Values) (ListFilter, error) {
	var filter ListFilter
	if raw := q.Get("client_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filter, shared.NewValidationError("client_id", "must be a positive integer")
		}
		filter.ClientID = &id
	}
	if raw := q.Get("payment_status"); raw != "" {
		status := PaymentStatus(raw)
		filter.PaymentStatus = &status
	}
	for _, p := range []struct {
		name string
		dest **shared.Date
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		d, err := shared.ParseDate(raw)
		if err != nil {
			return filter, shared.NewValidationError(p.name, "must be a date in YYYY-MM-DD format")
		}
		*p.dest = &d
	}
	var err error
	if filter.Page, err = intParam(q, "page"); err != nil {
		return filter, err
	}
	if filter.PerPage, err = intParam(q, "per_page"); err != nil {
		return filter, err
	}
	return filter, nil
}

func intParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, shared.NewValidationError(name, "must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error("invoice request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
