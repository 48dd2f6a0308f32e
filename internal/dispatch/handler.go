package dispatch

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/invoice-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

const idempotencyModule = "dispatch.create"

// Handler exposes the dispatch API.
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

// MountRoutes registers dispatch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/dispatches", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Patch("/{id}/status", h.updateStatus)
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	release, err := httpx.ClaimIdempotencyKey(r, h.idempotency, idempotencyModule, h.logger)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req CreateDispatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		release()
		h.fail(w, r, err)
		return
	}
	d, err := h.service.CreateDispatch(r.Context(), req)
	if err != nil {
		release()
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/dispatches/"+strconv.FormatInt(d.ID, 10))
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.service.GetDispatch(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.ListDispatches(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.service.UpdateStatus(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteDispatch(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseListFilter(q url.Values) (ListFilter, error) {
	var filter ListFilter
	if raw := q.Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	if raw := q.Get("invoice_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filter, shared.NewValidationError("invoice_id", "must be a positive integer")
		}
		filter.InvoiceID = &id
	}
	for name, dest := range map[string]*int{"page": &filter.Page, "per_page": &filter.PerPage} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, shared.NewValidationError(name, "must be a non-negative integer")
		}
		*dest = n
	}
	return filter, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error("dispatch request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
