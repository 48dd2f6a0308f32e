// Package audithttp serves the audit trail over HTTP.
package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/odyssey-erp/invoice-ledger/internal/audit"
	"github.com/odyssey-erp/invoice-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves audit timeline requests.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-timeline.csv"`)
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// parseFilters reads the query string. "to" is an inclusive calendar date.
func parseFilters(q url.Values) (audit.TimelineFilters, error) {
	var filters audit.TimelineFilters
	if raw := q.Get("from"); raw != "" {
		d, err := shared.ParseDate(raw)
		if err != nil {
			return filters, shared.NewValidationError("from", "must be a date in YYYY-MM-DD format")
		}
		filters.From = d.Time
	}
	if raw := q.Get("to"); raw != "" {
		d, err := shared.ParseDate(raw)
		if err != nil {
			return filters, shared.NewValidationError("to", "must be a date in YYYY-MM-DD format")
		}
		filters.To = d.Time.AddDate(0, 0, 1)
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return filters, shared.NewValidationError("actor_id", "must be a non-negative integer")
		}
		filters.ActorID = &id
	}
	filters.Entity = q.Get("entity")
	filters.EntityID = q.Get("entity_id")
	filters.Action = q.Get("action")
	for _, p := range []struct {
		name string
		dest *int
	}{{"page", &filters.Page}, {"per_page", &filters.PerPage}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filters, shared.NewValidationError(p.name, "must be a non-negative integer")
		}
		*p.dest = n
	}
	return filters, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error("audit request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
