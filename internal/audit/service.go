// Package audit reads back the trail written by shared.AuditLogger.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// MaxExportRange bounds the window a single export may cover.
const MaxExportRange = 90 * 24 * time.Hour

// Repository loads audit rows.
type Repository interface {
	Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, int, error)
	All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
}

// Service coordinates audit timeline queries.
type Service struct {
	repo Repository
}

// NewService constructs the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns a page of audit rows, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	filters, err := normalize(filters)
	if err != nil {
		return Result{}, err
	}
	filters.Page, filters.PerPage = shared.NormalizePage(filters.Page, filters.PerPage)
	offset := (filters.Page - 1) * filters.PerPage
	rows, total, err := s.repo.Timeline(ctx, filters, filters.PerPage, offset)
	if err != nil {
		return Result{}, err
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return Result{Rows: rows, Pagination: shared.NewPagination(filters.Page, filters.PerPage, total)}, nil
}

// Export returns every row matching filters. The window must be bounded.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	filters, err := normalize(filters)
	if err != nil {
		return nil, err
	}
	if filters.From.IsZero() || filters.To.IsZero() {
		return nil, shared.NewValidationError("from", "export requires both from and to")
	}
	if filters.To.Sub(filters.From) > MaxExportRange {
		return nil, shared.NewValidationError("to", "export range must not exceed 90 days")
	}
	return s.repo.All(ctx, filters)
}

func normalize(f TimelineFilters) (TimelineFilters, error) {
	f.Entity = strings.TrimSpace(f.Entity)
	f.EntityID = strings.TrimSpace(f.EntityID)
	f.Action = strings.TrimSpace(f.Action)
	if f.EntityID != "" && f.Entity == "" {
		return f, shared.NewValidationError("entity", "required when entity_id is set")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, shared.NewValidationError("from", "must not be after to")
	}
	return f, nil
}
