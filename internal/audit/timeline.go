package audit

import (
	"time"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// TimelineFilters narrows the audit timeline. Zero values do not filter.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  *int64
	Entity   string
	EntityID string
	Action   string
	Page     int
	PerPage  int
}

// TimelineRow is one recorded mutation.
type TimelineRow struct {
	ID       int64          `json:"id"`
	At       time.Time      `json:"at"`
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta"`
}

// Result is a page of the timeline.
type Result struct {
	Rows       []TimelineRow     `json:"rows"`
	Pagination shared.Pagination `json:"pagination"`
}
