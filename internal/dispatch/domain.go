// Package dispatch tracks the shipment of an invoice through a forward-only
// status progression.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// Status is the dispatch progress. The numeric order is the transition order.
type Status int16

const (
	StatusReady     Status = 0
	StatusInTransit Status = 1
	StatusDelivered Status = 2
)

var statusNames = map[Status]string{
	StatusReady:     "Ready",
	StatusInTransit: "InTransit",
	StatusDelivered: "Delivered",
}

// ErrStatusUnchanged rejects an update to the current status.
var ErrStatusUnchanged = fmt.Errorf("%w: status is unchanged", shared.ErrValidation)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// ParseStatus accepts a status name.
func ParseStatus(raw string) (Status, error) {
	for s, name := range statusNames {
		if name == raw {
			return s, nil
		}
	}
	return 0, shared.NewValidationError("status", "must be one of [Ready InTransit Delivered]")
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("status must be a string: %w", err)
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Transition checks a move from current to target. Skipping forward is
// allowed; Delivered is terminal.
func Transition(current, target Status) error {
	if !target.IsValid() {
		return shared.NewValidationError("status", "must be one of [Ready InTransit Delivered]")
	}
	switch {
	case target == current:
		return ErrStatusUnchanged
	case target < current:
		return fmt.Errorf("%w: %s to %s", shared.ErrInvalidTransition, current, target)
	default:
		return nil
	}
}

// Dispatch is the shipment record of one invoice.
type Dispatch struct {
	ID             int64       `json:"id"`
	InvoiceID      int64       `json:"invoice_id"`
	CarrierName    string      `json:"carrier_name"`
	TrackingNumber string      `json:"tracking_number"`
	DispatchDate   shared.Date `json:"dispatch_date"`
	Status         Status      `json:"status"`
	CreatedBy      int64       `json:"created_by"`
	DeliveredAt    *time.Time  `json:"delivered_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	// PromptFeedback is set on Delivered dispatches that have no feedback yet.
	PromptFeedback bool `json:"prompt_feedback"`
}

// CreateDispatchRequest is the payload of createDispatch.
type CreateDispatchRequest struct {
	InvoiceID      int64       `json:"invoice_id" validate:"required,gt=0"`
	CarrierName    string      `json:"carrier_name" validate:"required,min=2,max=50"`
	TrackingNumber string      `json:"tracking_number" validate:"required,alphanum,max=64"`
	DispatchDate   shared.Date `json:"dispatch_date" validate:"required,notfuture"`
}

// UpdateStatusRequest is the payload of updateDispatchStatus.
type UpdateStatusRequest struct {
	Status *Status `json:"status" validate:"required"`
}

// ListFilter narrows ListDispatches.
type ListFilter struct {
	Status    *Status
	InvoiceID *int64
	Page      int
	PerPage   int
}

// ListResult is one page of dispatches.
type ListResult struct {
	Dispatches []Dispatch        `json:"dispatches"`
	Pagination shared.Pagination `json:"pagination"`
}
