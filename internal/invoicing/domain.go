// Package invoicing issues, edits, settles and deletes sales invoices
// against finished-goods stock.
package invoicing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
	"github.com/odyssey-erp/invoice-ledger/internal/tax"
)

// PaymentStatus tracks settlement. Any status may follow any other.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPartial PaymentStatus = "Partial"
	PaymentPaid    PaymentStatus = "Paid"
)

// IsValid checks if the status is valid.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentPartial, PaymentPaid:
		return true
	default:
		return false
	}
}

// CompanySnapshot freezes the issuing company's profile on the invoice.
type CompanySnapshot struct {
	Name           string `json:"name" validate:"required,max=200"`
	Address        string `json:"address" validate:"max=500"`
	RegistrationID string `json:"registration_id" validate:"max=32"`
	Phone          string `json:"phone" validate:"max=32"`
	BankName       string `json:"bank_name" validate:"max=120"`
	AccountNumber  string `json:"account_number" validate:"max=40"`
	IFSC           string `json:"ifsc" validate:"max=20"`
	Branch         string `json:"branch" validate:"max=120"`
}

// Line is the point-in-time snapshot of an invoice line.
type Line struct {
	FinishedGoodID int64           `json:"finished_good_id"`
	ProductName    string          `json:"product_name"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	HSNCode        string          `json:"hsn_code"`
	TaxSlab        tax.Slab        `json:"tax_slab"`
	LineTotal      decimal.Decimal `json:"line_total"`
	Tax            tax.LineTax     `json:"tax"`
	BatchLabel     string          `json:"batch_label"`
}

// Invoice is the aggregate returned to callers.
type Invoice struct {
	ID            int64           `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	ClientID      int64           `json:"client_id"`
	IssuedBy      int64           `json:"issued_by"`
	InvoiceDate   shared.Date     `json:"invoice_date"`
	DueDate       shared.Date     `json:"due_date"`
	Intrastate    bool            `json:"intrastate"`
	Lines         []Line          `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           tax.Breakdown   `json:"tax"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentNote   *string         `json:"payment_note,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
	Company       CompanySnapshot `json:"company"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LineRecord is the normalized row stored per line.
type LineRecord struct {
	ID             int64
	InvoiceID      int64
	LineNo         int
	FinishedGoodID int64
	ProductName    string
	Quantity       decimal.Decimal
	HSNCode        string
	UnitPrice      decimal.Decimal
	TaxSlab        tax.Slab
	LineTotal      decimal.Decimal
	Tax            tax.LineTax
	BatchLabel     string
}

// Records converts the snapshot lines to normalized rows.
func (inv Invoice) Records() []LineRecord {
	out := make([]LineRecord, len(inv.Lines))
	for i, l := range inv.Lines {
		out[i] = LineRecord{
			InvoiceID:      inv.ID,
			LineNo:         i + 1,
			FinishedGoodID: l.FinishedGoodID,
			ProductName:    l.ProductName,
			Quantity:       l.Quantity,
			HSNCode:        l.HSNCode,
			UnitPrice:      l.UnitPrice,
			TaxSlab:        l.TaxSlab,
			LineTotal:      l.LineTotal,
			Tax:            l.Tax,
			BatchLabel:     l.BatchLabel,
		}
	}
	return out
}

// LinesFromRecords rebuilds snapshot lines from normalized rows.
func LinesFromRecords(records []LineRecord) []Line {
	out := make([]Line, len(records))
	for i, r := range records {
		out[i] = Line{
			FinishedGoodID: r.FinishedGoodID,
			ProductName:    r.ProductName,
			Quantity:       r.Quantity,
			UnitPrice:      r.UnitPrice,
			HSNCode:        r.HSNCode,
			TaxSlab:        r.TaxSlab,
			LineTotal:      r.LineTotal,
			Tax:            r.Tax,
			BatchLabel:     r.BatchLabel,
		}
	}
	return out
}

// ListFilter narrows ListInvoices.
type ListFilter struct {
	ClientID      *int64
	PaymentStatus *PaymentStatus
	From          *shared.Date
	To            *shared.Date
	Page          int
	PerPage       int
}

// ListResult is one page of invoices.
type ListResult struct {
	Invoices   []Invoice         `json:"invoices"`
	Pagination shared.Pagination `json:"pagination"`
}
