package invoicing

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// LineInput is a requested invoice line.
type LineInput struct {
	FinishedGoodID int64            `json:"finished_good_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal  `json:"quantity"`
	UnitPrice      *decimal.Decimal `json:"unit_price" validate:"required"`
	HSNCode        string           `json:"hsn_code" validate:"required,max=16"`
	TaxSlab        *int             `json:"tax_slab"`
}

// CreateInvoiceRequest is the payload of createInvoice.
type CreateInvoiceRequest struct {
	ClientID    int64            `json:"client_id" validate:"required,gt=0"`
	InvoiceDate shared.Date      `json:"invoice_date" validate:"required"`
	DueDate     *shared.Date     `json:"due_date,omitempty"`
	Lines       []LineInput      `json:"lines" validate:"required,min=1,max=200,dive"`
	Notes       *string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Company     *CompanySnapshot `json:"company,omitempty"`
}

// EditInvoiceRequest is the payload of editInvoice. It re-validates exactly
// like create; the invoice number is kept.
type EditInvoiceRequest = CreateInvoiceRequest

// PaymentStatusRequest is the payload of setPaymentStatus.
type PaymentStatusRequest struct {
	Status PaymentStatus `json:"status" validate:"required,oneof=Pending Partial Paid"`
	Note   *string       `json:"note,omitempty" validate:"omitempty,max=1000"`
}
