// Package stock keeps finished-goods availability consistent with the
// invoices that reserve it.
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// QualityStatus of a production batch.
type QualityStatus string

const (
	QualityPending  QualityStatus = "pending"
	QualityPassed   QualityStatus = "passed"
	QualityRejected QualityStatus = "rejected"
)

// FinishedGood is a sellable unit of a production batch.
type FinishedGood struct {
	ID                int64           `json:"id"`
	BatchID           int64           `json:"batch_id"`
	BatchLabel        string          `json:"batch_label"`
	ProductName       string          `json:"product_name"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	Unit              string          `json:"unit"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	HSNCode           string          `json:"hsn_code"`
	QualityStatus     QualityStatus   `json:"quality_status"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Line is one reservation request against a finished good.
type Line struct {
	FinishedGoodID int64
	Quantity       decimal.Decimal
}

// totals sums quantities per finished good so repeated products are checked
// against their combined demand.
func totals(lines []Line) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(lines))
	for _, line := range lines {
		out[line.FinishedGoodID] = out[line.FinishedGoodID].Add(line.Quantity)
	}
	return out
}
