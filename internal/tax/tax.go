// Package tax resolves the tax jurisdiction of a sale and splits line tax
// into origin/destination or cross-border components.
package tax

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// DefaultSellerJurisdiction is the seller's registration state code.
const DefaultSellerJurisdiction = "27"

// Slab is a permitted tax rate in percent.
type Slab int

const (
	Slab0  Slab = 0
	Slab5  Slab = 5
	Slab12 Slab = 12
	Slab18 Slab = 18
	Slab28 Slab = 28
)

// DefaultSlab applies when a line omits its rate.
const DefaultSlab = Slab18

// Slabs lists the permitted rates in ascending order.
var Slabs = []Slab{Slab0, Slab5, Slab12, Slab18, Slab28}

// IsValid reports whether s is one of the permitted rates.
func (s Slab) IsValid() bool {
	switch s {
	case Slab0, Slab5, Slab12, Slab18, Slab28:
		return true
	default:
		return false
	}
}

// Rate returns the slab as a decimal percentage.
func (s Slab) Rate() decimal.Decimal {
	return decimal.NewFromInt(int64(s))
}

// ParseSlab validates a raw rate; nil yields DefaultSlab.
func ParseSlab(raw *int) (Slab, error) {
	if raw == nil {
		return DefaultSlab, nil
	}
	s := Slab(*raw)
	if !s.IsValid() {
		return 0, shared.NewValidationError("tax_slab", fmt.Sprintf("%d is not one of 0, 5, 12, 18, 28", *raw))
	}
	return s, nil
}

// JurisdictionCode returns the two-character state code of a registration
// id, or "" when the id is too short.
func JurisdictionCode(registrationID string) string {
	if len(registrationID) < 2 {
		return ""
	}
	return registrationID[:2]
}

// IsIntrastate reports whether buyer and seller share a jurisdiction. An
// empty or short buyer id is treated as cross-border.
func IsIntrastate(buyerTaxID, sellerCode string) bool {
	if sellerCode == "" {
		sellerCode = DefaultSellerJurisdiction
	}
	buyerCode := JurisdictionCode(buyerTaxID)
	if buyerCode == "" {
		return false
	}
	return buyerCode == sellerCode
}

var (
	hundred    = decimal.NewFromInt(100)
	twoHundred = decimal.NewFromInt(200)
)

// Round2 rounds half-up on the absolute value to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTax holds the rounded tax components of one line.
type LineTax struct {
	OriginTax      decimal.Decimal `json:"origin_tax"`
	DestinationTax decimal.Decimal `json:"destination_tax"`
	CrossBorderTax decimal.Decimal `json:"cross_border_tax"`
}

// Total returns the sum of the components.
func (t LineTax) Total() decimal.Decimal {
	return t.OriginTax.Add(t.DestinationTax).Add(t.CrossBorderTax)
}

// Compute prices tax for a line amount under the given slab.
func Compute(amount decimal.Decimal, slab Slab, intrastate bool) (LineTax, error) {
	if !slab.IsValid() {
		return LineTax{}, shared.NewValidationError("tax_slab", fmt.Sprintf("%d is not one of 0, 5, 12, 18, 28", int(slab)))
	}
	if amount.IsNegative() {
		return LineTax{}, shared.NewValidationError("amount", "must not be negative")
	}
	zero := decimal.Zero
	if slab == Slab0 {
		return LineTax{OriginTax: zero, DestinationTax: zero, CrossBorderTax: zero}, nil
	}
	if intrastate {
		half := Round2(amount.Mul(slab.Rate()).Div(twoHundred))
		return LineTax{OriginTax: half, DestinationTax: half, CrossBorderTax: zero}, nil
	}
	return LineTax{
		OriginTax:      zero,
		DestinationTax: zero,
		CrossBorderTax: Round2(amount.Mul(slab.Rate()).Div(hundred)),
	}, nil
}

// Breakdown is the invoice-level tax summary.
type Breakdown struct {
	OriginTax      decimal.Decimal `json:"origin_tax"`
	DestinationTax decimal.Decimal `json:"destination_tax"`
	CrossBorderTax decimal.Decimal `json:"cross_border_tax"`
	TotalTax       decimal.Decimal `json:"total_tax"`
	// DisplayRate is the highest slab among the lines. It is a display field
	// only; per-line snapshots carry the real breakdown.
	DisplayRate Slab `json:"display_rate"`
}

// Add accumulates an already rounded line into the breakdown.
func (b *Breakdown) Add(line LineTax, slab Slab) {
	b.OriginTax = b.OriginTax.Add(line.OriginTax)
	b.DestinationTax = b.DestinationTax.Add(line.DestinationTax)
	b.CrossBorderTax = b.CrossBorderTax.Add(line.CrossBorderTax)
	b.TotalTax = Round2(b.OriginTax.Add(b.DestinationTax).Add(b.CrossBorderTax))
	if slab > b.DisplayRate {
		b.DisplayRate = slab
	}
}
