// Package numbering mints invoice numbers of the form
// <prefix><YYYY><MM><NNN>.
package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Invoice number prefixes, chosen from the issuing company's name.
const (
	PrefixAyurved = "AV"
	PrefixPiyush  = "PE"
	PrefixDefault = "INV"
)

var fold = cases.Fold()

// PrefixFor picks the prefix bucket by case-insensitive substring match.
func PrefixFor(companyName string) string {
	name := fold.String(companyName)
	switch {
	case strings.Contains(name, "ayurved"):
		return PrefixAyurved
	case strings.Contains(name, "piyush"):
		return PrefixPiyush
	default:
		return PrefixDefault
	}
}

// Period returns the YYYYMM component for a date.
func Period(date time.Time) string {
	return fmt.Sprintf("%04d%02d", date.Year(), int(date.Month()))
}

// Stem returns <prefix><YYYY><MM>.
func Stem(prefix string, date time.Time) string {
	return prefix + Period(date)
}

// Format renders the final number; the counter is zero-padded to three
// digits and grows wider past 999.
func Format(stem string, counter int64) string {
	return fmt.Sprintf("%s%03d", stem, counter)
}

// Suffix extracts the numeric counter of a number sharing stem.
func Suffix(stem, number string) (int64, bool) {
	if !strings.HasPrefix(number, stem) {
		return 0, false
	}
	rest := number[len(stem):]
	if rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextFromExisting scans numbers sharing stem and returns max suffix + 1,
// or 1 when none match.
func NextFromExisting(stem string, existing []string) int64 {
	var max int64
	for _, number := range existing {
		if n, ok := Suffix(stem, number); ok && n > max {
			max = n
		}
	}
	return max + 1
}

// Counter atomically advances the per-(prefix, period) sequence. It runs
// inside the caller's transaction so a rolled back invoice releases nothing
// observable except, at worst, a gap.
type Counter interface {
	NextInvoiceCounter(ctx context.Context, prefix, period string) (int64, error)
}

// Sequencer mints invoice numbers from a Counter.
type Sequencer struct{}

// Next mints the number for a company and invoice date.
func (Sequencer) Next(ctx context.Context, counter Counter, companyName string, date time.Time) (string, error) {
	prefix := PrefixFor(companyName)
	n, err := counter.NextInvoiceCounter(ctx, prefix, Period(date))
	if err != nil {
		return "", fmt.Errorf("numbering: advance counter: %w", err)
	}
	return Format(Stem(prefix, date), n), nil
}
