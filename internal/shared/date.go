package shared

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date that accepts "2006-01-02" or RFC3339 on input and
// always renders as "2006-01-02".
type Date struct {
	time.Time
}

// NewDate wraps t truncated to its calendar date.
func NewDate(t time.Time) Date {
	return Date{Time: DateOnly(t)}
}

// MustParseDate parses a "2006-01-02" literal and panics on failure.
func MustParseDate(s string) Date {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return Date{Time: t}
}

// ParseDate parses "2006-01-02" or RFC3339 input into a Date.
func ParseDate(raw string) (Date, error) {
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return Date{}, fmt.Errorf("date %q must use YYYY-MM-DD", raw)
	}
	return NewDate(t), nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if raw == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
