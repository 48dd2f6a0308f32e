package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

type stubRepo struct {
	rows       []TimelineRow
	total      int
	lastFilter TimelineFilters
	limit      int
	offset     int
	allCalls   int
}

func (s *stubRepo) Timeline(ctx context.Context, f TimelineFilters, limit, offset int) ([]TimelineRow, int, error) {
	s.lastFilter, s.limit, s.offset = f, limit, offset
	return s.rows, s.total, nil
}

func (s *stubRepo) All(ctx context.Context, f TimelineFilters) ([]TimelineRow, error) {
	s.lastFilter = f
	s.allCalls++
	return s.rows, nil
}

func day(s string) time.Time { return shared.MustParseDate(s).Time }

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{{ID: 3}, {ID: 2}}, total: 5}
	svc := NewService(repo)

	res, err := svc.Timeline(context.Background(), TimelineFilters{Entity: " invoice ", Page: 2, PerPage: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, repo.limit)
	assert.Equal(t, 2, repo.offset)
	assert.Equal(t, "invoice", repo.lastFilter.Entity)
	assert.Equal(t, shared.Pagination{Page: 2, PerPage: 2, Total: 5, TotalPages: 3}, res.Pagination)
	assert.Len(t, res.Rows, 2)
}

func TestTimelineDefaultsAndEmpty(t *testing.T) {
	repo := &stubRepo{}
	res, err := NewService(repo).Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Equal(t, 20, repo.limit)
	assert.Equal(t, 0, repo.offset)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
}

func TestTimelineValidation(t *testing.T) {
	svc := NewService(&stubRepo{})
	cases := map[string]TimelineFilters{
		"entity": {EntityID: "5"},
		"from":   {From: day("2026-03-10"), To: day("2026-03-01")},
	}
	for field, f := range cases {
		_, err := svc.Timeline(context.Background(), f)
		var vErr *shared.ValidationError
		require.ErrorAs(t, err, &vErr, field)
		assert.Equal(t, field, vErr.Field)
	}
}

func TestExportRequiresBoundedWindow(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{{ID: 1}}}
	svc := NewService(repo)

	_, err := svc.Export(context.Background(), TimelineFilters{From: day("2026-01-01")})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Export(context.Background(), TimelineFilters{From: day("2025-01-01"), To: day("2026-01-01")})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Zero(t, repo.allCalls)

	rows, err := svc.Export(context.Background(), TimelineFilters{From: day("2026-03-01"), To: day("2026-03-31")})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestWriteCSV(t *testing.T) {
	at := time.Date(2026, 3, 15, 9, 30, 0, 0, time.FixedZone("IST", 19800))
	data, err := WriteCSV([]TimelineRow{{
		ID: 9, At: at, ActorID: 3, Action: "invoice.create", Entity: "invoice", EntityID: "41",
		Meta: map[string]any{"invoice_number": "PE202603001"},
	}})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{"9", "2026-03-15T04:00:00Z", "3", "invoice.create", "invoice", "41", `{"invoice_number":"PE202603001"}`}, records[1])
}
