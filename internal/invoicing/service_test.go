package invoicing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/invoice-ledger/internal/platform/cache"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

const (
	clientIntrastate int64 = 1
	clientInterstate int64 = 2
	clientNoTaxID    int64 = 3
	clientInactive   int64 = 4
)

type fixture struct {
	repo    *memoryRepo
	audit   *recordingAudit
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	repo.addGood(10, "Ashwagandha Churna", "100")
	repo.addGood(11, "Triphala Tablets", "100")

	clients := memoryClients{
		clientIntrastate: {ID: clientIntrastate, DisplayName: "Local Traders", TaxRegistrationID: strPtr("27ABCDE1234F1Z5"), Active: true},
		clientInterstate: {ID: clientInterstate, DisplayName: "Northern Traders", TaxRegistrationID: strPtr("09XXXXX0000X1Z5"), Active: true},
		clientNoTaxID:    {ID: clientNoTaxID, DisplayName: "Walk-in", Active: true},
		clientInactive:   {ID: clientInactive, DisplayName: "Closed Co", TaxRegistrationID: strPtr("27ZZZZZ0000Z1Z5"), Active: false},
	}
	audit := &recordingAudit{}
	clock := func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) }
	svc := NewService(repo, clients, Config{
		DefaultCompany: CompanySnapshot{Name: "Piyush Enterprises", RegistrationID: "27AAAPL1234C1Z5"},
	}, nil, WithAudit(audit), WithClock(clock))
	return &fixture{repo: repo, audit: audit, service: svc}
}

func ctxWithActor() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: 7, Name: "clerk"})
}

func lineReq(goodID int64, qty, price string, slab *int) LineInput {
	unitPrice := decimal.RequireFromString(price)
	return LineInput{
		FinishedGoodID: goodID,
		Quantity:       decimal.RequireFromString(qty),
		UnitPrice:      &unitPrice,
		HSNCode:        "3004",
		TaxSlab:        slab,
	}
}

func createReq(clientID int64, lines ...LineInput) CreateInvoiceRequest {
	return CreateInvoiceRequest{
		ClientID:    clientID,
		InvoiceDate: shared.MustParseDate("2026-03-10"),
		Lines:       lines,
	}
}

func slab(n int) *int { return &n }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

func TestCreateInvoiceIntrastateSplit(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "10", "100", slab(18))))
	require.NoError(t, err)

	assert.Equal(t, "PE202603001", inv.InvoiceNumber)
	assert.True(t, inv.Intrastate)
	assertMoney(t, "1000.00", inv.Subtotal)
	assertMoney(t, "90.00", inv.Tax.OriginTax)
	assertMoney(t, "90.00", inv.Tax.DestinationTax)
	assertMoney(t, "0.00", inv.Tax.CrossBorderTax)
	assertMoney(t, "180.00", inv.Tax.TotalTax)
	assertMoney(t, "1180.00", inv.GrandTotal)
	assert.Equal(t, PaymentPending, inv.PaymentStatus)
	assert.Equal(t, int64(7), inv.IssuedBy)
	assert.Equal(t, "2026-04-09", inv.DueDate.Format(shared.DateLayout))

	require.Len(t, inv.Lines, 1)
	assert.Equal(t, "Ashwagandha Churna", inv.Lines[0].ProductName)
	assert.Equal(t, "B-Ashwagandha Churna", inv.Lines[0].BatchLabel)
	assert.Equal(t, "90", f.repo.available(10))
	assert.Equal(t, []string{"invoice.create"}, f.audit.actions())
}

func TestCreateInvoiceInterstateIsCrossBorder(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientInterstate, lineReq(10, "10", "100", slab(18))))
	require.NoError(t, err)

	assert.False(t, inv.Intrastate)
	assertMoney(t, "0.00", inv.Tax.OriginTax)
	assertMoney(t, "0.00", inv.Tax.DestinationTax)
	assertMoney(t, "180.00", inv.Tax.CrossBorderTax)
	assertMoney(t, "1180.00", inv.GrandTotal)
}

func TestCreateInvoiceWithoutTaxIDIsCrossBorder(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientNoTaxID, lineReq(10, "1", "50", slab(12))))
	require.NoError(t, err)

	assert.False(t, inv.Intrastate)
	assertMoney(t, "6.00", inv.Tax.CrossBorderTax)
}

func TestCreateInvoiceDefaultsSlabAndMixesRates(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate,
		lineReq(10, "2", "50", slab(5)),
		lineReq(11, "3", "33.333", nil),
	))
	require.NoError(t, err)

	require.Len(t, inv.Lines, 2)
	assert.EqualValues(t, 18, inv.Lines[1].TaxSlab)
	assertMoney(t, "100.00", inv.Lines[1].LineTotal)
	assertMoney(t, "200.00", inv.Subtotal)
	// 5% of 100 plus 18% of 100, split evenly.
	assertMoney(t, "11.50", inv.Tax.OriginTax)
	assertMoney(t, "11.50", inv.Tax.DestinationTax)
	assertMoney(t, "223.00", inv.GrandTotal)
	assert.EqualValues(t, 18, inv.Tax.DisplayRate)
}

func TestCreateInvoiceCompanyPrefixAndJurisdiction(t *testing.T) {
	f := newFixture(t)
	req := createReq(clientIntrastate, lineReq(10, "1", "100", slab(18)))
	req.Company = &CompanySnapshot{Name: "Shree Ayurveda Labs", RegistrationID: "09AAACS0000A1Z1"}

	inv, err := f.service.CreateInvoice(ctxWithActor(), req)
	require.NoError(t, err)

	assert.Equal(t, "AV202603001", inv.InvoiceNumber)
	assert.False(t, inv.Intrastate, "seller registered in 09 sells cross-border to 27")
}

func TestCreateInvoiceRoundsSubtotalOnce(t *testing.T) {
	f := newFixture(t)

	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate,
		lineReq(10, "1", "0.005", slab(18)),
		lineReq(11, "1", "0.005", slab(18)),
	))
	require.NoError(t, err)

	assertMoney(t, "0.01", inv.Subtotal)
	assertMoney(t, "0.00", inv.Tax.TotalTax)
	assertMoney(t, "0.01", inv.GrandTotal)
	assertMoney(t, "0.01", inv.Lines[0].LineTotal)
}

func TestCreateInvoiceTaxesUnroundedLineAmount(t *testing.T) {
	f := newFixture(t)

	// 28% of 0.0175 is 0.0049. Taxing the rounded 0.02 would give 0.01.
	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientInterstate, lineReq(10, "1", "0.0175", slab(28))))
	require.NoError(t, err)

	assertMoney(t, "0.00", inv.Tax.CrossBorderTax)
	assertMoney(t, "0.02", inv.Subtotal)
	assertMoney(t, "0.02", inv.GrandTotal)
}

func TestCreateInvoiceReturnsCommittedInvoiceWhenReadBackFails(t *testing.T) {
	f := newFixture(t)
	f.repo.getErr = errors.New("read replica down")

	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "2", "100", nil)))
	require.NoError(t, err)

	assert.NotZero(t, inv.ID)
	assert.Equal(t, "PE202603001", inv.InvoiceNumber)
	assertMoney(t, "236.00", inv.GrandTotal)
	assert.Len(t, f.repo.invoices, 1)
	assert.Equal(t, "98", f.repo.available(10))
}

func TestCreateInvoiceNumbersIncrease(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "1", "10", nil)))
	require.NoError(t, err)
	second, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "1", "10", nil)))
	require.NoError(t, err)

	assert.Equal(t, "PE202603001", first.InvoiceNumber)
	assert.Equal(t, "PE202603002", second.InvoiceNumber)
}

func TestCreateInvoiceExhaustsStock(t *testing.T) {
	f := newFixture(t)
	f.repo.addGood(20, "Brahmi Oil", "5")

	_, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(20, "5", "10", nil)))
	require.NoError(t, err)
	assert.Equal(t, "0", f.repo.available(20))

	_, err = f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(20, "1", "10", nil)))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(20), stockErr.ProductID)
	assert.Equal(t, "0", f.repo.available(20))
	assert.Len(t, f.repo.invoices, 1)
}

func TestCreateInvoiceInsufficientOnSecondLineReservesNothing(t *testing.T) {
	f := newFixture(t)
	f.repo.addGood(20, "Brahmi Oil", "1")

	_, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate,
		lineReq(10, "5", "10", nil),
		lineReq(20, "2", "10", nil),
	))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	assert.Equal(t, "100", f.repo.available(10))
	assert.Equal(t, "1", f.repo.available(20))
	assert.Empty(t, f.repo.invoices)
}

func TestCreateInvoiceConcurrentReservations(t *testing.T) {
	f := newFixture(t)
	f.repo.addGood(20, "Brahmi Oil", "5")

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]bool)
		failed  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(20, "1", "10", nil)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, shared.ErrInsufficientStock)
				failed++
				return
			}
			assert.False(t, numbers[inv.InvoiceNumber], "duplicate number %s", inv.InvoiceNumber)
			numbers[inv.InvoiceNumber] = true
		}()
	}
	wg.Wait()

	assert.Len(t, numbers, 5)
	assert.Equal(t, 5, failed)
	assert.Equal(t, "0", f.repo.available(20))
}

func TestCreateInvoiceValidation(t *testing.T) {
	cases := []struct {
		name  string
		req   func() CreateInvoiceRequest
		field string
	}{
		{
			name:  "missing client",
			req:   func() CreateInvoiceRequest { return createReq(0, lineReq(10, "1", "1", nil)) },
			field: "client_id",
		},
		{
			name:  "no lines",
			req:   func() CreateInvoiceRequest { return createReq(clientIntrastate) },
			field: "lines",
		},
		{
			name:  "zero quantity",
			req:   func() CreateInvoiceRequest { return createReq(clientIntrastate, lineReq(10, "0", "1", nil)) },
			field: "lines[0].quantity",
		},
		{
			name:  "negative price",
			req:   func() CreateInvoiceRequest { return createReq(clientIntrastate, lineReq(10, "1", "-1", nil)) },
			field: "lines[0].unit_price",
		},
		{
			name: "missing price",
			req: func() CreateInvoiceRequest {
				l := lineReq(10, "5", "1", nil)
				l.UnitPrice = nil
				return createReq(clientIntrastate, l)
			},
			field: "lines[0].unit_price",
		},
		{
			name: "unknown slab",
			req: func() CreateInvoiceRequest {
				return createReq(clientIntrastate, lineReq(10, "1", "1", nil), lineReq(11, "1", "1", slab(7)))
			},
			field: "lines[1].tax_slab",
		},
		{
			name: "missing hsn",
			req: func() CreateInvoiceRequest {
				l := lineReq(10, "1", "1", nil)
				l.HSNCode = ""
				return createReq(clientIntrastate, l)
			},
			field: "lines[0].hsn_code",
		},
		{
			name: "due before invoice date",
			req: func() CreateInvoiceRequest {
				r := createReq(clientIntrastate, lineReq(10, "1", "1", nil))
				due := shared.MustParseDate("2026-03-01")
				r.DueDate = &due
				return r
			},
			field: "due_date",
		},
		{
			name:  "inactive client",
			req:   func() CreateInvoiceRequest { return createReq(clientInactive, lineReq(10, "1", "1", nil)) },
			field: "client_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service.CreateInvoice(ctxWithActor(), tc.req())
			require.Error(t, err)
			var vErr *shared.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
			assert.Equal(t, "100", f.repo.available(10))
			assert.Zero(t, f.repo.txCount)
		})
	}
}

func TestCreateInvoiceUnknownClientOrGood(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateInvoice(ctxWithActor(), createReq(99, lineReq(10, "1", "1", nil)))
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(999, "1", "1", nil)))
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, f.repo.invoices)
}

func TestCreateInvoiceRetriesNumberCollision(t *testing.T) {
	f := newFixture(t)
	f.repo.collisions = maxNumberAttempts - 1

	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "1", "10", nil)))
	require.NoError(t, err)

	assert.Equal(t, maxNumberAttempts, f.repo.txCount)
	assert.NotEmpty(t, inv.InvoiceNumber)
	assert.Equal(t, "99", f.repo.available(10))
}

func TestCreateInvoiceGivesUpAfterCollisions(t *testing.T) {
	f := newFixture(t)
	f.repo.collisions = maxNumberAttempts

	_, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "1", "10", nil)))
	require.Error(t, err)

	assert.ErrorIs(t, err, shared.ErrDuplicate)
	assert.Equal(t, "100", f.repo.available(10))
	assert.Empty(t, f.audit.actions())
}

func TestCreateInvoiceStorageFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.repo.insertErr = errors.New("connection reset")

	_, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "4", "10", nil)))
	require.Error(t, err)

	assert.Equal(t, "100", f.repo.available(10))
	assert.Empty(t, f.repo.counters["PE202603"])
}

func TestEditInvoiceMovesReservations(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "3", "100", nil)))
	require.NoError(t, err)
	require.Equal(t, "97", f.repo.available(10))

	edit := createReq(clientIntrastate, lineReq(11, "2", "100", nil))
	for i := 0; i < 2; i++ {
		updated, err := f.service.EditInvoice(ctxWithActor(), inv.ID, edit)
		require.NoError(t, err)
		assert.Equal(t, inv.InvoiceNumber, updated.InvoiceNumber)
		require.Len(t, updated.Lines, 1)
		assert.Equal(t, int64(11), updated.Lines[0].FinishedGoodID)
		assertMoney(t, "236.00", updated.GrandTotal)

		assert.Equal(t, "100", f.repo.available(10))
		assert.Equal(t, "98", f.repo.available(11))
	}
}

func TestEditInvoiceKeepsPaymentState(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "1", "100", nil)))
	require.NoError(t, err)
	_, err = f.service.SetPaymentStatus(ctxWithActor(), inv.ID, PaymentStatusRequest{Status: PaymentPartial, Note: strPtr("advance")})
	require.NoError(t, err)

	updated, err := f.service.EditInvoice(ctxWithActor(), inv.ID, createReq(clientInterstate, lineReq(10, "2", "100", nil)))
	require.NoError(t, err)

	assert.Equal(t, PaymentPartial, updated.PaymentStatus)
	require.NotNil(t, updated.PaymentNote)
	assert.Equal(t, "advance", *updated.PaymentNote)
	assert.False(t, updated.Intrastate)
	assert.Equal(t, "98", f.repo.available(10))
}

func TestEditInvoiceKeepsIssuedCompany(t *testing.T) {
	f := newFixture(t)
	req := createReq(clientIntrastate, lineReq(10, "1", "100", slab(18)))
	req.Company = &CompanySnapshot{Name: "Old Co Ayurveda", RegistrationID: "09AAACS0000A1Z1"}
	inv, err := f.service.CreateInvoice(ctxWithActor(), req)
	require.NoError(t, err)
	require.False(t, inv.Intrastate)

	updated, err := f.service.EditInvoice(ctxWithActor(), inv.ID, createReq(clientIntrastate, lineReq(10, "2", "100", slab(18))))
	require.NoError(t, err)

	assert.Equal(t, "AV202603001", updated.InvoiceNumber)
	assert.Equal(t, "Old Co Ayurveda", updated.Company.Name)
	assert.False(t, updated.Intrastate)
	assertMoney(t, "36.00", updated.Tax.CrossBorderTax)
	assertMoney(t, "0.00", updated.Tax.OriginTax)

	stored, err := f.service.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Old Co Ayurveda", stored.Company.Name)
}

func TestEditInvoiceWithCompanyReplacesSnapshot(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "1", "100", slab(18))))
	require.NoError(t, err)
	require.True(t, inv.Intrastate)

	edit := createReq(clientIntrastate, lineReq(10, "1", "100", slab(18)))
	edit.Company = &CompanySnapshot{Name: "Piyush Enterprises", RegistrationID: "09AAAPL1234C1Z5"}
	updated, err := f.service.EditInvoice(ctxWithActor(), inv.ID, edit)
	require.NoError(t, err)

	assert.Equal(t, "09AAAPL1234C1Z5", updated.Company.RegistrationID)
	assert.False(t, updated.Intrastate)
	assert.Equal(t, inv.InvoiceNumber, updated.InvoiceNumber)
}

func TestEditInvoiceInsufficientKeepsEverything(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "40", "1", nil)))
	require.NoError(t, err)

	// 60 remain plus the 40 released by the edit; 101 is one too many.
	_, err = f.service.EditInvoice(ctxWithActor(), inv.ID, createReq(clientIntrastate, lineReq(10, "101", "1", nil)))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	assert.Equal(t, "60", f.repo.available(10))
	stored, err := f.service.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "40", stored.Lines[0].Quantity.String())

	_, err = f.service.EditInvoice(ctxWithActor(), inv.ID, createReq(clientIntrastate, lineReq(10, "100", "1", nil)))
	require.NoError(t, err)
	assert.Equal(t, "0", f.repo.available(10))
}

func TestDispatchFreezesInvoice(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "5", "10", nil)))
	require.NoError(t, err)
	f.repo.dispatched[inv.ID] = true

	_, err = f.service.EditInvoice(ctxWithActor(), inv.ID, createReq(clientIntrastate, lineReq(10, "1", "10", nil)))
	assert.ErrorIs(t, err, shared.ErrEditBlocked)

	err = f.service.DeleteInvoice(ctxWithActor(), inv.ID)
	assert.ErrorIs(t, err, shared.ErrDeleteBlocked)

	assert.Equal(t, "95", f.repo.available(10))

	paid, err := f.service.SetPaymentStatus(ctxWithActor(), inv.ID, PaymentStatusRequest{Status: PaymentPaid})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)
}

func TestDeleteInvoiceReleasesStock(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate,
		lineReq(10, "5", "10", nil),
		lineReq(11, "2.5", "10", nil),
	))
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteInvoice(ctxWithActor(), inv.ID))

	assert.Equal(t, "100", f.repo.available(10))
	assert.Equal(t, "100", f.repo.available(11))
	_, err = f.service.GetInvoice(context.Background(), inv.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, []string{"invoice.create", "invoice.delete"}, f.audit.actions())

	err = f.service.DeleteInvoice(ctxWithActor(), inv.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetPaymentStatusAnyOrder(t *testing.T) {
	f := newFixture(t)
	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "1", "10", nil)))
	require.NoError(t, err)

	for _, status := range []PaymentStatus{PaymentPaid, PaymentPending, PaymentPartial, PaymentPaid} {
		updated, err := f.service.SetPaymentStatus(ctxWithActor(), inv.ID, PaymentStatusRequest{Status: status})
		require.NoError(t, err)
		assert.Equal(t, status, updated.PaymentStatus)
	}

	_, err = f.service.SetPaymentStatus(ctxWithActor(), inv.ID, PaymentStatusRequest{Status: "Overdue"})
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "status", vErr.Field)

	_, err = f.service.SetPaymentStatus(ctxWithActor(), 404, PaymentStatusRequest{Status: PaymentPaid})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListInvoicesFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "1", "10", nil)))
		require.NoError(t, err)
	}
	other, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientInterstate, lineReq(10, "1", "10", nil)))
	require.NoError(t, err)
	_, err = f.service.SetPaymentStatus(ctxWithActor(), other.ID, PaymentStatusRequest{Status: PaymentPaid})
	require.NoError(t, err)

	client := clientIntrastate
	res, err := f.service.ListInvoices(context.Background(), ListFilter{ClientID: &client, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, res.Invoices, 2)
	assert.Equal(t, shared.Pagination{Page: 1, PerPage: 2, Total: 3, TotalPages: 2}, res.Pagination)

	paid := PaymentPaid
	res, err = f.service.ListInvoices(context.Background(), ListFilter{PaymentStatus: &paid})
	require.NoError(t, err)
	require.Len(t, res.Invoices, 1)
	assert.Equal(t, other.ID, res.Invoices[0].ID)

	from := shared.MustParseDate("2026-04-01")
	res, err = f.service.ListInvoices(context.Background(), ListFilter{From: &from})
	require.NoError(t, err)
	assert.NotNil(t, res.Invoices)
	assert.Empty(t, res.Invoices)
}

func TestListInvoicesRejectsBadFilters(t *testing.T) {
	f := newFixture(t)

	bogus := PaymentStatus("Overdue")
	_, err := f.service.ListInvoices(context.Background(), ListFilter{PaymentStatus: &bogus})
	assert.ErrorIs(t, err, shared.ErrValidation)

	from := shared.MustParseDate("2026-03-10")
	to := shared.MustParseDate("2026-03-01")
	_, err = f.service.ListInvoices(context.Background(), ListFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestStockConservationAcrossLifecycle(t *testing.T) {
	f := newFixture(t)
	initial := map[int64]decimal.Decimal{10: decimal.NewFromInt(100), 11: decimal.NewFromInt(100)}

	a, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "12", "1", nil), lineReq(11, "3", "1", nil)))
	require.NoError(t, err)
	b, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientInterstate, lineReq(10, "7.5", "1", nil)))
	require.NoError(t, err)
	_, err = f.service.EditInvoice(ctxWithActor(), a.ID, createReq(clientIntrastate, lineReq(11, "20", "1", nil), lineReq(11, "1", "1", nil)))
	require.NoError(t, err)
	_, err = f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "500", "1", nil)))
	require.Error(t, err)
	require.NoError(t, f.service.DeleteInvoice(ctxWithActor(), b.ID))

	reserved := map[int64]decimal.Decimal{}
	for _, inv := range f.repo.invoices {
		for _, l := range inv.Lines {
			reserved[l.FinishedGoodID] = reserved[l.FinishedGoodID].Add(l.Quantity)
		}
	}
	for id, start := range initial {
		got := f.repo.goods[id].AvailableQuantity.Add(reserved[id])
		assert.True(t, start.Equal(got), "good %d: available+reserved = %s, want %s", id, got, start)
	}
}

func TestGetInvoiceServedFromCacheUntilWrite(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	WithCache(cache.NewVersioned(client, "invoices", time.Minute))(f.service)

	inv, err := f.service.CreateInvoice(ctxWithActor(), createReq(clientIntrastate, lineReq(10, "1", "10", nil)))
	require.NoError(t, err)
	reads := f.repo.reads

	got, err := f.service.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, reads, f.repo.reads)
	assert.Equal(t, inv.InvoiceNumber, got.InvoiceNumber)
	assertMoney(t, "11.80", got.GrandTotal)

	_, err = f.service.SetPaymentStatus(ctxWithActor(), inv.ID, PaymentStatusRequest{Status: PaymentPaid})
	require.NoError(t, err)
	got, err = f.service.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, got.PaymentStatus)
}
