package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/invoice-ledger/internal/numbering"
	"github.com/odyssey-erp/invoice-ledger/internal/platform/db"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
	"github.com/odyssey-erp/invoice-ledger/internal/stock"
	"github.com/odyssey-erp/invoice-ledger/internal/tax"
)

const invoiceNumberConstraint = "invoices_invoice_number_key"

// PgRepository provides PostgreSQL backed persistence for invoices.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside one transaction; any error rolls everything back.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const invoiceColumns = `
	id, invoice_number, client_id, issued_by, invoice_date, due_date, intrastate,
	subtotal, origin_tax, destination_tax, cross_border_tax, total_tax, display_rate,
	grand_total, payment_status, payment_note, notes, company, created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanInvoice(row pgx.Row, extra ...any) (Invoice, error) {
	var (
		inv          Invoice
		invoiceDate  time.Time
		dueDate      time.Time
		displayRate  int16
		status       string
		companyBytes []byte
	)
	dest := []any{
		&inv.ID, &inv.InvoiceNumber, &inv.ClientID, &inv.IssuedBy, &invoiceDate, &dueDate, &inv.Intrastate,
		&inv.Subtotal, &inv.Tax.OriginTax, &inv.Tax.DestinationTax, &inv.Tax.CrossBorderTax, &inv.Tax.TotalTax, &displayRate,
		&inv.GrandTotal, &status, &inv.PaymentNote, &inv.Notes, &companyBytes, &inv.CreatedAt, &inv.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Invoice{}, err
	}
	inv.InvoiceDate = shared.NewDate(invoiceDate)
	inv.DueDate = shared.NewDate(dueDate)
	inv.Tax.DisplayRate = tax.Slab(displayRate)
	inv.PaymentStatus = PaymentStatus(status)
	if err := json.Unmarshal(companyBytes, &inv.Company); err != nil {
		return Invoice{}, fmt.Errorf("decode company snapshot: %w", err)
	}
	return inv, nil
}

func loadLines(ctx context.Context, q querier, invoiceID int64) ([]LineRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, line_no, finished_good_id, product_name, quantity, hsn_code,
		       unit_price, tax_slab, line_total, origin_tax, destination_tax, cross_border_tax, batch_label
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_no, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LineRecord
	for rows.Next() {
		var rec LineRecord
		var slab int16
		if err := rows.Scan(&rec.ID, &rec.InvoiceID, &rec.LineNo, &rec.FinishedGoodID, &rec.ProductName,
			&rec.Quantity, &rec.HSNCode, &rec.UnitPrice, &slab, &rec.LineTotal,
			&rec.Tax.OriginTax, &rec.Tax.DestinationTax, &rec.Tax.CrossBorderTax, &rec.BatchLabel); err != nil {
			return nil, err
		}
		rec.TaxSlab = tax.Slab(slab)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func getInvoice(ctx context.Context, q querier, id int64, lock bool) (Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.NewNotFoundError("invoice", id)
		}
		return Invoice{}, err
	}
	records, err := loadLines(ctx, q, id)
	if err != nil {
		return Invoice{}, fmt.Errorf("load invoice lines: %w", err)
	}
	inv.Lines = LinesFromRecords(records)
	return inv, nil
}

// GetInvoice loads an invoice with lines from the normalized rows.
func (r *PgRepository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, r.pool, id, false)
}

// ListInvoices returns one page of invoices with lines from the JSON snapshot.
func (r *PgRepository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if filter.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argPos))
		args = append(args, *filter.ClientID)
		argPos++
	}
	if filter.PaymentStatus != nil {
		conditions = append(conditions, fmt.Sprintf("payment_status = $%d", argPos))
		args = append(args, string(*filter.PaymentStatus))
		argPos++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("invoice_date >= $%d", argPos))
		args = append(args, filter.From.Time)
		argPos++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("invoice_date <= $%d", argPos))
		args = append(args, filter.To.Time)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	query := fmt.Sprintf(`
		SELECT %s, lines_snapshot
		FROM invoices
		%s
		ORDER BY invoice_date DESC, id DESC
		LIMIT $%d OFFSET $%d`, invoiceColumns, whereClause, argPos, argPos+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var snapshot []byte
		inv, err := scanInvoice(rows, &snapshot)
		if err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(snapshot, &inv.Lines); err != nil {
			return nil, 0, fmt.Errorf("decode lines snapshot of %s: %w", inv.InvoiceNumber, err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

// PreviewNumber reports the number the next invoice for companyName on date
// would receive, without consuming the counter.
func (r *PgRepository) PreviewNumber(ctx context.Context, companyName string, date time.Time) (string, error) {
	prefix := numbering.PrefixFor(companyName)
	stem := numbering.Stem(prefix, date)
	seed, err := scanSeed(ctx, r.pool, stem)
	if err != nil {
		return "", err
	}
	var last int64
	err = r.pool.QueryRow(ctx, `
		SELECT last_value FROM invoice_number_counters WHERE prefix = $1 AND period = $2`,
		prefix, numbering.Period(date)).Scan(&last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	return numbering.Format(stem, max(seed, last+1)), nil
}

func scanSeed(ctx context.Context, q querier, stem string) (int64, error) {
	rows, err := q.Query(ctx, `SELECT invoice_number FROM invoices WHERE invoice_number LIKE $1 || '%'`, stem)
	if err != nil {
		return 0, err
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	return numbering.NextFromExisting(stem, numbers), nil
}

// NextInvoiceCounter advances the (prefix, period) counter under its row
// lock. The counter never falls behind numbers already issued.
func (r *txRepo) NextInvoiceCounter(ctx context.Context, prefix, period string) (int64, error) {
	seed, err := scanSeed(ctx, r.tx, prefix+period)
	if err != nil {
		return 0, fmt.Errorf("scan issued numbers: %w", err)
	}
	var next int64
	err = r.tx.QueryRow(ctx, `
		INSERT INTO invoice_number_counters (prefix, period, last_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (prefix, period) DO UPDATE
		SET last_value = GREATEST(invoice_number_counters.last_value + 1, EXCLUDED.last_value),
		    updated_at = NOW()
		RETURNING last_value`, prefix, period, seed).Scan(&next)
	return next, err
}

func (r *txRepo) Stock() stock.Store {
	return stock.NewTxStore(r.tx)
}

func (r *txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, r.tx, id, true)
}

func (r *txRepo) InvoiceHasDispatch(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM dispatches WHERE invoice_id = $1)`, id).Scan(&exists)
	return exists, err
}

func encodeSnapshots(inv Invoice) ([]byte, []byte, error) {
	company, err := json.Marshal(inv.Company)
	if err != nil {
		return nil, nil, err
	}
	lines := inv.Lines
	if lines == nil {
		lines = []Line{}
	}
	snapshot, err := json.Marshal(lines)
	if err != nil {
		return nil, nil, err
	}
	return company, snapshot, nil
}

func (r *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	company, snapshot, err := encodeSnapshots(inv)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `
		INSERT INTO invoices (
			invoice_number, client_id, issued_by, invoice_date, due_date, intrastate,
			subtotal, origin_tax, destination_tax, cross_border_tax, total_tax, display_rate,
			grand_total, payment_status, payment_note, notes, company, lines_snapshot
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`,
		inv.InvoiceNumber, inv.ClientID, inv.IssuedBy, inv.InvoiceDate.Time, inv.DueDate.Time, inv.Intrastate,
		inv.Subtotal, inv.Tax.OriginTax, inv.Tax.DestinationTax, inv.Tax.CrossBorderTax, inv.Tax.TotalTax, int16(inv.Tax.DisplayRate),
		inv.GrandTotal, string(inv.PaymentStatus), inv.PaymentNote, inv.Notes, company, snapshot,
	).Scan(&id)
	if err != nil {
		if name, ok := db.UniqueViolation(err); ok && name == invoiceNumberConstraint {
			return 0, errNumberTaken
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepo) UpdateInvoice(ctx context.Context, inv Invoice) error {
	company, snapshot, err := encodeSnapshots(inv)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `
		UPDATE invoices SET
			client_id = $2, invoice_date = $3, due_date = $4, intrastate = $5,
			subtotal = $6, origin_tax = $7, destination_tax = $8, cross_border_tax = $9,
			total_tax = $10, display_rate = $11, grand_total = $12, notes = $13,
			company = $14, lines_snapshot = $15, updated_at = NOW()
		WHERE id = $1`,
		inv.ID, inv.ClientID, inv.InvoiceDate.Time, inv.DueDate.Time, inv.Intrastate,
		inv.Subtotal, inv.Tax.OriginTax, inv.Tax.DestinationTax, inv.Tax.CrossBorderTax,
		inv.Tax.TotalTax, int16(inv.Tax.DisplayRate), inv.GrandTotal, inv.Notes,
		company, snapshot)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFoundError("invoice", inv.ID)
	}
	return nil
}

func (r *txRepo) ReplaceLines(ctx context.Context, invoiceID int64, records []LineRecord) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM invoice_lines WHERE invoice_id = $1`, invoiceID)
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO invoice_lines (
				invoice_id, line_no, finished_good_id, product_name, quantity, hsn_code, unit_price,
				tax_slab, line_total, origin_tax, destination_tax, cross_border_tax, batch_label
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			invoiceID, rec.LineNo, rec.FinishedGoodID, rec.ProductName, rec.Quantity, rec.HSNCode, rec.UnitPrice,
			int16(rec.TaxSlab), rec.LineTotal, rec.Tax.OriginTax, rec.Tax.DestinationTax, rec.Tax.CrossBorderTax, rec.BatchLabel)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepo) UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, note *string) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE invoices SET payment_status = $2, payment_note = $3, updated_at = NOW()
		WHERE id = $1`, id, string(status), note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFoundError("invoice", id)
	}
	return nil
}

func (r *txRepo) DeleteInvoice(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFoundError("invoice", id)
	}
	return nil
}
