package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/invoice-ledger/internal/platform/db"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// PgRepository provides PostgreSQL backed persistence for dispatches.
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

// WithTx runs fn inside one transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const dispatchColumns = `id, invoice_id, carrier_name, tracking_number, dispatch_date, status,
	created_by, delivered_at, created_at, updated_at`

func scanDispatch(row pgx.Row) (Dispatch, error) {
	var (
		d            Dispatch
		dispatchDate time.Time
		status       int16
	)
	if err := row.Scan(&d.ID, &d.InvoiceID, &d.CarrierName, &d.TrackingNumber, &dispatchDate, &status,
		&d.CreatedBy, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Dispatch{}, err
	}
	d.DispatchDate = shared.NewDate(dispatchDate)
	d.Status = Status(status)
	return d, nil
}

// GetDispatch loads a dispatch by id.
func (r *PgRepository) GetDispatch(ctx context.Context, id int64) (Dispatch, error) {
	d, err := scanDispatch(r.pool.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Dispatch{}, shared.NewNotFoundError("dispatch", id)
	}
	return d, err
}

// ListDispatches returns one page of dispatches, newest first.
func (r *PgRepository) ListDispatches(ctx context.Context, filter ListFilter) ([]Dispatch, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, int16(*filter.Status))
		argPos++
	}
	if filter.InvoiceID != nil {
		conditions = append(conditions, fmt.Sprintf("invoice_id = $%d", argPos))
		args = append(args, *filter.InvoiceID)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM dispatches "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	query := fmt.Sprintf(`SELECT %s FROM dispatches %s ORDER BY dispatch_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		dispatchColumns, whereClause, argPos, argPos+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (r *txRepo) LockInvoice(ctx context.Context, invoiceID int64) error {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewNotFoundError("invoice", invoiceID)
	}
	return err
}

func (r *txRepo) InvoiceHasDispatch(ctx context.Context, invoiceID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM dispatches WHERE invoice_id = $1)`, invoiceID).Scan(&exists)
	return exists, err
}

func (r *txRepo) InsertDispatch(ctx context.Context, d Dispatch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO dispatches (invoice_id, carrier_name, tracking_number, dispatch_date, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		d.InvoiceID, d.CarrierName, d.TrackingNumber, d.DispatchDate.Time, int16(d.Status), d.CreatedBy,
	).Scan(&id)
	if err != nil {
		if name, ok := db.UniqueViolation(err); ok {
			switch name {
			case "dispatches_invoice_id_key":
				return 0, &shared.DuplicateError{Entity: "dispatch", Field: "invoice_id"}
			case "dispatches_tracking_number_key":
				return 0, &shared.DuplicateError{Entity: "dispatch", Field: "tracking_number", Value: d.TrackingNumber}
			}
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepo) LockDispatch(ctx context.Context, id int64) (Dispatch, error) {
	d, err := scanDispatch(r.tx.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Dispatch{}, shared.NewNotFoundError("dispatch", id)
	}
	return d, err
}

func (r *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, deliveredAt *time.Time) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE dispatches
		SET status = $2, delivered_at = COALESCE($3, delivered_at), updated_at = NOW()
		WHERE id = $1`, id, int16(status), deliveredAt)
	return err
}

func (r *txRepo) DeleteDispatch(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM dispatches WHERE id = $1`, id)
	return err
}
