package stock

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds a Store to an open transaction.
func NewTxStore(tx pgx.Tx) Store {
	return &txStore{tx: tx}
}

func (s *txStore) LockFinishedGoods(ctx context.Context, ids []int64) (map[int64]FinishedGood, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT id, batch_id, batch_label, product_name, available_quantity,
		       unit, unit_price, hsn_code, quality_status, updated_at
		FROM finished_goods
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]FinishedGood, len(ids))
	for rows.Next() {
		var good FinishedGood
		var quality string
		if err := rows.Scan(&good.ID, &good.BatchID, &good.BatchLabel, &good.ProductName,
			&good.AvailableQuantity, &good.Unit, &good.UnitPrice, &good.HSNCode,
			&quality, &good.UpdatedAt); err != nil {
			return nil, err
		}
		good.QualityStatus = QualityStatus(quality)
		out[good.ID] = good
	}
	return out, rows.Err()
}

func (s *txStore) SetAvailable(ctx context.Context, id int64, qty decimal.Decimal) error {
	_, err := s.tx.Exec(ctx, `
		UPDATE finished_goods
		SET available_quantity = $2, updated_at = NOW()
		WHERE id = $1`, id, qty)
	return err
}
