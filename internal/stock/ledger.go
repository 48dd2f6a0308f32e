package stock

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// Store is the transactional view over finished-goods rows. Implementations
// run inside the caller's transaction.
type Store interface {
	// LockFinishedGoods locks the given rows in ascending id order and
	// returns their current state. Missing ids are absent from the map.
	LockFinishedGoods(ctx context.Context, ids []int64) (map[int64]FinishedGood, error)
	// SetAvailable overwrites the available quantity of a locked row.
	SetAvailable(ctx context.Context, id int64, qty decimal.Decimal) error
}

// Ledger applies reservations. Every method either mutates all rows or none.
type Ledger struct{}

// Reserve decrements availability for every line after checking all of them.
func (l Ledger) Reserve(ctx context.Context, store Store, lines []Line) (map[int64]FinishedGood, error) {
	return l.apply(ctx, store, nil, lines)
}

// Release returns the quantities of previously reserved lines.
func (l Ledger) Release(ctx context.Context, store Store, lines []Line) error {
	_, err := l.apply(ctx, store, lines, nil)
	return err
}

// Replace releases old and reserves next in one step. When next cannot be
// satisfied nothing is written and the caller's transaction must roll back.
func (l Ledger) Replace(ctx context.Context, store Store, old, next []Line) (map[int64]FinishedGood, error) {
	return l.apply(ctx, store, old, next)
}

func (Ledger) apply(ctx context.Context, store Store, release, reserve []Line) (map[int64]FinishedGood, error) {
	for _, line := range reserve {
		if !line.Quantity.IsPositive() {
			return nil, shared.NewValidationError("quantity", "must be greater than zero")
		}
	}
	returned := totals(release)
	demanded := totals(reserve)

	ids := make([]int64, 0, len(returned)+len(demanded))
	seen := make(map[int64]bool, cap(ids))
	for id := range returned {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range demanded {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[int64]FinishedGood{}, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	goods, err := store.LockFinishedGoods(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("stock: lock finished goods: %w", err)
	}

	next := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		good, ok := goods[id]
		if !ok {
			return nil, shared.NewNotFoundError("finished good", id)
		}
		available := good.AvailableQuantity.Add(returned[id])
		want := demanded[id]
		if available.LessThan(want) {
			return nil, &shared.InsufficientStockError{
				ProductID: id,
				Product:   good.ProductName,
				Requested: want,
				Available: available,
			}
		}
		next[id] = available.Sub(want)
	}

	for _, id := range ids {
		if next[id].Equal(goods[id].AvailableQuantity) {
			continue
		}
		if err := store.SetAvailable(ctx, id, next[id]); err != nil {
			return nil, fmt.Errorf("stock: update finished good %d: %w", id, err)
		}
		good := goods[id]
		good.AvailableQuantity = next[id]
		goods[id] = good
	}
	return goods, nil
}
