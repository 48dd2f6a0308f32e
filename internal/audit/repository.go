package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository reads audit_logs.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const timelineColumns = `id, occurred_at, actor_id, action, entity, entity_id, meta`

// Timeline loads a page of rows and the total match count.
func (r *PgRepository) Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, int, error) {
	where, args := whereClause(filters)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		timelineColumns, where, len(args)-1, len(args))
	rows, err := r.collect(ctx, query, args...)
	return rows, total, err
}

// All loads every matching row, oldest first.
func (r *PgRepository) All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	where, args := whereClause(filters)
	return r.collect(ctx, `SELECT `+timelineColumns+` FROM audit_logs`+where+` ORDER BY occurred_at, id`, args...)
}

func (r *PgRepository) collect(ctx context.Context, query string, args ...any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var out TimelineRow
		var meta []byte
		if err := row.Scan(&out.ID, &out.At, &out.ActorID, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &out.Meta); err != nil {
				return TimelineRow{}, fmt.Errorf("audit: decode meta for %d: %w", out.ID, err)
			}
		}
		return out, nil
	})
}

func whereClause(f TimelineFilters) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
