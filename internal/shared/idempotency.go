package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/blake2b"
)

// IdempotencyPort claims and releases request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module, fingerprint string) error
	Delete(ctx context.Context, module, key string) error
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

var (
	// ErrIdempotencyConflict indicates a duplicate key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
	// ErrIdempotencyKeyReuse indicates a key replayed with a different payload.
	ErrIdempotencyKeyReuse = errors.New("idempotency key reused with a different payload")
)

// Fingerprint hashes a request payload for key-reuse detection.
func Fingerprint(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ParseIdempotencyKey validates a client supplied key.
func ParseIdempotencyKey(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", NewValidationError("Idempotency-Key", "must be a UUID")
	}
	return id.String(), nil
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module, fingerprint string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, fingerprint, created_at) VALUES ($1, $2, $3, $4)`, key, module, fingerprint, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return s.conflict(ctx, module, key, fingerprint)
		}
		return err
	}
	return nil
}

func (s *IdempotencyStore) conflict(ctx context.Context, module, key, fingerprint string) error {
	var stored string
	err := s.pool.QueryRow(ctx, `SELECT fingerprint FROM idempotency_keys WHERE module=$1 AND key=$2`, module, key).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("idempotency: load fingerprint: %w", err)
	}
	if fingerprint != "" && stored != fingerprint {
		return ErrIdempotencyKeyReuse
	}
	return ErrIdempotencyConflict
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a module's key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, module, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE module=$1 AND key=$2`, module, key)
	return err
}
