// Package directory reads the collaborator records the ledger depends on:
// clients and dispatch feedback. Both are owned elsewhere and are read-only
// here.
package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// Client is a buyer the ledger invoices.
type Client struct {
	ID                int64   `json:"id"`
	DisplayName       string  `json:"display_name"`
	TaxRegistrationID *string `json:"tax_registration_id,omitempty"`
	Address           string  `json:"address"`
	Email             *string `json:"email,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	Active            bool    `json:"active"`
}

// TaxID returns the registration id or "" when the client has none.
func (c Client) TaxID() string {
	if c.TaxRegistrationID == nil {
		return ""
	}
	return *c.TaxRegistrationID
}

// Clients looks up clients by id.
type Clients interface {
	GetClient(ctx context.Context, id int64) (Client, error)
}

// Feedback reports whether a dispatch already has feedback.
type Feedback interface {
	HasFeedback(ctx context.Context, dispatchID int64) (bool, error)
}

// Repository implements Clients and Feedback over PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetClient loads a client by id.
func (r *Repository) GetClient(ctx context.Context, id int64) (Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `
		SELECT id, display_name, tax_registration_id, address, email, phone, active
		FROM clients
		WHERE id = $1`, id).
		Scan(&c.ID, &c.DisplayName, &c.TaxRegistrationID, &c.Address, &c.Email, &c.Phone, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, shared.NewNotFoundError("client", id)
		}
		return Client{}, err
	}
	return c, nil
}

// HasFeedback checks the feedback table for a dispatch.
func (r *Repository) HasFeedback(ctx context.Context, dispatchID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM feedback WHERE dispatch_id = $1)`, dispatchID).Scan(&exists)
	return exists, err
}
