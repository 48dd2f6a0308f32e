package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert invoice: %w", &pgconn.PgError{Code: "23505", ConstraintName: "invoices_invoice_number_key"})
	name, ok := UniqueViolation(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "invoices_invoice_number_key", name)

	_, ok = UniqueViolation(&pgconn.PgError{Code: "23503"})
	assert.False(t, ok)

	_, ok = UniqueViolation(errors.New("plain"))
	assert.False(t, ok)
}
