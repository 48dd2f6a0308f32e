package httpx

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

// IdempotencyHeader carries the client supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// ClaimIdempotencyKey registers the request's Idempotency-Key for module. The
// returned release func frees the key again and must be called when the
// operation fails. Requests without the header are not guarded.
func ClaimIdempotencyKey(r *http.Request, store shared.IdempotencyPort, module string, logger *slog.Logger) (func(), error) {
	noop := func() {}
	raw := r.Header.Get(IdempotencyHeader)
	if raw == "" || store == nil {
		return noop, nil
	}
	key, err := shared.ParseIdempotencyKey(raw)
	if err != nil {
		return noop, err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return noop, shared.NewValidationError("", "unreadable request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err := store.CheckAndInsert(r.Context(), key, module, shared.Fingerprint(body)); err != nil {
		return noop, err
	}
	return func() {
		if err := store.Delete(context.WithoutCancel(r.Context()), module, key); err != nil && logger != nil {
			logger.Warn("release idempotency key", slog.String("module", module), slog.Any("error", err))
		}
	}, nil
}
