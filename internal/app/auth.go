package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/invoice-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

const bearerPrefix = "Bearer "

var (
	// ErrMissingToken indicates the request carried no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken indicates a token that failed verification.
	ErrInvalidToken = errors.New("invalid token")
)

// ActorClaims are the claims carried by staff access tokens. The subject is
// the numeric actor id.
type ActorClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// TokenService issues and verifies HS256 access tokens.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(secret, issuer string) *TokenService {
	return &TokenService{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for actor valid for ttl.
func (s *TokenService) Issue(actor shared.Actor, ttl time.Duration) (string, error) {
	if actor.ID <= 0 {
		return "", errors.New("actor id must be positive")
	}
	now := s.now()
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(actor.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: actor.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses raw and returns the actor it names.
func (s *TokenService) Verify(raw string) (shared.Actor, error) {
	var claims ActorClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return shared.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, fmt.Errorf("%w: subject must be a positive id", ErrInvalidToken)
	}
	return shared.Actor{ID: id, Name: claims.Name}, nil
}

// ActorMiddleware rejects requests without a valid bearer token and stores
// the token's actor in the request context.
func ActorMiddleware(tokens *TokenService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err == nil {
				var actor shared.Actor
				actor, err = tokens.Verify(raw)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
					return
				}
			}
			if logger != nil {
				logger.Warn("rejected bearer token", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="ledger"`)
			httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "a valid bearer token is required")
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMissingToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if raw == "" {
		return "", ErrMissingToken
	}
	return raw, nil
}
