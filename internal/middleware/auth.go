package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/corvino/tripsync/internal/domain"
	"github.com/corvino/tripsync/internal/protocol"
)

// Authenticator resolves a bearer token to the caller's identity. It returns
// domain.ErrUnauthorized for unknown or expired tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity placed in ctx by NewBearerAuth.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}

// NewBearerAuth returns a middleware that resolves the Authorization bearer
// token and stores the identity in the request context. With optional set, a
// request without a token passes through unauthenticated; a token that is
// present but invalid is always rejected.
func NewBearerAuth(auth Authenticator, optional bool) func(http.Handler) http.Handler {
	return newAuth(auth, optional, bearerToken)
}

// NewSocketAuth is NewBearerAuth for WebSocket upgrades. Browsers cannot set
// headers on an upgrade, so the token may also come from the access_token
// query parameter. A token is always required.
func NewSocketAuth(auth Authenticator) func(http.Handler) http.Handler {
	return newAuth(auth, false, func(r *http.Request) (string, bool) {
		if token, ok := bearerToken(r); ok {
			return token, true
		}
		token := strings.TrimSpace(r.URL.Query().Get("access_token"))
		return token, token != ""
	})
}

func newAuth(auth Authenticator, optional bool, extract func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extract(r)
			if !ok {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}

			id, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
					return
				}
				writeError(w, http.StatusInternalServerError, "internal_error", "authentication unavailable")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: protocol.ErrorDetail{Code: code, Message: msg}})
}
