package oidc

import (
	"context"
	"errors"
	"net/http"

	"github.com/ovaphlow/englishbuds/internal/user"
)

type claimsKey struct{}

// WithClaims stores verified claims on the context.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims placed by Authenticate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// Authenticate verifies the bearer token and rejects tokens whose version
// is older than the account's (revoked by a global sign-out).
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "")
			return
		}
		claims, err := h.svc.ParseAccessToken(token)
		if err != nil {
			h.logger.Debugw("reject token", "err", err)
			writeError(w, http.StatusUnauthorized, "invalid_token", "")
			return
		}
		v, err := h.userSvc.GetMinimalAuthView(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				writeError(w, http.StatusUnauthorized, "invalid_token", "")
				return
			}
			h.logger.Errorw("load user for token", "user_id", claims.Subject, "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		if v.Version != claims.Version {
			writeError(w, http.StatusUnauthorized, "invalid_token", "token revoked")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
