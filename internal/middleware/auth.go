package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/shopbot/backend/internal/service/auth"
	"github.com/zhouzirui/shopbot/backend/pkg/utils"
)

type operatorKey struct{}

// TokenParser verifies bearer tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// RequireOperator rejects requests without a valid bearer token. Browsers
// cannot set headers on websocket upgrades, so a "token" query parameter is
// accepted as well.
func RequireOperator(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), operatorKey{}, claims.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Operator returns the authenticated operator name, if any.
func Operator(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}

func bearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
