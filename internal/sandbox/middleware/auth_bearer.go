package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/go-marketplace-client/internal/errors"
	"github.com/pribylovaa/go-marketplace-client/internal/transport"
	"github.com/pribylovaa/go-marketplace-client/pkg/log"
)

type ctxKey struct{}

// Verifier проверяет access-токен и возвращает id пользователя.
type Verifier interface {
	VerifyAccess(token string) (string, error)
}

// BearerToken извлекает токен из "Authorization: Bearer <token>" ("" - нет).
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}

// AuthBearer требует валидный bearer-токен: иначе 401/unauthenticated.
// Сырой токен кладётся в контекст (transport.CtxAuthToken), id пользователя - см. UserID.
func AuthBearer(v Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				apierrors.WriteError(w, r, http.StatusUnauthorized, "missing bearer token")
				return
			}

			uid, err := v.VerifyAccess(token)
			if err != nil {
				log.From(r.Context()).Debug("access_token_rejected", slog.String("err", err.Error()))
				apierrors.WriteError(w, r, http.StatusUnauthorized, "access token expired or invalid")
				return
			}

			ctx := transport.WithAuthToken(r.Context(), token)
			ctx = context.WithValue(ctx, ctxKey{}, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID - id пользователя, положенный AuthBearer ("" - нет).
func UserID(ctx context.Context) string {
	uid, _ := ctx.Value(ctxKey{}).(string)
	return uid
}
