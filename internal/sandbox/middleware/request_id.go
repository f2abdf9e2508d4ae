package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-marketplace-client/internal/transport"
)

// RequestID обеспечивает наличие X-Request-Id:
//  1. берёт заголовок запроса, если он есть (его ставит клиентский transport.Metadata);
//  2. иначе генерирует UUID;
//  3. кладёт id в заголовки ответа и запроса и в контекст (transport.CtxRequestID).
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
				// errors.WriteError читает id из заголовка запроса.
				r.Header.Set("X-Request-Id", id)
			}
			w.Header().Set("X-Request-Id", id)

			next.ServeHTTP(w, r.WithContext(transport.WithRequestID(r.Context(), id)))
		})
	}
}
