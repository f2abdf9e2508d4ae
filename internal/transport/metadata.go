package transport

import (
	"net/http"

	"github.com/google/uuid"
)

// Metadata добавляет в исходящий запрос заголовки:
//   - X-Request-Id (из контекста или новый UUID; кладётся обратно в контекст);
//   - Authorization: Bearer <token> (если токен есть в контексте);
//   - User-Agent (если передан параметром).
//
// Исходный *http.Request не модифицируется.
func Metadata(userAgent string) Decorator {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			ctx := r.Context()

			rid := r.Header.Get("X-Request-Id")
			if rid == "" {
				rid = RequestID(ctx)
			}
			if rid == "" {
				rid = uuid.NewString()
			}
			ctx = WithRequestID(ctx, rid)

			out := r.Clone(ctx)
			out.Header.Set("X-Request-Id", rid)

			if tok := AuthToken(ctx); tok != "" {
				out.Header.Set("Authorization", "Bearer "+tok)
			}
			if userAgent != "" {
				out.Header.Set("User-Agent", userAgent)
			}

			return next.RoundTrip(out)
		})
	}
}
