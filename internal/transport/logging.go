package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/go-marketplace-client/pkg/log"
	"github.com/pribylovaa/go-marketplace-client/pkg/redact"
)

// Logging - логирование исходящих HTTP-вызовов.
// Поведение:
//   - добавляет поля request_id/method/path, прокладывает обогащённый логгер в контекст (pkg/log);
//   - пишет одну финальную запись уровня Info: msg="http_client", status, dur
//     (Warn - при транспортной ошибке).
//
// Безопасность: не логирует тела; bearer-токен - только отпечатком (pkg/redact).
func Logging(base *slog.Logger) Decorator {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			ctx := r.Context()

			l := base.With(
				slog.String("request_id", r.Header.Get("X-Request-Id")),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			if tok := AuthToken(ctx); tok != "" {
				l = l.With(slog.String("token", redact.Token(tok)))
			}

			resp, err := next.RoundTrip(r.WithContext(log.Into(ctx, l)))
			dur := time.Since(start)

			if err != nil {
				l.Warn("http_client",
					slog.String("err", err.Error()),
					slog.Duration("dur", dur),
				)
				return nil, err
			}

			l.Info("http_client",
				slog.Int("status", resp.StatusCode),
				slog.Duration("dur", dur),
			)

			return resp, nil
		})
	}
}
