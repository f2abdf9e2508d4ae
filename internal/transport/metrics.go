package transport

import (
	"net/http"
	"time"

	"github.com/pribylovaa/go-marketplace-client/internal/metrics"
)

// Metrics учитывает каждый исходящий вызов в счётчике и гистограмме.
// m == nil - декоратор прозрачен.
func Metrics(m *metrics.Metrics) Decorator {
	return func(next http.RoundTripper) http.RoundTripper {
		if m == nil {
			return next
		}

		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)

			status := 0
			if err == nil {
				status = resp.StatusCode
			}
			m.ObserveRequest(r.Method, status, time.Since(start))

			return resp, err
		})
	}
}
