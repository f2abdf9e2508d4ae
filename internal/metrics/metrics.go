// metrics - Prometheus-метрики клиента: HTTP-вызовы, протокол обновления
// токенов и состояние realtime-канала.
//
// Все методы безопасны на nil-получателе: компоненты без метрик просто
// передают nil.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketplace"

// Результаты обновления токенов.
const (
	RefreshOK        = "ok"
	RefreshFailed    = "failed"
	RefreshNoToken   = "no_token"
	RefreshCoalesced = "coalesced"
)

// Причины повторной отправки запроса.
const (
	RetryRefreshed  = "refreshed"
	RetryStaleToken = "stale_token"
)

// Результаты попыток переподключения.
const (
	ReconnectOK     = "ok"
	ReconnectFailed = "failed"
	ReconnectGaveUp = "gave_up"
)

type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	refreshes      *prometheus.CounterVec
	refreshWaiters prometheus.Gauge
	retries        *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	realtimeState  prometheus.Gauge
}

// New регистрирует метрики в reg. reg == nil - prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Outbound HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Outbound HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "refresh_total",
			Help:      "Token refresh outcomes.",
		}, []string{"result"}),
		refreshWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "refresh_waiters",
			Help:      "Requests currently queued behind an in-flight refresh.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "retries_total",
			Help:      "Requests resent after an authentication failure.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Realtime reconnect attempts by outcome.",
		}, []string{"result"}),
		realtimeState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "state",
			Help:      "Realtime connection state (0 disconnected, 1 connecting, 2 connected).",
		}),
	}

	reg.MustRegister(
		m.requests,
		m.duration,
		m.refreshes,
		m.refreshWaiters,
		m.retries,
		m.reconnects,
		m.realtimeState,
	)

	return m
}

func (m *Metrics) ObserveRequest(method string, status int, dur time.Duration) {
	if m == nil {
		return
	}

	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}

	m.requests.WithLabelValues(method, code).Inc()
	m.duration.WithLabelValues(method).Observe(dur.Seconds())
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) WaiterAdded() {
	if m == nil {
		return
	}
	m.refreshWaiters.Inc()
}

func (m *Metrics) WaitersReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.refreshWaiters.Sub(float64(n))
}

func (m *Metrics) Retry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) Reconnect(result string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(result).Inc()
}

func (m *Metrics) RealtimeState(state int) {
	if m == nil {
		return
	}
	m.realtimeState.Set(float64(state))
}
