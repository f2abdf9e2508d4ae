// transport предоставляет набор http.RoundTripper-декораторов для исходящих
// вызовов клиента: metadata (request id, bearer, user-agent), логирование,
// метрики и таймаут.
package transport

import (
	"context"
	"net/http"
	"time"
)

type CtxKey string

const (
	CtxRequestID CtxKey = "request_id"
	CtxAuthToken CtxKey = "auth_token"
)

// RoundTripperFunc - адаптер функции к http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Decorator оборачивает RoundTripper.
type Decorator func(http.RoundTripper) http.RoundTripper

// Chain применяет декораторы к base; первый в списке - самый внешний.
func Chain(base http.RoundTripper, decorators ...Decorator) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}

	for i := len(decorators) - 1; i >= 0; i-- {
		base = decorators[i](base)
	}

	return base
}

// WithAuthToken кладёт bearer-токен попытки в контекст (его читает Metadata).
func WithAuthToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, CtxAuthToken, token)
}

// AuthToken достаёт токен, положенный WithAuthToken.
func AuthToken(ctx context.Context) string {
	tok, _ := ctx.Value(CtxAuthToken).(string)
	return tok
}

// WithRequestID кладёт request id в контекст.
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, CtxRequestID, rid)
}

// RequestID достаёт request id из контекста.
func RequestID(ctx context.Context) string {
	rid, _ := ctx.Value(CtxRequestID).(string)
	return rid
}

// WithTimeout навешивает таймаут d на контекст вызова, если у него ещё нет
// дедлайна. Существующий дедлайн не переопределяется.
//
// Контракт:
//  1. d <= 0 - контекст не меняется;
//  2. у ctx уже есть deadline - оставляет как есть;
//  3. иначе - context.WithTimeout(ctx, d).
//
// cancel всегда не nil и должен быть вызван после чтения тела ответа.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d)
}
