package apiclient

import (
	"context"
	"log/slog"
)

// Navigator уводит пользователя на экран входа, когда сессию нельзя продлить.
type Navigator interface {
	RedirectToLogin(ctx context.Context, path string)
}

// NavigatorFunc - адаптер функции к Navigator.
type NavigatorFunc func(ctx context.Context, path string)

func (f NavigatorFunc) RedirectToLogin(ctx context.Context, path string) { f(ctx, path) }

// logNavigator используется, если Navigator не передан.
type logNavigator struct {
	log *slog.Logger
}

func (n logNavigator) RedirectToLogin(_ context.Context, path string) {
	n.log.Warn("session_redirect_login", slog.String("path", path))
}
