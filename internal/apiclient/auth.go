package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pribylovaa/go-marketplace-client/internal/models"
	"github.com/pribylovaa/go-marketplace-client/pkg/redact"
)

// Login - вход по email/паролю. Пара токенов из ответа сохраняется в Store.
// 401 от /auth/login не запускает протокол обновления.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (*models.AuthResponse, error) {
	const op = "apiclient.Login"

	creds.Email = normalizeEmail(creds.Email)
	if err := c.validate.Struct(creds); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidCredentials, err)
	}

	resp, err := c.authenticate(ctx, "/auth/login", creds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.log.Info("login_ok", slog.String("email", redact.Email(creds.Email)))

	return resp, nil
}

// Register - регистрация и сразу вход (бэкенд возвращает пару токенов).
func (c *Client) Register(ctx context.Context, reg models.Registration) (*models.AuthResponse, error) {
	const op = "apiclient.Register"

	reg.Email = normalizeEmail(reg.Email)
	reg.Name = strings.TrimSpace(reg.Name)
	if err := c.validate.Struct(reg); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidCredentials, err)
	}

	resp, err := c.authenticate(ctx, "/auth/register", reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.log.Info("register_ok", slog.String("email", redact.Email(reg.Email)))

	return resp, nil
}

// Refresh принудительно продлевает сессию через тот же однополётный
// механизм, что и автоматический повтор: параллельные вызовы получат один
// и тот же новый токен.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.renew(ctx, "", nil, false)
}

// Logout отзывает refresh-токен на бэкенде и очищает хранилище.
// Локальная очистка выполняется в любом случае; ошибка бэкенда возвращается
// после неё.
func (c *Client) Logout(ctx context.Context) error {
	const op = "apiclient.Logout"

	rt, err := c.store.RefreshToken(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var remote error
	if rt != "" {
		at, _ := c.store.AccessToken(ctx)
		body, _ := encodeBody(models.RefreshRequest{RefreshToken: rt})
		remote = c.send(ctx, http.MethodPost, "/auth/logout", nil, body, at, nil)
		if remote != nil {
			c.log.Warn("logout_remote_failed", slog.String("err", remote.Error()))
		}
	}

	if err := c.store.ClearTokens(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if remote != nil {
		return fmt.Errorf("%s: %w", op, remote)
	}

	return nil
}

// SetTokens сохраняет пару, полученную вне клиента (например, из OAuth).
func (c *Client) SetTokens(ctx context.Context, pair models.TokenPair) error {
	return c.store.SetTokens(ctx, pair, 0)
}

func (c *Client) ClearTokens(ctx context.Context) error {
	return c.store.ClearTokens(ctx)
}

// AccessToken - текущий access-токен ("" - сессии нет).
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.store.AccessToken(ctx)
}

func (c *Client) authenticate(ctx context.Context, path string, payload any) (*models.AuthResponse, error) {
	body, err := encodeBody(payload)
	if err != nil {
		return nil, err
	}

	var resp models.AuthResponse
	if err := c.send(ctx, http.MethodPost, path, nil, body, "", &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%s: empty access token in response", path)
	}

	if err := c.store.SetTokens(ctx, resp.Pair(), resp.AccessTTL()); err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}

	return &resp, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
