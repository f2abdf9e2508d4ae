package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pribylovaa/go-marketplace-client/internal/metrics"
	"github.com/pribylovaa/go-marketplace-client/internal/models"
	"github.com/pribylovaa/go-marketplace-client/pkg/redact"
)

// gate - состояние протокола обновления: IDLE (refreshing == false) или
// REFRESHING с очередью ожидающих. Проверка и переход выполняются под mu.
type gate struct {
	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
}

type refreshResult struct {
	token string
	err   error
}

// renew возвращает access-токен для повтора запроса, упавшего с cause (401).
//
//   - REFRESHING: запрос встаёт в очередь и ждёт итога текущего обновления
//     (или отмены собственного ctx);
//   - IDLE и в хранилище уже другой токен (его выпустило недавнее
//     обновление) - повтор с ним без обращения к /auth/refresh, если
//     allowStale;
//   - IDLE - переход в REFRESHING и ровно один вызов /auth/refresh; итог
//     раздаётся всем ожидающим.
//
// Ошибка означает, что повторять запрос не нужно.
func (c *Client) renew(ctx context.Context, used string, cause error, allowStale bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.gate.mu.Lock()

	if c.gate.refreshing {
		ch := make(chan refreshResult, 1)
		c.gate.waiters = append(c.gate.waiters, ch)
		c.gate.mu.Unlock()

		c.metrics.WaiterAdded()
		c.metrics.Refresh(metrics.RefreshCoalesced)

		select {
		case res := <-ch:
			if res.err == nil {
				c.metrics.Retry(metrics.RetryRefreshed)
			}
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if allowStale {
		if cur, err := c.store.AccessToken(ctx); err == nil && cur != "" && cur != used {
			c.gate.mu.Unlock()
			c.metrics.Retry(metrics.RetryStaleToken)
			return cur, nil
		}
	}

	c.gate.refreshing = true
	c.gate.mu.Unlock()

	token, err := c.refresh(ctx, cause)

	c.gate.mu.Lock()
	waiters := c.gate.waiters
	c.gate.waiters = nil
	c.gate.refreshing = false
	c.gate.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
	c.metrics.WaitersReleased(len(waiters))

	if err == nil {
		c.metrics.Retry(metrics.RetryRefreshed)
	}

	return token, err
}

// refresh выполняет единственный вызов /auth/refresh.
// Вызов отвязан от отмены ctx вызывающего (его результат ждут и другие
// запросы) и ограничен refreshTimeout.
func (c *Client) refresh(ctx context.Context, cause error) (string, error) {
	const op = "apiclient.refresh"

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	log := c.log.With(slog.String("op", op))

	rt, err := c.store.RefreshToken(ctx)
	if err != nil {
		log.Error("refresh_store_read_failed", slog.String("err", err.Error()))
		return "", fmt.Errorf("%s: read refresh token: %w", op, err)
	}

	if rt == "" {
		log.Warn("refresh_no_token")
		c.metrics.Refresh(metrics.RefreshNoToken)
		c.expireSession(ctx)

		if cause == nil {
			return "", fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
		}
		return "", fmt.Errorf("%s: %w: %w", op, ErrNoRefreshToken, cause)
	}

	log.Info("refresh_start", slog.String("refresh_token", redact.Token(rt)))

	body, _ := encodeBody(models.RefreshRequest{RefreshToken: rt})

	var resp models.AuthResponse
	if err := c.send(ctx, http.MethodPost, "/auth/refresh", nil, body, "", &resp); err != nil {
		log.Warn("refresh_failed", slog.String("err", err.Error()))
		c.metrics.Refresh(metrics.RefreshFailed)
		c.expireSession(ctx)

		return "", fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err)
	}

	if resp.AccessToken == "" {
		log.Warn("refresh_failed", slog.String("err", "empty access token"))
		c.metrics.Refresh(metrics.RefreshFailed)
		c.expireSession(ctx)

		return "", fmt.Errorf("%s: %w: empty access token", op, ErrRefreshFailed)
	}

	pair := resp.Pair()
	// Бэкенд без ротации может не вернуть новый refresh-токен.
	if pair.RefreshToken == "" {
		pair.RefreshToken = rt
	}

	if err := c.store.SetTokens(ctx, pair, resp.AccessTTL()); err != nil {
		log.Error("refresh_store_write_failed", slog.String("err", err.Error()))
	}

	c.metrics.Refresh(metrics.RefreshOK)
	log.Info("refresh_ok", slog.String("token", redact.Token(pair.AccessToken)))

	return pair.AccessToken, nil
}

// expireSession очищает учётные данные и уводит на страницу входа.
func (c *Client) expireSession(ctx context.Context) {
	if err := c.store.ClearTokens(ctx); err != nil {
		c.log.Error("session_clear_failed", slog.String("err", err.Error()))
	}

	c.log.Info("session_expired", slog.String("redirect", c.loginPath))
	c.nav.RedirectToLogin(ctx, c.loginPath)
}
