// tokenstore хранит пару учётных данных клиента (access/refresh) под
// фиксированными ключами accessToken и refreshToken.
//
// Реализации:
//   - memory - в процессе (go-cache), access-токен истекает вместе с expiresIn;
//   - file - JSON-файл с двумя ключами (CLI);
//   - redis - общая сессия для нескольких процессов.
//
// Отсутствующее значение - пустая строка и nil-ошибка.
package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pribylovaa/go-marketplace-client/internal/config"
	"github.com/pribylovaa/go-marketplace-client/internal/models"
)

// Фиксированные ключи хранилища.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// Store задаёт контракт хранилища учётных данных.
type Store interface {
	// AccessToken возвращает текущий access-токен ("" - нет).
	AccessToken(ctx context.Context) (string, error)
	// RefreshToken возвращает текущий refresh-токен ("" - нет).
	RefreshToken(ctx context.Context) (string, error)
	// SetTokens перезаписывает пару. accessTTL > 0 - хранилище может
	// забыть access-токен по истечении срока.
	SetTokens(ctx context.Context, pair models.TokenPair, accessTTL time.Duration) error
	// ClearTokens удаляет оба значения.
	ClearTokens(ctx context.Context) error
	// Close освобождает ресурсы хранилища.
	Close() error
}

// Open создаёт хранилище по cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	const op = "tokenstore.Open"

	switch cfg.Driver {
	case config.StorageMemory:
		return NewMemory(), nil
	case config.StorageFile:
		st, err := NewFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return st, nil
	case config.StorageRedis:
		st, err := NewRedis(ctx, cfg.RedisURL, cfg.Prefix, cfg.Session)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, cfg.Driver)
	}
}
