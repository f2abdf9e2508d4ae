package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/pribylovaa/go-marketplace-client/internal/models"
)

// Memory - хранилище в памяти процесса.
// Access-токен живёт accessTTL (если задан), refresh-токен - до очистки.
type Memory struct {
	mu sync.Mutex
	c  *cache.Cache
}

func NewMemory() *Memory {
	return &Memory{c: cache.New(cache.NoExpiration, time.Minute)}
}

func (m *Memory) AccessToken(context.Context) (string, error) {
	return m.get(KeyAccessToken), nil
}

func (m *Memory) RefreshToken(context.Context) (string, error) {
	return m.get(KeyRefreshToken), nil
}

func (m *Memory) SetTokens(_ context.Context, pair models.TokenPair, accessTTL time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp := cache.NoExpiration
	if accessTTL > 0 {
		exp = accessTTL
	}

	m.put(KeyAccessToken, pair.AccessToken, exp)
	m.put(KeyRefreshToken, pair.RefreshToken, cache.NoExpiration)

	return nil
}

func (m *Memory) ClearTokens(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.c.Delete(KeyAccessToken)
	m.c.Delete(KeyRefreshToken)

	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.c.Get(key); ok {
		s, _ := v.(string)
		return s
	}

	return ""
}

// put сохраняет непустое значение; пустое - удаляет ключ.
func (m *Memory) put(key, val string, exp time.Duration) {
	if val == "" {
		m.c.Delete(key)
		return
	}

	m.c.Set(key, val, exp)
}
