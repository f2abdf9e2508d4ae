package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/go-marketplace-client/internal/models"
)

// Redis хранит пару в двух ключах:
//
//	<prefix><session>:accessToken  - с TTL = expiresIn (если известен);
//	<prefix><session>:refreshToken - без TTL.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой - используется "market:session:", session - "default".
func NewRedis(ctx context.Context, redisURL, prefix, session string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return NewRedisFromClient(rdb, prefix, session), nil
}

// NewRedisFromClient оборачивает уже созданный клиент.
func NewRedisFromClient(rdb *redis.Client, prefix, session string) *Redis {
	if prefix == "" {
		prefix = "market:session:"
	}
	if session == "" {
		session = "default"
	}

	return &Redis{rdb: rdb, prefix: prefix + session + ":"}
}

func (r *Redis) key(name string) string { return r.prefix + name }

func (r *Redis) AccessToken(ctx context.Context) (string, error) {
	return r.get(ctx, KeyAccessToken)
}

func (r *Redis) RefreshToken(ctx context.Context) (string, error) {
	return r.get(ctx, KeyRefreshToken)
}

func (r *Redis) SetTokens(ctx context.Context, pair models.TokenPair, accessTTL time.Duration) error {
	pipe := r.rdb.TxPipeline()

	if pair.AccessToken != "" {
		pipe.Set(ctx, r.key(KeyAccessToken), pair.AccessToken, accessTTL)
	} else {
		pipe.Del(ctx, r.key(KeyAccessToken))
	}

	if pair.RefreshToken != "" {
		pipe.Set(ctx, r.key(KeyRefreshToken), pair.RefreshToken, 0)
	} else {
		pipe.Del(ctx, r.key(KeyRefreshToken))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tokenstore.Redis.SetTokens: %w", err)
	}

	return nil
}

func (r *Redis) ClearTokens(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key(KeyAccessToken), r.key(KeyRefreshToken)).Err(); err != nil {
		return fmt.Errorf("tokenstore.Redis.ClearTokens: %w", err)
	}

	return nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) get(ctx context.Context, name string) (string, error) {
	v, err := r.rdb.Get(ctx, r.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tokenstore.Redis.get %s: %w", name, err)
	}

	return v, nil
}
