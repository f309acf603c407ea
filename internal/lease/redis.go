package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "notegate:lease:"

// RedisLocker は複数インスタンス間で共有されるリース。SET NX PX で取得する。
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker はRedisLockerを生成する。
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// OpenRedis はURLからRedisクライアントを生成し、疎通を確認する。
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// TryAcquire はリースの取得を試みる。
// ttlが0以下の場合は期限の無いキーを作らないよう、Redisに書き込まずに取得成功とする。
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, redisKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	return ok, nil
}

var _ Locker = (*RedisLocker)(nil)
