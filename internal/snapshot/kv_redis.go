package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "wesim:"

// redisKV stores keys in redis under a shared prefix. This backend lets
// several machines share one mailbox universe; each daemon still holds its
// own data-dir lock, so a given user id has a single active writer.
type redisKV struct {
	cli *redis.Client
}

// OpenRedis connects to redis at url (redis://...) and verifies the
// connection.
func OpenRedis(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(&redisKV{cli: cli}), nil
}

func (r *redisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.cli.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (r *redisKV) Set(ctx context.Context, key, value string) error {
	return r.cli.Set(ctx, redisKeyPrefix+key, value, 0).Err()
}

func (r *redisKV) Delete(ctx context.Context, key string) error {
	return r.cli.Del(ctx, redisKeyPrefix+key).Err()
}

func (r *redisKV) Close() error {
	return r.cli.Close()
}
