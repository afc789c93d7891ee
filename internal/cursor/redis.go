package cursor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// RedisOptions configure the redis-backed cursor.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the cursor under a single redis key.
type RedisStore struct {
	client redis.Cmdable
	key    string
	closer func() error
}

// NewRedisStore dials redis lazily; the first Read or Write surfaces connection errors.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(opts.Key) == "" {
		return nil, errors.New("redis cursor: key required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisStore{client: client, key: opts.Key, closer: client.Close}, nil
}

// Read fetches the key; a missing key means no cursor yet.
func (s *RedisStore) Read(ctx context.Context) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Write overwrites the key without expiry.
func (s *RedisStore) Write(ctx context.Context, value string) error {
	if err := s.client.Set(ctx, s.key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

var _ Store = (*RedisStore)(nil)
