package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

const DefaultKeyPrefix = "walletscan:"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	UseTLS    bool
	TTL       time.Duration // Zero keeps views forever
}

// RedisStore shares checkpoints between machines.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ domain.SnapshotStore = (*RedisStore)(nil)

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) viewKey(key string) string { return r.prefix + "view:" + key }
func (r *RedisStore) lastKey() string           { return r.prefix + "last" }

func (r *RedisStore) Save(ctx context.Context, view domain.ViewModel) error {
	if view.Key == "" {
		return fmt.Errorf("cannot save a view without a key")
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.viewKey(view.Key), data, r.ttl)
	pipe.Set(ctx, r.lastKey(), view.Key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save view: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, key string) (*domain.ViewModel, error) {
	data, err := r.client.Get(ctx, r.viewKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load view: %w", err)
	}

	var view domain.ViewModel
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to parse view: %w", err)
	}
	return &view, nil
}

func (r *RedisStore) LastKey(ctx context.Context) (string, error) {
	key, err := r.client.Get(ctx, r.lastKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load last key: %w", err)
	}
	return key, nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
