// Package redisstore shares one session between processes through redis.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ierrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/tokenstore"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "session:"
	defaultTimeout = 2 * time.Second
)

var _ tokenstore.Store = (*RedisStore)(nil)

type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	// Timeout bounds every store operation.
	Timeout time.Duration
}

// RedisStore implements tokenstore.Store with two keys, <prefix>auth_tokens
// and <prefix>user_data.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// New connects to redis and verifies the connection.
func New(cfg Config) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewWithClient(client, cfg.Prefix, cfg.Timeout)

	ctx, cancel := s.context()
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, timeout time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RedisStore{client: client, prefix: prefix, timeout: timeout}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) Save(pair tokenstore.Pair) error {
	if err := pair.Validate(); err != nil {
		return err
	}
	return s.set(tokenstore.PairKey, pair)
}

func (s *RedisStore) Load() (*tokenstore.Pair, error) {
	var pair tokenstore.Pair
	found, err := s.get(tokenstore.PairKey, &pair)
	if err != nil || !found {
		return nil, err
	}
	if err := pair.Validate(); err != nil {
		return nil, ierrors.Wrapf(ierrors.ErrCorrupt, "redisstore.Load")
	}
	return &pair, nil
}

// Clear deletes both keys in a single command.
func (s *RedisStore) Clear() error {
	ctx, cancel := s.context()
	defer cancel()
	if err := s.client.Del(ctx, s.key(tokenstore.PairKey), s.key(tokenstore.UserKey)).Err(); err != nil {
		return ierrors.Wrapf(ierrors.ErrStoreIO, "redisstore.Clear: %v", err)
	}
	return nil
}

func (s *RedisStore) SaveUserSummary(user tokenstore.UserSummary) error {
	return s.set(tokenstore.UserKey, user)
}

func (s *RedisStore) LoadUserSummary() (*tokenstore.UserSummary, error) {
	var user tokenstore.UserSummary
	found, err := s.get(tokenstore.UserKey, &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

func (s *RedisStore) set(name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ctx, cancel := s.context()
	defer cancel()
	if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		return ierrors.Wrapf(ierrors.ErrStoreIO, "redisstore set %s: %v", name, err)
	}
	return nil
}

func (s *RedisStore) get(name string, into any) (bool, error) {
	ctx, cancel := s.context()
	defer cancel()
	raw, err := s.client.Get(ctx, s.key(name)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, ierrors.Wrapf(ierrors.ErrStoreIO, "redisstore get %s: %v", name, err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, ierrors.Wrapf(ierrors.ErrCorrupt, "redisstore decode %s: %v", name, err)
	}
	return true, nil
}
