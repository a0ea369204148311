package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it still holds our owner value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBackend stores the token document and state documents as plain keys.
//
//	<prefix>doc:token         token document
//	<prefix>state:<name>      state documents
//	<prefix>lock:<name>       SET NX PX locks
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a new Redis storage backend
func NewRedisBackend(addr, password string, db int, prefix string) (*RedisBackend, error) {
	if prefix == "" {
		prefix = "grok2api:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (r *RedisBackend) Name() string { return "redis" }

// Initialize tests Redis connection
func (r *RedisBackend) Initialize(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes Redis connection
func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisBackend) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) LoadTokens(ctx context.Context) (Document, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	data, err := r.client.Get(ctx, r.prefix+"doc:"+TokensDocument).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Document{}, nil
		}
		return nil, err
	}
	return decodeDocument(data)
}

func (r *RedisBackend) SaveTokens(ctx context.Context, doc Document) error {
	payload, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to encode token document: %w", err)
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return r.client.Set(ctx, r.prefix+"doc:"+TokensDocument, payload, 0).Err()
}

func (r *RedisBackend) LoadState(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	data, err := r.client.Get(ctx, r.prefix+"state:"+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (r *RedisBackend) SaveState(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return r.client.Set(ctx, r.prefix+"state:"+name, data, 0).Err()
}

// WithLock acquires <prefix>lock:<name> with SET NX PX. The lease is the
// timeout plus a margin so a crashed holder cannot block forever.
func (r *RedisBackend) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := validateName(name); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := r.prefix + "lock:" + name
	owner := uuid.NewString()
	lease := timeout + 30*time.Second

	err := pollLock(ctx, name, timeout, func() (bool, error) {
		return r.client.SetNX(ctx, key, owner, lease).Result()
	})
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{key}, owner).Err()
	}()
	return fn(ctx)
}
