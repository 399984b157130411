package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/facegroups/internal/config"
)

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was taken over is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript pushes the expiry forward only while the key holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker shares run locks across API and worker processes. Locks
// expire after ttl so a crashed run cannot block its scope forever; a live
// holder extends its lock every ttl/3 until it releases it.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(cfg config.RedisConfig) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	stop := make(chan struct{})
	go l.keepAlive(key, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
				slog.Warn("release lock", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := extendScript.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				slog.Warn("extend lock", "key", key, "error", err)
				continue
			}
			if n == 0 {
				slog.Error("lock lost before release", "key", key)
				return
			}
		}
	}
}

// Held scans for any live key under prefix.
func (l *RedisLocker) Held(ctx context.Context, prefix string) (bool, error) {
	var cursor uint64
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return false, fmt.Errorf("scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			return true, nil
		}
		if next == 0 {
			return false, nil
		}
		cursor = next
	}
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

// New picks the Redis locker when an address is configured and the
// in-process one otherwise.
func New(cfg config.RedisConfig) (Locker, error) {
	if cfg.Addr == "" {
		return NewMemoryLocker(), nil
	}
	return NewRedisLocker(cfg)
}
