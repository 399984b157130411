//go:build integration

package runlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/facegroups/internal/config"
)

func setupRedis(t *testing.T) *RedisLocker {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get endpoint: %v", err)
	}

	l, err := NewRedisLocker(config.RedisConfig{Addr: endpoint, LockTTL: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRedisLocker(t *testing.T) {
	l := setupRedis(t)
	if l == nil {
		return
	}
	ctx := context.Background()

	release, err := l.TryLock(ctx, "k")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := l.TryLock(ctx, "k"); !errors.Is(err, ErrBusy) {
		t.Errorf("second TryLock() error = %v, want ErrBusy", err)
	}
	release()

	r2, err := l.TryLock(ctx, "k")
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	r2()
}

func TestRedisLocker_HeldOutlivesTTL(t *testing.T) {
	l := setupRedis(t)
	if l == nil {
		return
	}
	ctx := context.Background()

	release, err := l.TryLock(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	time.Sleep(3 * time.Second)

	if _, err := l.TryLock(ctx, "k"); !errors.Is(err, ErrBusy) {
		t.Errorf("TryLock() past ttl error = %v, want ErrBusy", err)
	}
}

func TestRedisLocker_LostLockNotReleasedByOldHolder(t *testing.T) {
	l := setupRedis(t)
	if l == nil {
		return
	}
	ctx := context.Background()

	stale, err := l.TryLock(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	// another holder took over after expiry
	if err := l.rdb.Set(ctx, "k", "other-token", 0).Err(); err != nil {
		t.Fatal(err)
	}
	stale()

	got, err := l.rdb.Get(ctx, "k").Result()
	if err != nil || got != "other-token" {
		t.Errorf("key after stale release = %q, %v; want other-token", got, err)
	}
}

func TestRedisLocker_BatchExcludesOwners(t *testing.T) {
	l := setupRedis(t)
	if l == nil {
		return
	}
	ctx := context.Background()
	owner := uuid.New()

	release, err := l.TryLock(ctx, OwnerKey(owner))
	if err != nil {
		t.Fatal(err)
	}
	err = DoBatch(ctx, l, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrBusy) {
		t.Errorf("DoBatch() during owner run error = %v, want ErrBusy", err)
	}
	release()

	if held, err := l.Held(ctx, "clustering:"); err != nil || held {
		t.Errorf("Held() after releases = %v, %v; want false", held, err)
	}
}
