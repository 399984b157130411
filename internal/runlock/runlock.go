// Package runlock keeps clustering runs exclusive per scope.
//
// A batch rebuild touches every owner's clusters, so it excludes all owner
// runs and every owner run excludes the batch. Each side takes its own key
// before checking for the other, so of two runs racing to start at least one
// sees the other and backs off.
package runlock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrBusy is returned when another run holds the scope.
var ErrBusy = errors.New("a clustering run is already in progress")

// Locker hands out non-blocking exclusive locks.
type Locker interface {
	// TryLock acquires key or returns ErrBusy. The returned func releases it.
	TryLock(ctx context.Context, key string) (release func(), err error)
	// Held reports whether any key starting with prefix is currently held.
	Held(ctx context.Context, prefix string) (bool, error)
}

const (
	batchKey    = "clustering:batch"
	ownerPrefix = "clustering:owner:"
)

// OwnerKey scopes an incremental run to one owner.
func OwnerKey(owner uuid.UUID) string {
	return ownerPrefix + owner.String()
}

// BatchKey is the global scope of a batch rebuild.
func BatchKey() string { return batchKey }

// Do runs fn while holding key.
func Do(ctx context.Context, l Locker, key string, fn func(ctx context.Context) error) error {
	release, err := l.TryLock(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// DoOwner runs fn as the owner's incremental run. It returns ErrBusy while
// the owner already has a run or a batch rebuild is in progress.
func DoOwner(ctx context.Context, l Locker, owner uuid.UUID, fn func(ctx context.Context) error) error {
	return Do(ctx, l, OwnerKey(owner), func(ctx context.Context) error {
		if err := refuseHeld(ctx, l, batchKey); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// DoBatch runs fn as the global rebuild. It returns ErrBusy while another
// rebuild or any owner run is in progress.
func DoBatch(ctx context.Context, l Locker, fn func(ctx context.Context) error) error {
	return Do(ctx, l, batchKey, func(ctx context.Context) error {
		if err := refuseHeld(ctx, l, ownerPrefix); err != nil {
			return err
		}
		return fn(ctx)
	})
}

func refuseHeld(ctx context.Context, l Locker, prefix string) error {
	held, err := l.Held(ctx, prefix)
	if err != nil {
		return fmt.Errorf("check %s: %w", prefix, err)
	}
	if held {
		return ErrBusy
	}
	return nil
}
