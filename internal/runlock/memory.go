package runlock

import (
	"context"
	"strings"
	"sync"
)

// MemoryLocker serialises runs within a single process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

func (l *MemoryLocker) Held(ctx context.Context, prefix string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.held {
		if strings.HasPrefix(key, prefix) {
			return true, nil
		}
	}
	return false, nil
}
