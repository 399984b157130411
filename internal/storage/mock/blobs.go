package mock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/your-org/facegroups/internal/models"
)

var errInjected = errors.New("injected failure")

// Blobs is an in-memory stand-in for storage.MinIOStore.
type Blobs struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string

	// Error injection
	GetError    error
	PutError    error
	ExistsError error
	DeleteError error
	// FailKeys makes GetObject fail for the listed keys only.
	FailKeys map[string]bool
}

func NewBlobs() *Blobs {
	return &Blobs{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (b *Blobs) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if b.PutError != nil {
		return b.PutError
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = slices.Clone(data)
	b.types[key] = contentType
	return nil
}

func (b *Blobs) GetObject(ctx context.Context, key string) ([]byte, error) {
	if b.GetError != nil {
		return nil, b.GetError
	}
	if b.FailKeys[key] {
		return nil, fmt.Errorf("get object %s: %w", key, errInjected)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("get object %s: %w", key, models.ErrNotFound)
	}
	return slices.Clone(data), nil
}

func (b *Blobs) Exists(ctx context.Context, key string) (bool, error) {
	if b.ExistsError != nil {
		return false, b.ExistsError
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *Blobs) DeleteObject(ctx context.Context, key string) error {
	if b.DeleteError != nil {
		return b.DeleteError
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	delete(b.types, key)
	return nil
}

func (b *Blobs) DeleteObjects(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := b.DeleteObject(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists stored object keys in sorted order.
func (b *Blobs) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Blobs) ContentType(key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.types[key]
}
