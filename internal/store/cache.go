package store

import (
	"context"
	"sync"
	"time"
)

// CachedSecretStore wraps a SecretStore with a short-TTL read cache. Writes
// through the wrapper overwrite the cached entry so a reader after a write
// observes the fresh value within the same process; across processes,
// staleness is bounded by the TTL.
type CachedSecretStore struct {
	inner SecretStore
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry

	// now is swappable for tests
	now func() time.Time
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

// NewCachedSecretStore returns a caching wrapper around inner with the given
// read TTL.
func NewCachedSecretStore(inner SecretStore, ttl time.Duration) *CachedSecretStore {
	return &CachedSecretStore{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// GetSecret returns the cached value when fresh, otherwise reads through to
// the underlying store. Misses (including ErrNotFound) are not cached.
func (c *CachedSecretStore) GetSecret(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	entry, ok := c.entries[name]
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.value, nil
	}
	c.mu.Unlock()

	value, err := c.inner.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[name] = cacheEntry{value: value, fetchedAt: c.now()}
	c.mu.Unlock()
	return value, nil
}

// PutSecret writes through and replaces the cached entry.
func (c *CachedSecretStore) PutSecret(ctx context.Context, name, value string) error {
	if err := c.inner.PutSecret(ctx, name, value); err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[name] = cacheEntry{value: value, fetchedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// DeleteSecret writes through and drops the cached entry.
func (c *CachedSecretStore) DeleteSecret(ctx context.Context, name string) error {
	if err := c.inner.DeleteSecret(ctx, name); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
	return nil
}
