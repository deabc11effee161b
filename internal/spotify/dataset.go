// Package spotify owns the per-account cached view of the Spotify Web API:
// TTL-expiring datasets, the pagination walker and the session tokens that
// guard every remote call.
package spotify

import (
	"context"
	"sync"
	"time"
)

// FetchFunc repopulates a dataset from the remote API.
type FetchFunc func(ctx context.Context) (any, error)

// Dataset is a named, TTL-expiring cache entry for one remote resource.
// The payload is replaced atomically on refresh, never mutated in place.
// Reads serialize on the dataset: a refresh holds the lock for the
// duration of the fetch, so concurrent readers observe either the old or
// the new payload and a reader arriving during a refresh reuses its
// result instead of fetching again.
type Dataset struct {
	name  string
	ttl   time.Duration
	fetch FetchFunc

	mu        sync.Mutex
	data      any
	expiresAt time.Time
}

func NewDataset(name string, ttl time.Duration, fetch FetchFunc) *Dataset {
	return &Dataset{
		name:  name,
		ttl:   ttl,
		fetch: fetch,
	}
}

func (d *Dataset) Name() string { return d.name }

// Data returns the cached payload without touching expiry. Nil before the
// first successful fetch.
func (d *Dataset) Data() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data
}

// IsExpired reports whether a read must refetch: true before the first
// fetch and once the TTL window has passed.
func (d *Dataset) IsExpired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expired()
}

func (d *Dataset) expired() bool {
	return d.data == nil || !time.Now().Before(d.expiresAt)
}

// Read returns the cached payload, refreshing it first when force is set,
// the cache is empty, or the TTL window has passed. The second return
// reports whether a refresh happened.
func (d *Dataset) Read(ctx context.Context, force bool) (any, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !force && !d.expired() {
		return d.data, false, nil
	}

	data, err := d.fetch(ctx)
	if err != nil {
		return nil, false, err
	}

	d.data = data
	d.expiresAt = time.Now().Add(d.ttl)

	return d.data, true, nil
}
