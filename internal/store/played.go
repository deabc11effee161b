// Package store tracks media items already played to completion, using a
// Bloom filter for cheap negative checks and an LRU cache to bound memory.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PlayedStore remembers the uris of episodes and tracks the remote API
// reported as fully played, so playback commands can skip them without
// refetching resume points every time.
type PlayedStore struct {
	uris                   map[string]struct{}
	bloom                  *bloom.BloomFilter
	lru                    *lru.Cache[string, struct{}]
	mutex                  sync.RWMutex
	maxItems               int
	bloomFalsePositiveRate float64
}

// NewPlayedStore creates a played-media store with the specified capacity
// and Bloom false positive rate.
func NewPlayedStore(maxItems int, bloomFalsePositiveRate float64) *PlayedStore {
	lruCache, _ := lru.New[string, struct{}](maxItems)

	if maxItems < 0 || maxItems > int(^uint(0)>>1) {
		panic("maxItems value out of range for uint conversion")
	}
	bloomFilter := bloom.NewWithEstimates(uint(maxItems), bloomFalsePositiveRate)

	return &PlayedStore{
		uris:                   make(map[string]struct{}),
		bloom:                  bloomFilter,
		lru:                    lruCache,
		maxItems:               maxItems,
		bloomFalsePositiveRate: bloomFalsePositiveRate,
	}
}

// Has checks whether a uri was recorded as fully played.
func (ps *PlayedStore) Has(uri string) bool {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	if !ps.bloom.TestString(uri) {
		return false
	}

	_, exists := ps.uris[uri]
	return exists
}

// Add records a uri as fully played.
func (ps *PlayedStore) Add(uri string) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if _, exists := ps.uris[uri]; exists {
		return
	}

	ps.uris[uri] = struct{}{}
	ps.bloom.AddString(uri)
	ps.lru.Add(uri, struct{}{})

	if len(ps.uris) > ps.maxItems {
		ps.evictOldest()
	}
}

// Remove forgets a uri, letting it play again.
func (ps *PlayedStore) Remove(uri string) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if _, exists := ps.uris[uri]; !exists {
		return
	}

	delete(ps.uris, uri)
	ps.lru.Remove(uri)
	// The bloom filter does not support removal; the map stays
	// authoritative and absorbs the false positive.
}

// Size returns the number of uris currently recorded.
func (ps *PlayedStore) Size() int {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()
	return len(ps.uris)
}

// Clear forgets everything.
func (ps *PlayedStore) Clear() {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	ps.clear()
}

func (ps *PlayedStore) clear() {
	ps.uris = make(map[string]struct{})
	if ps.maxItems < 0 || ps.maxItems > int(^uint(0)>>1) {
		panic("maxItems value out of range for uint conversion")
	}
	ps.bloom = bloom.NewWithEstimates(uint(ps.maxItems), ps.bloomFalsePositiveRate)
	ps.lru.Purge()
}

func (ps *PlayedStore) evictOldest() {
	if ps.lru.Len() == 0 {
		return
	}

	oldestKey, _, ok := ps.lru.GetOldest()
	if !ok {
		return
	}

	delete(ps.uris, oldestKey)
	ps.lru.Remove(oldestKey)
}
