package spotify

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/bendikrb/spotcast/internal/core"
)

// accountFake implements the Web API capability with canned payloads and
// per-endpoint call counters.
type accountFake struct {
	core.WebAPI

	meCalls      int
	deviceCalls  int
	savedCalls   int
	searchCalls  int
	savedTracks  []any
	devices      []any
	profile      map[string]any
	searchResult map[string]any
}

func (f *accountFake) Me(_ context.Context) (map[string]any, error) {
	f.meCalls++
	if f.profile != nil {
		return f.profile, nil
	}
	return map[string]any{
		"id":           "alice",
		"display_name": "Alice",
		"country":      "CH",
	}, nil
}

func (f *accountFake) Devices(_ context.Context) (map[string]any, error) {
	f.deviceCalls++
	return map[string]any{"devices": f.devices}, nil
}

func (f *accountFake) SavedTracks(_ context.Context, limit, offset int) (map[string]any, error) {
	f.savedCalls++

	end := offset + limit
	if end > len(f.savedTracks) {
		end = len(f.savedTracks)
	}
	current := []any{}
	if offset < len(f.savedTracks) {
		current = f.savedTracks[offset:end]
	}

	return map[string]any{
		"total": len(f.savedTracks),
		"items": current,
	}, nil
}

func (f *accountFake) Search(_ context.Context, _, itemType, _ string, _, _ int) (map[string]any, error) {
	f.searchCalls++
	if f.searchResult != nil {
		return f.searchResult, nil
	}
	return map[string]any{
		itemType + "s": map[string]any{
			"total": 1,
			"items": []any{map[string]any{"uri": "spotify:" + itemType + ":hit"}},
		},
	}, nil
}

func savedTrack(uri string) map[string]any {
	return map[string]any{
		"track": map[string]any{"uri": uri},
	}
}

func newTestAccount(api core.WebAPI) *Account {
	external := NewExternalSession(&oauth2.Token{
		AccessToken: "token",
		Expiry:      time.Now().Add(time.Hour),
	}, nil, zap.NewNop())

	internal := NewInternalSession("dc", "key", zap.NewNop())
	internal.accessToken = "web-token"
	internal.expiresAt = time.Now().Add(time.Hour)

	cfg := &core.SpotifyConfig{
		PageLimit:         2,
		RequestsPerSecond: 1000,
		RequestBurst:      1000,
	}

	return NewAccount(cfg, "entry1", true, external, internal, api, zap.NewNop())
}

func TestAccountProfileAccessors(t *testing.T) {
	account := newTestAccount(&accountFake{})

	if _, err := account.Profile(context.Background(), false); err != nil {
		t.Fatalf("Profile: %v", err)
	}

	if account.ID() != "alice" {
		t.Errorf("ID() = %q, want alice", account.ID())
	}
	if account.Name() != "Alice" {
		t.Errorf("Name() = %q, want Alice", account.Name())
	}
	if account.Country() != "CH" {
		t.Errorf("Country() = %q, want CH", account.Country())
	}
	if uri := account.LikedSongsURI(); uri != "spotify:user:alice:collection" {
		t.Errorf("LikedSongsURI() = %q", uri)
	}
}

func TestAccountNameFallsBackToID(t *testing.T) {
	account := newTestAccount(&accountFake{profile: map[string]any{"id": "bob"}})

	if _, err := account.Profile(context.Background(), false); err != nil {
		t.Fatalf("Profile: %v", err)
	}

	if account.Name() != "bob" {
		t.Errorf("Name() = %q, want bob", account.Name())
	}
}

func TestAccountDevicesCached(t *testing.T) {
	fake := &accountFake{devices: []any{
		map[string]any{"id": "dev1"},
	}}
	account := newTestAccount(fake)

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		devices, err := account.Devices(ctx, false)
		if err != nil {
			t.Fatalf("Devices: %v", err)
		}
		if len(devices) != 1 {
			t.Fatalf("len(devices) = %d, want 1", len(devices))
		}
	}

	if fake.deviceCalls != 1 {
		t.Errorf("deviceCalls = %d, want 1", fake.deviceCalls)
	}

	if _, err := account.Devices(ctx, true); err != nil {
		t.Fatalf("Devices(force): %v", err)
	}
	if fake.deviceCalls != 2 {
		t.Errorf("deviceCalls after force = %d, want 2", fake.deviceCalls)
	}
}

func TestAccountDevicesConcurrentForceRefresh(t *testing.T) {
	fake := &accountFake{devices: []any{
		map[string]any{"id": "dev1"},
	}}
	account := newTestAccount(fake)

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			devices, err := account.Devices(ctx, true)
			if err != nil {
				t.Errorf("Devices: %v", err)
				return
			}
			if len(devices) != 1 {
				t.Errorf("len(devices) = %d, want 1", len(devices))
			}
		}()
	}
	wg.Wait()

	// Forced reads never reuse a cached payload, so the refreshes run
	// one after another.
	if fake.deviceCalls != 8 {
		t.Errorf("deviceCalls = %d, want 8", fake.deviceCalls)
	}
}

func TestAccountLikedSongsProjection(t *testing.T) {
	fake := &accountFake{savedTracks: []any{
		savedTrack("spotify:track:one"),
		savedTrack("spotify:track:two"),
		savedTrack("spotify:track:three"),
	}}
	account := newTestAccount(fake)

	uris, err := account.LikedSongs(context.Background(), false)
	if err != nil {
		t.Fatalf("LikedSongs: %v", err)
	}

	want := []string{"spotify:track:one", "spotify:track:two", "spotify:track:three"}
	if len(uris) != len(want) {
		t.Fatalf("len(uris) = %d, want %d", len(uris), len(want))
	}
	for i := range want {
		if uris[i] != want[i] {
			t.Errorf("uris[%d] = %q, want %q", i, uris[i], want[i])
		}
	}
}

func TestAccountLikedSongsCountFromFreshCache(t *testing.T) {
	fake := &accountFake{savedTracks: []any{
		savedTrack("spotify:track:one"),
		savedTrack("spotify:track:two"),
	}}
	account := newTestAccount(fake)

	ctx := context.Background()

	if _, err := account.LikedSongs(ctx, false); err != nil {
		t.Fatalf("LikedSongs: %v", err)
	}
	callsAfterLoad := fake.savedCalls

	count, err := account.LikedSongsCount(ctx)
	if err != nil {
		t.Fatalf("LikedSongsCount: %v", err)
	}

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if fake.savedCalls != callsAfterLoad {
		t.Errorf("savedCalls = %d, want %d (no fetch from fresh cache)", fake.savedCalls, callsAfterLoad)
	}
}

func TestAccountLikedSongsCountExpiredCache(t *testing.T) {
	fake := &accountFake{savedTracks: []any{
		savedTrack("spotify:track:one"),
		savedTrack("spotify:track:two"),
	}}
	account := newTestAccount(fake)

	ctx := context.Background()

	if _, err := account.LikedSongs(ctx, false); err != nil {
		t.Fatalf("LikedSongs: %v", err)
	}

	// Expire the cache; the count must cost exactly one page fetch.
	account.likedSongs.expiresAt = time.Now().Add(-time.Second)
	callsBefore := fake.savedCalls

	count, err := account.LikedSongsCount(ctx)
	if err != nil {
		t.Fatalf("LikedSongsCount: %v", err)
	}

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if fake.savedCalls != callsBefore+1 {
		t.Errorf("savedCalls = %d, want %d", fake.savedCalls, callsBefore+1)
	}
}

func TestAccountSearch(t *testing.T) {
	fake := &accountFake{}
	account := newTestAccount(fake)

	query, err := NewSearchQuery("test", "track", nil, nil)
	if err != nil {
		t.Fatalf("NewSearchQuery: %v", err)
	}

	items, err := account.Search(context.Background(), query, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	hit, _ := items[0].(map[string]any)
	if hit["uri"] != "spotify:track:hit" {
		t.Errorf("items[0] = %v", items[0])
	}
}

type recordedMetrics struct {
	refreshes map[string]int
	hits      map[string]int
}

func (m *recordedMetrics) RecordRefresh(dataset string) { m.refreshes[dataset]++ }

func (m *recordedMetrics) RecordCacheHit(dataset string) { m.hits[dataset]++ }

func TestAccountRecordsCacheActivity(t *testing.T) {
	fake := &accountFake{devices: []any{map[string]any{"id": "dev1"}}}
	account := newTestAccount(fake)

	metrics := &recordedMetrics{
		refreshes: map[string]int{},
		hits:      map[string]int{},
	}
	account.SetMetrics(metrics)

	ctx := context.Background()

	if _, err := account.Devices(ctx, false); err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if _, err := account.Devices(ctx, false); err != nil {
		t.Fatalf("Devices: %v", err)
	}

	if metrics.refreshes["devices"] != 1 {
		t.Errorf("refreshes[devices] = %d, want 1", metrics.refreshes["devices"])
	}
	if metrics.hits["devices"] != 1 {
		t.Errorf("hits[devices] = %d, want 1", metrics.hits["devices"])
	}
}

func TestAccountWaitForDevice(t *testing.T) {
	fake := &accountFake{devices: []any{
		map[string]any{"id": "dev1"},
	}}
	account := newTestAccount(fake)

	if err := account.WaitForDevice(context.Background(), "dev1", time.Second); err != nil {
		t.Fatalf("WaitForDevice: %v", err)
	}
}

func TestAccountWaitForDeviceTimeout(t *testing.T) {
	account := newTestAccount(&accountFake{})

	err := account.WaitForDevice(context.Background(), "missing", 100*time.Millisecond)
	if err == nil {
		t.Fatal("WaitForDevice succeeded for a device that never appears")
	}
}
