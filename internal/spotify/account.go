package spotify

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bendikrb/spotcast/internal/core"
)

// refreshRate is the base TTL for cached datasets; per-resource TTLs are
// multiples of it.
const refreshRate = 30 * time.Second

const (
	profileTTL    = refreshRate * 10
	devicesTTL    = refreshRate
	playlistsTTL  = refreshRate * 2
	likedSongsTTL = refreshRate * 4
	categoriesTTL = refreshRate * 10
)

const (
	defaultSearchLimit = 20

	// Category playlist lookups have an unbounded key space, so they go
	// through a bounded expirable cache instead of a fixed dataset.
	categoryPlaylistCacheSize = 64
	categoryPlaylistCacheTTL  = 5 * time.Minute
)

// MetricsRecorder receives cache activity events.
type MetricsRecorder interface {
	RecordRefresh(dataset string)
	RecordCacheHit(dataset string)
}

// Account is one Spotify user bridged into the integration. It owns the
// session tokens and the fixed set of cached datasets. Reads either
// return cached data inside the TTL window or refetch synchronously
// before returning; concurrent reads of the same resource serialize on
// the dataset itself.
type Account struct {
	entryID   string
	isDefault bool

	external *ExternalSession
	internal *InternalSession
	api      core.WebAPI
	pager    *Pager
	logger   *zap.Logger
	metrics  MetricsRecorder

	profile    *Dataset
	devices    *Dataset
	playlists  *Dataset
	likedSongs *Dataset
	categories *Dataset

	categoryPlaylists *expirable.LRU[string, []any]
}

func NewAccount(
	cfg *core.SpotifyConfig,
	entryID string,
	isDefault bool,
	external *ExternalSession,
	internal *InternalSession,
	webAPI core.WebAPI,
	logger *zap.Logger,
) *Account {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst)

	a := &Account{
		entryID:   entryID,
		isDefault: isDefault,
		external:  external,
		internal:  internal,
		api:       webAPI,
		pager:     NewPager(cfg.PageLimit, limiter),
		logger:    logger,
		categoryPlaylists: expirable.NewLRU[string, []any](
			categoryPlaylistCacheSize, nil, categoryPlaylistCacheTTL),
	}

	a.profile = NewDataset("profile", profileTTL, func(ctx context.Context) (any, error) {
		return a.api.Me(ctx)
	})

	a.devices = NewDataset("devices", devicesTTL, func(ctx context.Context) (any, error) {
		result, err := a.api.Devices(ctx)
		if err != nil {
			return nil, err
		}
		list, _ := result["devices"].([]any)
		return list, nil
	})

	a.playlists = NewDataset("playlists", playlistsTTL, func(ctx context.Context) (any, error) {
		return a.pager.All(ctx, a.api.CurrentUserPlaylists, "")
	})

	a.likedSongs = NewDataset("liked_songs", likedSongsTTL, func(ctx context.Context) (any, error) {
		return a.pager.All(ctx, a.api.SavedTracks, "")
	})

	a.categories = NewDataset("categories", categoriesTTL, func(ctx context.Context) (any, error) {
		country := a.profileValue("country")
		return a.pager.All(ctx, func(ctx context.Context, limit, offset int) (map[string]any, error) {
			return a.api.Categories(ctx, country, "", limit, offset)
		}, "categories")
	})

	return a
}

// SetMetrics attaches a cache activity observer. Call before the account
// serves requests.
func (a *Account) SetMetrics(metrics MetricsRecorder) { a.metrics = metrics }

func (a *Account) EntryID() string { return a.entryID }

func (a *Account) IsDefault() bool { return a.isDefault }

func (a *Account) API() core.WebAPI { return a.api }

func (a *Account) Internal() *InternalSession { return a.internal }

// ID returns the account identifier from the cached profile.
func (a *Account) ID() string { return a.profileValue("id") }

// Name returns the display name, falling back to the id.
func (a *Account) Name() string {
	if name := a.profileValue("display_name"); name != "" {
		return name
	}
	return a.ID()
}

// Country returns the country code the account currently resides in.
func (a *Account) Country() string { return a.profileValue("country") }

// LikedSongsURI returns the synthetic context uri of the liked songs
// collection.
func (a *Account) LikedSongsURI() string {
	return fmt.Sprintf("spotify:user:%s:collection", a.ID())
}

func (a *Account) readDataset(ctx context.Context, d *Dataset, force bool) (any, error) {
	data, refreshed, err := d.Read(ctx, force)
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		if refreshed {
			a.metrics.RecordRefresh(d.Name())
		} else {
			a.metrics.RecordCacheHit(d.Name())
		}
	}

	return data, nil
}

func (a *Account) profileValue(key string) string {
	profile, _ := a.profile.Data().(map[string]any)
	value, _ := profile[key].(string)
	return value
}

// EnsureTokensValid refreshes both session tokens, loading the profile
// first so dependent accessors can resolve account attributes.
func (a *Account) EnsureTokensValid(ctx context.Context) error {
	if _, err := a.Profile(ctx, false); err != nil {
		return err
	}
	return a.ensureSessionTokens(ctx)
}

func (a *Account) ensureSessionTokens(ctx context.Context) error {
	a.logger.Debug("Refreshing api tokens for account")

	if err := a.external.EnsureTokenValid(ctx); err != nil {
		return err
	}
	return a.internal.EnsureTokenValid(ctx)
}

// Profile returns the raw profile payload, refetching when forced or
// expired.
func (a *Account) Profile(ctx context.Context, force bool) (map[string]any, error) {
	if err := a.ensureSessionTokens(ctx); err != nil {
		return nil, err
	}

	data, err := a.readDataset(ctx, a.profile, force)
	if err != nil {
		return nil, err
	}

	profile, _ := data.(map[string]any)
	return profile, nil
}

// Devices returns the devices linked to the account.
func (a *Account) Devices(ctx context.Context, force bool) ([]any, error) {
	if err := a.EnsureTokensValid(ctx); err != nil {
		return nil, err
	}

	a.logger.Debug("Getting devices", zap.Bool("force", force))

	data, err := a.readDataset(ctx, a.devices, force)
	if err != nil {
		return nil, err
	}

	devices, _ := data.([]any)
	return devices, nil
}

// Playlists returns the playlists of the account.
func (a *Account) Playlists(ctx context.Context, force bool) ([]any, error) {
	if err := a.EnsureTokensValid(ctx); err != nil {
		return nil, err
	}

	a.logger.Debug("Getting playlists", zap.Bool("force", force))

	data, err := a.readDataset(ctx, a.playlists, force)
	if err != nil {
		return nil, err
	}

	playlists, _ := data.([]any)
	return playlists, nil
}

// LikedSongs returns the uris of the account's saved tracks. The
// projection builds a fresh slice and leaves the cached payload intact.
func (a *Account) LikedSongs(ctx context.Context, force bool) ([]string, error) {
	if err := a.EnsureTokensValid(ctx); err != nil {
		return nil, err
	}

	a.logger.Debug("Getting liked songs", zap.Bool("force", force))

	data, err := a.readDataset(ctx, a.likedSongs, force)
	if err != nil {
		return nil, err
	}

	items, _ := data.([]any)
	uris := make([]string, 0, len(items))
	for _, item := range items {
		entry, _ := item.(map[string]any)
		track, _ := entry["track"].(map[string]any)
		if uri, ok := track["uri"].(string); ok {
			uris = append(uris, uri)
		}
	}

	return uris, nil
}

// LikedSongsCount returns the number of saved tracks. A fresh cache
// answers without a network call; an expired one costs exactly one page
// fetch instead of a full pagination.
func (a *Account) LikedSongsCount(ctx context.Context) (int, error) {
	if err := a.EnsureTokensValid(ctx); err != nil {
		return 0, err
	}

	if !a.likedSongs.IsExpired() {
		items, _ := a.likedSongs.Data().([]any)
		return len(items), nil
	}

	return a.pager.Count(ctx, a.api.SavedTracks, "")
}

// Categories returns the browse categories available to the account.
func (a *Account) Categories(ctx context.Context, force bool) ([]any, error) {
	if err := a.EnsureTokensValid(ctx); err != nil {
		return nil, err
	}

	a.logger.Debug("Getting browse categories", zap.Bool("force", force))

	data, err := a.readDataset(ctx, a.categories, force)
	if err != nil {
		return nil, err
	}

	categories, _ := data.([]any)
	return categories, nil
}

// CategoryPlaylists returns the playlists linked to a browse category.
func (a *Account) CategoryPlaylists(ctx context.Context, categoryID string) ([]any, error) {
	if err := a.EnsureTokensValid(ctx); err != nil {
		return nil, err
	}

	if playlists, ok := a.categoryPlaylists.Get(categoryID); ok {
		a.logger.Debug("Using cached category playlists", zap.String("categoryID", categoryID))
		return playlists, nil
	}

	a.logger.Debug("Fetching category playlists", zap.String("categoryID", categoryID))

	country := a.Country()
	playlists, err := a.pager.All(ctx, func(ctx context.Context, limit, offset int) (map[string]any, error) {
		return a.api.CategoryPlaylists(ctx, categoryID, country, limit, offset)
	}, "playlists")
	if err != nil {
		return nil, err
	}

	a.categoryPlaylists.Add(categoryID, playlists)
	return playlists, nil
}

// Search runs a validated search query and returns up to maxItems
// results of the query's item type.
func (a *Account) Search(ctx context.Context, query *SearchQuery, maxItems int) ([]any, error) {
	if err := a.EnsureTokensValid(ctx); err != nil {
		return nil, err
	}

	if maxItems <= 0 {
		maxItems = defaultSearchLimit
	}

	a.logger.Debug("Searching",
		zap.String("query", query.Search),
		zap.String("itemType", query.ItemType))

	market := a.Country()
	queryString := query.QueryString()

	return a.pager.Page(ctx, func(ctx context.Context, limit, offset int) (map[string]any, error) {
		return a.api.Search(ctx, queryString, query.ItemType, market, limit, offset)
	}, query.ItemType+"s", maxItems)
}

// WaitForDevice polls the device list until the given device shows up,
// forcing a refresh each round. The poll interval is a quarter of the
// timeout, matching the latency of a receiver app registering itself.
func (a *Account) WaitForDevice(ctx context.Context, deviceID string, timeout time.Duration) error {
	a.logger.Debug("Waiting for device to become available",
		zap.String("deviceID", deviceID))

	deadline := time.Now().Add(timeout)

	for !time.Now().After(deadline) {
		devices, err := a.Devices(ctx, true)
		if err != nil {
			return err
		}

		for _, item := range devices {
			device, _ := item.(map[string]any)
			if id, _ := device["id"].(string); id == deviceID {
				return nil
			}
		}

		a.logger.Debug("Device not yet available", zap.String("deviceID", deviceID))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeout / 4):
		}
	}

	return fmt.Errorf("device %q still not available after %s", deviceID, timeout)
}
