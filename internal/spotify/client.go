package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	api "github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/bendikrb/spotcast/internal/core"
)

// Client adapts the Spotify Web API client to the core.WebAPI capability.
// Fetch results are handed back as decoded JSON payloads so the account
// cache and pager stay schema-free.
type Client struct {
	api    *api.Client
	logger *zap.Logger
}

var _ core.WebAPI = (*Client)(nil)

// NewClient builds a Web API client on top of the given token source.
// The HTTP transport reads the token per request, so session refreshes
// are picked up without rebuilding the client.
func NewClient(ctx context.Context, source oauth2.TokenSource, logger *zap.Logger) *Client {
	httpClient := oauth2.NewClient(ctx, source)

	return &Client{
		api:    api.New(httpClient),
		logger: logger,
	}
}

func (c *Client) Me(ctx context.Context) (map[string]any, error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return asMap(user)
}

func (c *Client) Devices(ctx context.Context) (map[string]any, error) {
	devices, err := c.api.PlayerDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	list, err := asList(devices)
	if err != nil {
		return nil, err
	}

	return map[string]any{"devices": list}, nil
}

func (c *Client) CurrentUserPlaylists(ctx context.Context, limit, offset int) (map[string]any, error) {
	page, err := c.api.CurrentUsersPlaylists(ctx, pageOpts(limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlists: %w", err)
	}

	return asMap(page)
}

func (c *Client) SavedTracks(ctx context.Context, limit, offset int) (map[string]any, error) {
	page, err := c.api.CurrentUsersTracks(ctx, pageOpts(limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get saved tracks: %w", err)
	}

	return asMap(page)
}

func (c *Client) Categories(ctx context.Context, country, locale string, limit, offset int) (map[string]any, error) {
	opts := pageOpts(limit, offset)
	if country != "" {
		opts = append(opts, api.Country(country))
	}
	if locale != "" {
		opts = append(opts, api.Locale(locale))
	}

	page, err := c.api.GetCategories(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}

	inner, err := asMap(page)
	if err != nil {
		return nil, err
	}

	// The client unwraps the `categories` envelope; restore it so the
	// pager can walk the payload the way the raw endpoint shapes it.
	return map[string]any{"categories": inner}, nil
}

func (c *Client) CategoryPlaylists(ctx context.Context, categoryID, country string, limit, offset int) (map[string]any, error) {
	opts := pageOpts(limit, offset)
	if country != "" {
		opts = append(opts, api.Country(country))
	}

	page, err := c.api.GetCategoryPlaylists(ctx, categoryID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to get category playlists: %w", err)
	}

	inner, err := asMap(page)
	if err != nil {
		return nil, err
	}

	return map[string]any{"playlists": inner}, nil
}

func (c *Client) FeaturedPlaylists(ctx context.Context, country, locale string, limit int) (map[string]any, error) {
	opts := pageOpts(limit, -1)
	if country != "" {
		opts = append(opts, api.Country(country))
	}
	if locale != "" {
		opts = append(opts, api.Locale(locale))
	}

	message, page, err := c.api.FeaturedPlaylists(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to get featured playlists: %w", err)
	}

	inner, err := asMap(page)
	if err != nil {
		return nil, err
	}

	return map[string]any{"message": message, "playlists": inner}, nil
}

func (c *Client) Search(ctx context.Context, query, itemType, market string, limit, offset int) (map[string]any, error) {
	searchType, err := searchTypeFor(itemType)
	if err != nil {
		return nil, err
	}

	opts := pageOpts(limit, offset)
	if market != "" {
		opts = append(opts, api.Market(market))
	}

	result, err := c.api.Search(ctx, query, searchType, opts...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return asMap(result)
}

func (c *Client) ShowEpisodes(ctx context.Context, showID, market string, limit, offset int) (map[string]any, error) {
	opts := pageOpts(limit, offset)
	if market != "" {
		opts = append(opts, api.Market(market))
	}

	page, err := c.api.GetShowEpisodes(ctx, showID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to get show episodes: %w", err)
	}

	return asMap(page)
}

func (c *Client) AlbumTracks(ctx context.Context, albumID, market string, limit, offset int) (map[string]any, error) {
	opts := pageOpts(limit, offset)
	if market != "" {
		opts = append(opts, api.Market(market))
	}

	page, err := c.api.GetAlbumTracks(ctx, api.ID(albumID), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to get album tracks: %w", err)
	}

	return asMap(page)
}

func (c *Client) PlaylistItems(ctx context.Context, playlistID string, limit, offset int) (map[string]any, error) {
	page, err := c.api.GetPlaylistItems(ctx, api.ID(playlistID), pageOpts(limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}

	return asMap(page)
}

func (c *Client) StartPlayback(ctx context.Context, deviceID, contextURI string, uris []string, offset, positionMs int) error {
	opt := &api.PlayOptions{PositionMs: positionMs}

	if deviceID != "" {
		id := api.ID(deviceID)
		opt.DeviceID = &id
	}

	if contextURI != "" {
		uri := api.URI(contextURI)
		opt.PlaybackContext = &uri
	}

	for _, uri := range uris {
		opt.URIs = append(opt.URIs, api.URI(uri))
	}

	if offset >= 0 {
		opt.PlaybackOffset = &api.PlaybackOffset{Position: &offset}
	}

	c.logger.Debug("Starting playback",
		zap.String("deviceID", deviceID),
		zap.String("contextURI", contextURI),
		zap.Int("uris", len(uris)))

	return playbackError(c.api.PlayOpt(ctx, opt))
}

func (c *Client) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	c.logger.Debug("Transferring playback",
		zap.String("deviceID", deviceID),
		zap.Bool("play", play))

	return playbackError(c.api.TransferPlayback(ctx, api.ID(deviceID), play))
}

func (c *Client) Shuffle(ctx context.Context, deviceID string, state bool) error {
	return playbackError(c.api.ShuffleOpt(ctx, state, deviceOpt(deviceID)))
}

func (c *Client) Repeat(ctx context.Context, deviceID, state string) error {
	return playbackError(c.api.RepeatOpt(ctx, state, deviceOpt(deviceID)))
}

func (c *Client) SetVolume(ctx context.Context, deviceID string, percent int) error {
	return playbackError(c.api.VolumeOpt(ctx, percent, deviceOpt(deviceID)))
}

func deviceOpt(deviceID string) *api.PlayOptions {
	if deviceID == "" {
		return nil
	}
	id := api.ID(deviceID)
	return &api.PlayOptions{DeviceID: &id}
}

func pageOpts(limit, offset int) []api.RequestOption {
	opts := []api.RequestOption{api.Limit(limit)}
	if offset >= 0 {
		opts = append(opts, api.Offset(offset))
	}
	return opts
}

func searchTypeFor(itemType string) (api.SearchType, error) {
	switch itemType {
	case "album":
		return api.SearchTypeAlbum, nil
	case "artist":
		return api.SearchTypeArtist, nil
	case "playlist":
		return api.SearchTypePlaylist, nil
	case "track":
		return api.SearchTypeTrack, nil
	case "show":
		return api.SearchTypeShow, nil
	case "episode":
		return api.SearchTypeEpisode, nil
	default:
		return 0, fmt.Errorf("unsupported search item type %q", itemType)
	}
}

func playbackError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr api.Error
	if errors.As(err, &apiErr) {
		return &core.RemotePlaybackError{Status: apiErr.Status, Message: apiErr.Message, Err: err}
	}

	return &core.RemotePlaybackError{Message: err.Error(), Err: err}
}

// asMap round-trips a typed API value through JSON so cached payloads
// keep the raw wire field names.
func asMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode api payload: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode api payload: %w", err)
	}

	return out, nil
}

func asList(v any) ([]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode api payload: %w", err)
	}

	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode api payload: %w", err)
	}

	return out, nil
}
