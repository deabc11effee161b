// Package player turns resolved playback requests into Web API commands:
// start or transfer playback, pick offsets, and sequence the best-effort
// follow-up settings.
package player

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bendikrb/spotcast/internal/core"
	"github.com/bendikrb/spotcast/internal/store"
)

// Package-level random number generator; media selection does not need
// crypto-secure randomness.
var rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec

const (
	// randomPlaylistPick is the easter-egg target that plays a random
	// playlist of the account.
	randomPlaylistPick = "random"

	episodePageLimit = 50
)

// Options carries the optional knobs of one playback command.
type Options struct {
	// Random picks a random start offset within the context.
	Random bool
	// Position is the absolute offset within the context, below zero for
	// none.
	Position int
	// PositionMs seeks within the first item.
	PositionMs int
	// IgnoreFullyPlayed skips episodes already played to completion.
	IgnoreFullyPlayed bool
	// Country scopes market-dependent lookups.
	Country string

	// Volume, Shuffle and Repeat are applied after playback starts,
	// each best-effort. Volume below zero and empty Repeat mean unset.
	Volume  int
	Shuffle *bool
	Repeat  string
}

// DefaultOptions returns Options with every optional knob unset.
func DefaultOptions() Options {
	return Options{Position: -1, Volume: -1}
}

// Commander issues playback commands against an authorized Web API
// client. It keeps no per-device state; the caller resolves the target
// device (launching the receiver app first when needed).
type Commander struct {
	played      *store.PlayedStore
	settleDelay time.Duration
	logger      *zap.Logger
}

func NewCommander(played *store.PlayedStore, settleDelay time.Duration, logger *zap.Logger) *Commander {
	return &Commander{
		played:      played,
		settleDelay: settleDelay,
		logger:      logger,
	}
}

// Play starts playback of uri on the device, or transfers the current
// playback there when uri is empty. A failed start aborts the whole
// command; failures in the follow-up settings do not.
func (c *Commander) Play(ctx context.Context, api core.WebAPI, deviceID, uri string, opts Options) error {
	if err := c.startPlayback(ctx, api, deviceID, uri, opts); err != nil {
		return err
	}

	c.applyExtras(ctx, api, deviceID, opts)
	return nil
}

func (c *Commander) startPlayback(ctx context.Context, api core.WebAPI, deviceID, uri string, opts Options) error {
	if uri == "" {
		c.logger.Info("Transferring playback", zap.String("deviceID", deviceID))
		return api.TransferPlayback(ctx, deviceID, true)
	}

	if uri == randomPlaylistPick {
		picked, err := c.pickRandomPlaylist(ctx, api)
		if err != nil {
			return err
		}
		uri = picked
	}

	normalized, err := NormalizeURI(uri)
	if err != nil {
		return err
	}

	c.logger.Info("Starting playback",
		zap.String("uri", normalized),
		zap.String("deviceID", deviceID))

	kind := strings.Split(normalized, ":")[1]

	switch kind {
	case "show":
		return c.playShow(ctx, api, deviceID, normalized, opts)
	case "episode", "track":
		return api.StartPlayback(ctx, deviceID, "", []string{normalized}, -1, opts.PositionMs)
	default:
		return c.playContext(ctx, api, deviceID, normalized, kind, opts)
	}
}

func (c *Commander) playShow(ctx context.Context, api core.WebAPI, deviceID, uri string, opts Options) error {
	showID := strings.Split(uri, ":")[2]

	result, err := api.ShowEpisodes(ctx, showID, opts.Country, episodePageLimit, 0)
	if err != nil {
		return err
	}

	items, _ := result["items"].([]any)
	if len(items) == 0 {
		return &core.RemotePlaybackError{Message: fmt.Sprintf("show %q has no episodes", uri)}
	}

	episodeURI := ""
	for _, item := range items {
		episode, _ := item.(map[string]any)
		epURI, _ := episode["uri"].(string)
		if epURI == "" {
			continue
		}

		if fullyPlayed(episode) {
			c.played.Add(epURI)
		}

		if opts.IgnoreFullyPlayed && (fullyPlayed(episode) || c.played.Has(epURI)) {
			continue
		}

		episodeURI = epURI
		break
	}

	if episodeURI == "" {
		return &core.RemotePlaybackError{Message: fmt.Sprintf("no unplayed episode left in show %q", uri)}
	}

	c.logger.Debug("Playing show episode", zap.String("episodeURI", episodeURI))
	return api.StartPlayback(ctx, deviceID, "", []string{episodeURI}, -1, opts.PositionMs)
}

func (c *Commander) playContext(ctx context.Context, api core.WebAPI, deviceID, uri, kind string, opts Options) error {
	position := opts.Position

	if opts.Random {
		total, err := c.contextSize(ctx, api, uri, kind, opts.Country)
		if err != nil {
			return err
		}
		if total > 0 {
			position = rng.Intn(total)
			c.logger.Debug("Starting playback at random position",
				zap.Int("position", position))
		}
	}

	// Artist contexts do not accept an offset.
	if kind == "artist" {
		position = -1
	}

	return api.StartPlayback(ctx, deviceID, uri, nil, position, opts.PositionMs)
}

// contextSize resolves the item count of a playable context with a
// single one-item page fetch.
func (c *Commander) contextSize(ctx context.Context, api core.WebAPI, uri, kind, country string) (int, error) {
	id := strings.Split(uri, ":")[2]

	var (
		result map[string]any
		err    error
	)

	switch {
	case kind == "album":
		result, err = api.AlbumTracks(ctx, id, country, 1, 0)
	case kind == "playlist":
		result, err = api.PlaylistItems(ctx, id, 1, 0)
	case strings.HasSuffix(uri, ":collection"):
		result, err = api.SavedTracks(ctx, 1, 0)
	default:
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	switch total := result["total"].(type) {
	case float64:
		return int(total), nil
	case int:
		return total, nil
	default:
		return 0, nil
	}
}

func (c *Commander) pickRandomPlaylist(ctx context.Context, api core.WebAPI) (string, error) {
	result, err := api.CurrentUserPlaylists(ctx, episodePageLimit, 0)
	if err != nil {
		return "", err
	}

	items, _ := result["items"].([]any)
	if len(items) == 0 {
		return "", &core.RemotePlaybackError{Message: "account has no playlists to pick from"}
	}

	playlist, _ := items[rng.Intn(len(items))].(map[string]any)
	uri, _ := playlist["uri"].(string)

	c.logger.Debug("Picked random playlist", zap.String("uri", uri))
	return uri, nil
}

// applyExtras sequences volume, shuffle and repeat after playback has
// started. Each call waits out the settle delay first, since the receiver
// needs time to register the new session. One failing setting does not
// stop the next.
func (c *Commander) applyExtras(ctx context.Context, api core.WebAPI, deviceID string, opts Options) {
	if opts.Volume >= 0 {
		c.settle(ctx)
		if err := api.SetVolume(ctx, deviceID, opts.Volume); err != nil {
			c.logger.Warn("Failed to set volume", zap.Error(err))
		}
	}

	if opts.Shuffle != nil {
		c.settle(ctx)
		if err := api.Shuffle(ctx, deviceID, *opts.Shuffle); err != nil {
			c.logger.Warn("Failed to set shuffle", zap.Error(err))
		}
	}

	if opts.Repeat != "" {
		c.settle(ctx)
		if err := api.Repeat(ctx, deviceID, opts.Repeat); err != nil {
			c.logger.Warn("Failed to set repeat", zap.Error(err))
		}
	}
}

func (c *Commander) settle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.settleDelay):
	}
}

func fullyPlayed(episode map[string]any) bool {
	resume, _ := episode["resume_point"].(map[string]any)
	played, _ := resume["fully_played"].(bool)
	return played
}

// NormalizeURI canonicalizes a playback target: any trailing query
// component is stripped, the scheme and entity-type segments are
// lower-cased, and the identifier keeps its case. URIs without at least
// scheme, type and identifier segments are rejected.
func NormalizeURI(uri string) (string, error) {
	if idx := strings.Index(uri, "?"); idx != -1 {
		uri = uri[:idx]
	}

	parts := strings.Split(uri, ":")
	if len(parts) < 3 {
		return "", &core.InvalidURIError{URI: uri}
	}

	for _, part := range parts {
		if part == "" {
			return "", &core.InvalidURIError{URI: uri}
		}
	}

	parts[0] = strings.ToLower(parts[0])
	parts[1] = strings.ToLower(parts[1])

	return strings.Join(parts, ":"), nil
}
