package core

import (
	"context"
)

// WebAPI is the catalog and playback capability of the music service.
// Fetch operations return the decoded JSON payload of the endpoint so
// callers can page and project without a fixed schema. Playback
// operations return a RemotePlaybackError when the service rejects the
// command.
//
// For paged endpoints, offset values below zero mean "no offset".
type WebAPI interface {
	Me(ctx context.Context) (map[string]any, error)
	Devices(ctx context.Context) (map[string]any, error)
	CurrentUserPlaylists(ctx context.Context, limit, offset int) (map[string]any, error)
	SavedTracks(ctx context.Context, limit, offset int) (map[string]any, error)
	Categories(ctx context.Context, country, locale string, limit, offset int) (map[string]any, error)
	CategoryPlaylists(ctx context.Context, categoryID, country string, limit, offset int) (map[string]any, error)
	FeaturedPlaylists(ctx context.Context, country, locale string, limit int) (map[string]any, error)
	Search(ctx context.Context, query, itemType, market string, limit, offset int) (map[string]any, error)
	ShowEpisodes(ctx context.Context, showID, market string, limit, offset int) (map[string]any, error)
	AlbumTracks(ctx context.Context, albumID, market string, limit, offset int) (map[string]any, error)
	PlaylistItems(ctx context.Context, playlistID string, limit, offset int) (map[string]any, error)

	StartPlayback(ctx context.Context, deviceID, contextURI string, uris []string, offset, positionMs int) error
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
	Shuffle(ctx context.Context, deviceID string, state bool) error
	Repeat(ctx context.Context, deviceID, state string) error
	SetVolume(ctx context.Context, deviceID string, percent int) error
}

// CastTransport is the namespace channel to one cast device. Send must
// not block on delivery; inbound messages are delivered by the transport
// owner to the registered handler.
type CastTransport interface {
	FriendlyName() string
	StartApp(ctx context.Context) error
	Send(msg map[string]any) error
}
