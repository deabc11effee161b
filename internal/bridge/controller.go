// Package bridge ties the account caches, the cast launch handshake and
// the playback commander together behind one service surface.
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"

	"github.com/bendikrb/spotcast/internal/cast"
	"github.com/bendikrb/spotcast/internal/core"
	"github.com/bendikrb/spotcast/internal/player"
	"github.com/bendikrb/spotcast/internal/spotify"
	"github.com/bendikrb/spotcast/internal/store"
)

const (
	playedStoreCapacity          = 10000
	playedStoreFalsePositiveRate = 0.001
)

// Metrics receives bridge activity events. A nil recorder passed to
// NewController disables reporting.
type Metrics interface {
	spotify.MetricsRecorder
	RecordLaunch(outcome string, duration time.Duration)
	RecordPlayback(kind, status string)
	RecordTokenRefresh(session, status string)
	RecordError(component, errorType string)
	SetLinkedAccounts(count int)
	SetActiveReceivers(count int)
}

type noopMetrics struct{}

func (noopMetrics) RecordRefresh(string) {}

func (noopMetrics) RecordCacheHit(string) {}

func (noopMetrics) RecordLaunch(string, time.Duration) {}

func (noopMetrics) RecordPlayback(string, string) {}

func (noopMetrics) RecordTokenRefresh(string, string) {}

func (noopMetrics) RecordError(string, string) {}

func (noopMetrics) SetLinkedAccounts(int) {}

func (noopMetrics) SetActiveReceivers(int) {}

// Controller owns the configured accounts and one launch negotiator per
// cast device. All service entry points resolve their account first: an
// empty entry id means the default account.
type Controller struct {
	config    *core.Config
	logger    *zap.Logger
	metrics   Metrics
	commander *player.Commander

	mu          sync.Mutex
	accounts    map[string]*spotify.Account
	defaultID   string
	negotiators map[string]*cast.Negotiator
}

func NewController(config *core.Config, metrics Metrics, logger *zap.Logger) *Controller {
	played := store.NewPlayedStore(playedStoreCapacity, playedStoreFalsePositiveRate)

	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Controller{
		config:      config,
		logger:      logger,
		metrics:     metrics,
		commander:   player.NewCommander(played, config.Cast.SettleDelay, logger),
		accounts:    make(map[string]*spotify.Account),
		negotiators: make(map[string]*cast.Negotiator),
	}
}

// Start builds the accounts from the configured entries and blocks until
// the context ends. An account whose tokens cannot be refreshed is still
// registered; its first operation will surface the error.
func (c *Controller) Start(ctx context.Context) error {
	c.logger.Info("Starting bridge controller",
		zap.Int("accounts", len(c.config.Accounts)))

	for _, entry := range c.config.Accounts {
		account := c.buildAccount(ctx, entry)

		c.mu.Lock()
		c.accounts[account.EntryID()] = account
		if account.IsDefault() || c.defaultID == "" {
			c.defaultID = account.EntryID()
		}
		c.mu.Unlock()

		if err := account.EnsureTokensValid(ctx); err != nil {
			c.logger.Warn("Initial token refresh failed",
				zap.String("entryID", account.EntryID()),
				zap.Error(err))
			c.metrics.RecordTokenRefresh(account.EntryID(), "failure")
			c.metrics.RecordError("bridge", "token_refresh")
		} else {
			c.metrics.RecordTokenRefresh(account.EntryID(), "success")
		}
	}

	c.metrics.SetLinkedAccounts(len(c.config.Accounts))

	<-ctx.Done()
	c.logger.Info("Stopping bridge controller")
	return ctx.Err()
}

func (c *Controller) buildAccount(ctx context.Context, entry core.AccountEntry) *spotify.Account {
	entryID := entry.EntryID
	if entryID == "" {
		entryID = uuid.NewString()
	}

	logger := c.logger.With(zap.String("entryID", entryID))

	oauthConfig := &oauth2.Config{
		ClientID:     c.config.Spotify.ClientID,
		ClientSecret: c.config.Spotify.ClientSecret,
		RedirectURL:  c.config.Spotify.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
		},
	}

	token := &oauth2.Token{RefreshToken: entry.RefreshToken}
	external := spotify.NewExternalSession(token, oauthConfig.TokenSource(ctx, token), logger)
	internal := spotify.NewInternalSession(entry.SpDC, entry.SpKey, logger)
	client := spotify.NewClient(ctx, external, logger)

	account := spotify.NewAccount(
		&c.config.Spotify, entryID, entry.IsDefault, external, internal, client, logger)
	account.SetMetrics(c.metrics)
	return account
}

// Account resolves an entry id to its account. An empty id resolves to
// the default account.
func (c *Controller) Account(entryID string) (*spotify.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entryID == "" {
		entryID = c.defaultID
	}

	account, ok := c.accounts[entryID]
	if !ok {
		return nil, &core.UnknownTargetError{Kind: "account", ID: entryID}
	}
	return account, nil
}

// Accounts returns all registered accounts.
func (c *Controller) Accounts() []*spotify.Account {
	c.mu.Lock()
	defer c.mu.Unlock()

	accounts := make([]*spotify.Account, 0, len(c.accounts))
	for _, account := range c.accounts {
		accounts = append(accounts, account)
	}
	return accounts
}

// GetDevices returns the devices linked to the account.
func (c *Controller) GetDevices(ctx context.Context, entryID string) ([]any, error) {
	account, err := c.Account(entryID)
	if err != nil {
		return nil, err
	}
	return account.Devices(ctx, false)
}

// GetPlaylists returns playlists of the requested view: "user" for the
// account's own playlists, "featured" for the editorial selection, any
// other value is treated as a browse category id. The locale is
// normalized to a canonical BCP 47 tag; an unparsable locale falls back
// to the service default.
func (c *Controller) GetPlaylists(ctx context.Context, entryID, view, locale string, limit int) ([]any, error) {
	account, err := c.Account(entryID)
	if err != nil {
		return nil, err
	}

	switch view {
	case "", "user":
		playlists, err := account.Playlists(ctx, false)
		if err != nil {
			return nil, err
		}
		return capList(playlists, limit), nil

	case "featured":
		result, err := account.API().FeaturedPlaylists(
			ctx, account.Country(), normalizeLocale(locale), limit)
		if err != nil {
			return nil, err
		}
		playlists, _ := result["playlists"].(map[string]any)
		items, _ := playlists["items"].([]any)
		return items, nil

	default:
		playlists, err := account.CategoryPlaylists(ctx, view)
		if err != nil {
			return nil, err
		}
		return capList(playlists, limit), nil
	}
}

// GetCategories returns the browse categories available to the account.
func (c *Controller) GetCategories(ctx context.Context, entryID string, force bool) ([]any, error) {
	account, err := c.Account(entryID)
	if err != nil {
		return nil, err
	}
	return account.Categories(ctx, force)
}

// LikedSongs returns the uris of the account's saved tracks.
func (c *Controller) LikedSongs(ctx context.Context, entryID string, force bool) ([]string, error) {
	account, err := c.Account(entryID)
	if err != nil {
		return nil, err
	}
	return account.LikedSongs(ctx, force)
}

// LikedSongsCount returns the number of saved tracks of the account.
func (c *Controller) LikedSongsCount(ctx context.Context, entryID string) (int, error) {
	account, err := c.Account(entryID)
	if err != nil {
		return 0, err
	}
	return account.LikedSongsCount(ctx)
}

// Search runs a validated search for the account.
func (c *Controller) Search(ctx context.Context, entryID string, query *spotify.SearchQuery, maxItems int) ([]any, error) {
	account, err := c.Account(entryID)
	if err != nil {
		return nil, err
	}
	return account.Search(ctx, query, maxItems)
}

// Launch starts the receiver app on the cast device, runs the
// authorization handshake and waits for the resulting playback device to
// register with the account. It returns the playback device id.
func (c *Controller) Launch(ctx context.Context, entryID string, transport core.CastTransport) (string, error) {
	account, err := c.Account(entryID)
	if err != nil {
		return "", err
	}
	return c.launch(ctx, account, transport, c.handshakeTimeout(false))
}

func (c *Controller) launch(ctx context.Context, account *spotify.Account, transport core.CastTransport, handshakeTimeout time.Duration) (string, error) {
	if err := account.EnsureTokensValid(ctx); err != nil {
		c.metrics.RecordTokenRefresh(account.EntryID(), "failure")
		c.metrics.RecordLaunch("auth_error", 0)
		return "", err
	}
	c.metrics.RecordTokenRefresh(account.EntryID(), "success")

	negotiator := c.negotiatorFor(transport)

	started := time.Now()
	err := negotiator.Launch(ctx,
		account.Internal().AccessToken(),
		account.Internal().ExpiresAt(),
		handshakeTimeout)
	if err != nil {
		c.metrics.RecordLaunch("failure", 0)
		return "", err
	}

	deviceID := negotiator.SpotifyDeviceID()
	if err := account.WaitForDevice(ctx, deviceID, c.config.Cast.QuickPlayTimeout); err != nil {
		c.metrics.RecordLaunch("device_timeout", 0)
		return "", err
	}

	c.metrics.RecordLaunch("success", time.Since(started))
	c.metrics.SetActiveReceivers(c.launchedCount())

	return deviceID, nil
}

// handshakeTimeout picks the bound for the launch handshake: the
// standard one for a bare launch, the longer one when playback follows
// immediately.
func (c *Controller) handshakeTimeout(quickPlay bool) time.Duration {
	if quickPlay {
		return c.config.Cast.QuickPlayTimeout
	}
	return c.config.Cast.LaunchTimeout
}

// Play launches the receiver app when needed and starts playback of uri
// on the device. An empty uri transfers the current playback instead.
// The handshake runs with the quick play bound.
func (c *Controller) Play(ctx context.Context, entryID string, transport core.CastTransport, uri string, opts player.Options) error {
	account, err := c.Account(entryID)
	if err != nil {
		return err
	}

	deviceID, err := c.launch(ctx, account, transport, c.handshakeTimeout(true))
	if err != nil {
		return err
	}

	if opts.Country == "" {
		opts.Country = account.Country()
	}

	kind := uriKind(uri)
	if err := c.commander.Play(ctx, account.API(), deviceID, uri, opts); err != nil {
		c.metrics.RecordPlayback(kind, "failure")
		return err
	}

	c.metrics.RecordPlayback(kind, "success")
	return nil
}

// OnCastMessage routes an inbound receiver app message to the device's
// negotiator. Messages for devices without a pending launch are dropped.
func (c *Controller) OnCastMessage(deviceName string, data map[string]any) {
	c.mu.Lock()
	negotiator, ok := c.negotiators[deviceName]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping message for unknown device",
			zap.String("deviceName", deviceName))
		return
	}

	negotiator.OnMessage(data)
}

func (c *Controller) negotiatorFor(transport core.CastTransport) *cast.Negotiator {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := transport.FriendlyName()
	if negotiator, ok := c.negotiators[name]; ok {
		return negotiator
	}

	negotiator := cast.NewNegotiator(transport, c.config.Cast.DeviceAuthURL,
		c.logger.With(zap.String("deviceName", name)))
	c.negotiators[name] = negotiator
	return negotiator
}

func (c *Controller) launchedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, negotiator := range c.negotiators {
		if negotiator.State() == cast.StateLaunched {
			count++
		}
	}
	return count
}

func normalizeLocale(locale string) string {
	if locale == "" {
		return ""
	}

	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	return tag.String()
}

func capList(items []any, limit int) []any {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func uriKind(uri string) string {
	if uri == "" {
		return "transfer"
	}
	if uri == "random" {
		return "playlist"
	}

	normalized, err := player.NormalizeURI(uri)
	if err != nil {
		return "invalid"
	}

	return strings.Split(normalized, ":")[1]
}
