package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/bendikrb/spotcast/internal/core"
)

const (
	// tokenExpiryMargin treats tokens as expired slightly before their
	// literal expiry to avoid races with in-flight requests.
	tokenExpiryMargin = 30 * time.Second

	webTokenURL = "https://open.spotify.com/get_access_token?reason=transport&productType=web_player"

	webTokenTimeout = 10 * time.Second
)

// ExternalSession guards the OAuth token used for Web API calls. Refresh
// goes through the wrapped token source; a failed refresh surfaces as an
// AuthError and is never retried internally.
type ExternalSession struct {
	mu     sync.Mutex
	token  *oauth2.Token
	source oauth2.TokenSource
	logger *zap.Logger
}

func NewExternalSession(token *oauth2.Token, source oauth2.TokenSource, logger *zap.Logger) *ExternalSession {
	return &ExternalSession{
		token:  token,
		source: source,
		logger: logger,
	}
}

// EnsureTokenValid refreshes the token when it is within the expiry
// margin. Safe to call redundantly.
func (s *ExternalSession) EnsureTokenValid(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != nil && time.Until(s.token.Expiry) > tokenExpiryMargin {
		return nil
	}

	s.logger.Debug("Refreshing external api token")

	fresh, err := s.source.Token()
	if err != nil {
		return &core.AuthError{Session: "external", Err: err}
	}

	s.token = fresh
	return nil
}

// AccessToken returns the current bearer token without refreshing.
func (s *ExternalSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// Token implements oauth2.TokenSource so HTTP clients built on the
// session transparently pick up refreshed tokens.
func (s *ExternalSession) Token() (*oauth2.Token, error) {
	if err := s.EnsureTokenValid(context.Background()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

// InternalSession exchanges the account's web-player cookies for the
// device-identity token the launch handshake hands to the receiver app.
type InternalSession struct {
	mu          sync.Mutex
	spDC        string
	spKey       string
	accessToken string
	expiresAt   time.Time

	tokenURL   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewInternalSession(spDC, spKey string, logger *zap.Logger) *InternalSession {
	return &InternalSession{
		spDC:       spDC,
		spKey:      spKey,
		tokenURL:   webTokenURL,
		httpClient: &http.Client{Timeout: webTokenTimeout},
		logger:     logger,
	}
}

// EnsureTokenValid refreshes the device token when it is within the
// expiry margin.
func (s *InternalSession) EnsureTokenValid(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Until(s.expiresAt) > tokenExpiryMargin {
		return nil
	}

	s.logger.Debug("Refreshing internal api token")

	token, expiresAt, err := s.fetchToken(ctx)
	if err != nil {
		return &core.AuthError{Session: "internal", Err: err}
	}

	s.accessToken = token
	s.expiresAt = expiresAt
	return nil
}

// AccessToken returns the current device token without refreshing.
func (s *InternalSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// ExpiresAt returns the expiry of the current device token.
func (s *InternalSession) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *InternalSession) fetchToken(ctx context.Context) (string, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.tokenURL, http.NoBody)
	if err != nil {
		return "", time.Time{}, err
	}

	req.AddCookie(&http.Cookie{Name: "sp_dc", Value: s.spDC})
	req.AddCookie(&http.Cookie{Name: "sp_key", Value: s.spKey})
	req.Header.Set("User-Agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/105.0.0.0 Safari/537.36")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// A redirect back to the token endpoint means the cookies
		// themselves are no longer accepted.
		return "", time.Time{}, fmt.Errorf("token endpoint returned status %d, sp_dc/sp_key may be expired", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, err
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
		ExpiresMs   int64  `json:"accessTokenExpirationTimestampMs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode token response: %w", err)
	}

	if payload.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned an empty token")
	}

	return payload.AccessToken, time.UnixMilli(payload.ExpiresMs), nil
}
