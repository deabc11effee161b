package core

import (
	"time"
)

type Config struct {
	Spotify SpotifyConfig
	Cast    CastConfig
	Server  ServerConfig
	Log     LogConfig

	// Accounts holds the persisted account entries loaded at startup.
	Accounts []AccountEntry
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	PageLimit         int
	RequestsPerSecond float64
	RequestBurst      int
}

type CastConfig struct {
	LaunchTimeout    time.Duration
	QuickPlayTimeout time.Duration
	SettleDelay      time.Duration
	DeviceAuthURL    string
}

// AccountEntry is the persisted configuration record for one account,
// keyed by an opaque entry id. At most one entry may be the default.
type AccountEntry struct {
	EntryID      string
	IsDefault    bool
	RefreshToken string
	SpDC         string
	SpKey        string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL:       "http://localhost:8080/callback",
			PageLimit:         50,
			RequestsPerSecond: 10,
			RequestBurst:      5,
		},
		Cast: CastConfig{
			LaunchTimeout:    10 * time.Second,
			QuickPlayTimeout: 20 * time.Second,
			SettleDelay:      2 * time.Second,
			DeviceAuthURL:    "https://spclient.wg.spotify.com/device-auth/v1/refresh",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
