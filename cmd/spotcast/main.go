// Package main provides the spotcast CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/bendikrb/spotcast/internal/bridge"
	"github.com/bendikrb/spotcast/internal/core"
	httpserver "github.com/bendikrb/spotcast/internal/http"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "spotcast",
	Short: "Spotcast - Spotify → Cast Device Bridge",
	Long: `Spotcast is a service that bridges Spotify accounts to cast devices:
it caches account data, launches the Spotify receiver app on a device and
hands playback over to it.`,
	RunE: runSpotcast,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify client secret")
	rootCmd.PersistentFlags().String("spotify-refresh-token", "", "Spotify OAuth refresh token of the default account")
	rootCmd.PersistentFlags().String("spotify-sp-dc", "", "sp_dc web-player cookie of the default account")
	rootCmd.PersistentFlags().String("spotify-sp-key", "", "sp_key web-player cookie of the default account")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().Int("launch-timeout", 10, "Receiver app launch timeout in seconds")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
	}

	viper.SetEnvPrefix("SPOTCAST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	if redirectURL := viper.GetString("spotify-redirect-url"); redirectURL != "" {
		cfg.Spotify.RedirectURL = redirectURL
	}

	if launchTimeout := viper.GetInt("launch-timeout"); launchTimeout > 0 {
		cfg.Cast.LaunchTimeout = time.Duration(launchTimeout) * time.Second
	}

	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	cfg.Server.Port = viper.GetInt("server-port")

	cfg.Log.Level = viper.GetString("log-level")

	// Multiple accounts come from the config file; the flat flags
	// describe a single default account.
	if err := viper.UnmarshalKey("accounts", &cfg.Accounts); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading accounts: %v\n", err)
		os.Exit(1)
	}

	if len(cfg.Accounts) == 0 {
		cfg.Accounts = []core.AccountEntry{{
			IsDefault:    true,
			RefreshToken: viper.GetString("spotify-refresh-token"),
			SpDC:         viper.GetString("spotify-sp-dc"),
			SpKey:        viper.GetString("spotify-sp-key"),
		}}
	}

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runSpotcast(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting Spotcast",
		zap.String("version", "1.0.0"),
		zap.Int("accounts", len(config.Accounts)))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	httpServer := httpserver.NewServer(&config.Server, logger.Named("http"))

	controller := bridge.NewController(config, httpServer, logger.Named("bridge"))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return controller.Start(gCtx)
	})

	logger.Info("Spotcast started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("Spotcast stopped with error", zap.Error(err))
		return err
	}

	logger.Info("Spotcast stopped gracefully")
	return nil
}

func validateConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}

	if config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}

	for _, entry := range config.Accounts {
		if entry.SpDC == "" || entry.SpKey == "" {
			return fmt.Errorf("sp_dc and sp_key cookies are required for every account")
		}
	}

	defaults := 0
	for _, entry := range config.Accounts {
		if entry.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one account may be the default")
	}

	return nil
}
