package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cantabile/internal/cache"
	"cantabile/internal/config"
	"cantabile/internal/library"
	"cantabile/internal/lyrics"
	"cantabile/internal/metadata"
	"cantabile/internal/player"
	"cantabile/internal/playlist"
	"cantabile/internal/remote"
	"cantabile/internal/session"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "./config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Optional .env overlay for secrets (remote passwords)
	if err := godotenv.Load(".env"); err == nil {
		logger.Debug("Loaded environment from .env file")
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}
	applyLogConfig(logger, cfg.Logging)

	// Check if music directory exists
	if _, err := os.Stat(cfg.Library.Path); os.IsNotExist(err) {
		logger.WithField("library_path", cfg.Library.Path).Fatal("Music directory does not exist. Please create it and add your music files.")
	}

	// Initialize the library index and scanner
	index, err := library.OpenIndex(cfg.Library.IndexPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing library index")
	}
	defer index.Close()

	extractor := metadata.NewExtractor(cfg.Library.SupportedFormats, logger)
	scanner := library.NewScanner(cfg.Library.Path, extractor, index, logger)

	if cfg.Library.ScanOnStartup {
		if _, err := scanner.Scan(); err != nil {
			logger.WithError(err).Warn("Library scan failed")
		}
		if n, err := index.Count(); err == nil && n == 0 {
			logger.WithField("supported_formats", cfg.Library.SupportedFormats).Warn("No supported audio files found in music directory")
		}
	}
	if cfg.Library.WatchForChanges {
		if err := scanner.StartWatcher(); err != nil {
			logger.WithError(err).Warn("Could not start library watcher")
		}
		defer scanner.StopWatcher()
	}

	// Load playlists from disk
	store := playlist.NewStore(logger)
	if _, err := store.Load(cfg.Playlists.Dir); err != nil {
		logger.WithError(err).Warn("Could not load playlists")
	}

	// Connect configured WebDAV endpoints
	remotes, err := connectRemotes(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error configuring remote endpoints")
	}

	// Playback engine and session coordinator
	engine := player.NewEngine(logger,
		player.WithSampleRate(cfg.Player.SampleRate, time.Duration(cfg.Player.BufferMillis)*time.Millisecond))
	engine.SetVolume(cfg.Player.Volume)

	coordinator := session.NewCoordinator(engine, logger,
		session.WithResolver(newRemoteResolver(remotes)))
	defer coordinator.Close()

	lyricsLoader := lyrics.NewLoader(logger,
		lyrics.WithOnlineFetch(cfg.Lyrics.FetchOnline))

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	console := newRepl(cfg, logger, index, scanner, extractor, store, engine, coordinator, remotes, lyricsLoader)
	consoleDone := make(chan struct{})
	go func() {
		console.run()
		close(consoleDone)
	}()

	select {
	case <-c:
		logger.Info("Received shutdown signal")
	case <-consoleDone:
	}

	engine.Stop()
}

// applyLogConfig reconfigures the startup logger from the loaded config.
func applyLogConfig(logger *logrus.Logger, lc config.LoggingConfig) {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if lc.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.WithError(err).Warn("Could not open log file, logging to stderr")
			return
		}
		logger.SetOutput(f)
	}
}

// connectRemotes builds a WebDAV client per configured endpoint, resolving
// each password from the environment first, then the keychain-sealed config
// value.
func connectRemotes(cfg *config.Config, logger *logrus.Logger) (map[string]*remote.Client, error) {
	remotes := make(map[string]*remote.Client)
	if len(cfg.Remote.Endpoints) == 0 {
		return remotes, nil
	}

	keychain, err := remote.OpenKeychain(cfg.Remote.KeyFile)
	if err != nil {
		return nil, err
	}

	staging := cfg.Remote.StagingDir
	if staging == "" {
		staging = os.TempDir()
	}
	staged := cache.NewStageCache(time.Duration(cfg.Remote.CacheTTLSeconds) * time.Second)

	for _, ep := range cfg.Remote.Endpoints {
		password, err := resolvePassword(ep, keychain)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}

		client, err := remote.NewClient(ep.URL, logger,
			remote.WithBasicAuth(ep.Username, password),
			remote.WithStagingDir(staging),
			remote.WithStageCache(staged))
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}
		remotes[ep.Name] = client
		logger.WithFields(logrus.Fields{
			"endpoint": ep.Name,
			"url":      ep.URL,
		}).Info("Configured remote endpoint")
	}
	return remotes, nil
}

// resolvePassword prefers CANTABILE_<NAME>_PASSWORD from the environment;
// a config value prefixed "sealed:" is opened with the keychain, anything
// else is taken as plaintext.
func resolvePassword(ep config.RemoteEndpoint, keychain *remote.Keychain) (string, error) {
	envKey := "CANTABILE_" + strings.ToUpper(strings.ReplaceAll(ep.Name, "-", "_")) + "_PASSWORD"
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	if sealed, ok := strings.CutPrefix(ep.Password, "sealed:"); ok {
		return keychain.Open(sealed)
	}
	return ep.Password, nil
}
