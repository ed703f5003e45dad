package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Player    PlayerConfig    `toml:"player"`
	Library   LibraryConfig   `toml:"library"`
	Playlists PlaylistsConfig `toml:"playlists"`
	Remote    RemoteConfig    `toml:"remote"`
	Lyrics    LyricsConfig    `toml:"lyrics"`
	Logging   LoggingConfig   `toml:"logging"`
}

// PlayerConfig contains audio output configuration
type PlayerConfig struct {
	Volume       float64 `toml:"volume"` // 0.0 to 1.0
	SampleRate   int     `toml:"sample_rate"`
	BufferMillis int     `toml:"buffer_ms"`
}

// LibraryConfig contains local music library configuration
type LibraryConfig struct {
	Path             string   `toml:"path"`
	IndexPath        string   `toml:"index_path"`
	SupportedFormats []string `toml:"supported_formats"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
	ScanOnStartup    bool     `toml:"scan_on_startup"`
}

// PlaylistsConfig contains playlist persistence configuration
type PlaylistsConfig struct {
	Dir string `toml:"dir"`
}

// RemoteConfig contains WebDAV remote storage configuration
type RemoteConfig struct {
	StagingDir      string           `toml:"staging_dir"`
	CacheTTLSeconds int              `toml:"cache_ttl_seconds"`
	KeyFile         string           `toml:"key_file"`
	Endpoints       []RemoteEndpoint `toml:"endpoints"`
}

// RemoteEndpoint describes one WebDAV server. Password may be stored
// sealed (see internal/remote Keychain) or supplied via environment.
type RemoteEndpoint struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// LyricsConfig controls lyrics lookup
type LyricsConfig struct {
	FetchOnline bool `toml:"fetch_online"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Player: PlayerConfig{
			Volume:       1.0,
			SampleRate:   44100,
			BufferMillis: 100,
		},
		Library: LibraryConfig{
			Path:             "./music",
			IndexPath:        "./cantabile.db",
			SupportedFormats: []string{".flac", ".mp3", ".wav", ".m4a", ".ogg"},
			WatchForChanges:  true,
			ScanOnStartup:    true,
		},
		Playlists: PlaylistsConfig{
			Dir: "./playlists",
		},
		Remote: RemoteConfig{
			StagingDir:      "",
			CacheTTLSeconds: 300,
			KeyFile:         "./cantabile.key",
			Endpoints:       nil,
		},
		Lyrics: LyricsConfig{
			FetchOnline: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
		return cfg, nil
	}

	// Load from file
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Cantabile Music Player Configuration
# This file contains all configuration options for the cantabile music player.
# Edit the values below to customize playback, library and remote settings.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate player config
	if c.Player.Volume < 0.0 || c.Player.Volume > 1.0 {
		return fmt.Errorf("player volume must be between 0.0 and 1.0")
	}
	if c.Player.SampleRate <= 0 {
		return fmt.Errorf("player sample rate must be positive")
	}
	if c.Player.BufferMillis <= 0 {
		return fmt.Errorf("player buffer size must be positive")
	}

	// Validate library config
	if c.Library.Path == "" {
		return fmt.Errorf("music library path cannot be empty")
	}
	if c.Library.IndexPath == "" {
		return fmt.Errorf("library index path cannot be empty")
	}
	if len(c.Library.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}

	// Validate playlist config
	if c.Playlists.Dir == "" {
		return fmt.Errorf("playlists directory cannot be empty")
	}

	// Validate remote config
	if c.Remote.CacheTTLSeconds < 0 {
		return fmt.Errorf("remote cache TTL must not be negative")
	}
	for _, ep := range c.Remote.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("remote endpoint name cannot be empty")
		}
		if ep.URL == "" {
			return fmt.Errorf("remote endpoint %q has no URL", ep.Name)
		}
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// Endpoint returns the remote endpoint with the given name, if configured.
func (c *Config) Endpoint(name string) (RemoteEndpoint, bool) {
	for _, ep := range c.Remote.Endpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return RemoteEndpoint{}, false
}

// IsFormatSupported checks if an audio format is supported
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Library.SupportedFormats {
		if supported == format {
			return true
		}
	}
	return false
}
