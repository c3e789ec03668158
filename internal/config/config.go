/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// DataDir is the root for everything the jukebox persists locally:
	// the queue file, the active/staged media slots and thumbnails.
	DataDir      string
	QueuePath    string
	MediaRoot    string
	ThumbnailDir string

	DBBackend DatabaseBackend
	DBDSN     string

	// External binaries the resolver and playback device drive.
	YTDLPBin  string
	PlayerBin string

	// PlayerSocket is the unix socket path for the player IPC channel.
	PlayerSocket string

	// PollInterval bounds the scheduler's idle wait so it periodically
	// re-checks the stop signal even without external wake-ups.
	PollInterval time.Duration

	// Archive hook. Empty URL disables delivery.
	ArchiveHookURL    string
	ArchiveHookSecret string

	MetricsEnabled bool
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	dataDir := getEnv("BRAGI_DATA_DIR", "./data")

	cfg := &Config{
		Environment:       getEnv("BRAGI_ENV", "development"),
		HTTPBind:          getEnv("BRAGI_HTTP_BIND", "0.0.0.0"),
		HTTPPort:          getEnvInt("BRAGI_HTTP_PORT", 8080),
		DataDir:           dataDir,
		QueuePath:         getEnv("BRAGI_QUEUE_PATH", filepath.Join(dataDir, "QUEUE")),
		MediaRoot:         getEnv("BRAGI_MEDIA_ROOT", filepath.Join(dataDir, "media")),
		ThumbnailDir:      getEnv("BRAGI_THUMBNAIL_DIR", filepath.Join(dataDir, "thumbnails")),
		DBBackend:         DatabaseBackend(getEnv("BRAGI_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:             getEnv("BRAGI_DB_DSN", filepath.Join(dataDir, "bragi.db")),
		YTDLPBin:          getEnv("BRAGI_YTDLP_BIN", "yt-dlp"),
		PlayerBin:         getEnv("BRAGI_PLAYER_BIN", "mpv"),
		PlayerSocket:      getEnv("BRAGI_PLAYER_SOCKET", filepath.Join(dataDir, "player.sock")),
		PollInterval:      time.Duration(getEnvInt("BRAGI_POLL_INTERVAL_SECONDS", 3)) * time.Second,
		ArchiveHookURL:    getEnv("BRAGI_ARCHIVE_HOOK_URL", ""),
		ArchiveHookSecret: getEnv("BRAGI_ARCHIVE_HOOK_SECRET", ""),
		MetricsEnabled:    getEnvBool("BRAGI_METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unknown database backend: %s", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("BRAGI_DB_DSN must be set")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

// EnsureDirs creates the local directories the jukebox writes into.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.MediaRoot, c.ThumbnailDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
