package db

import (
	"path/filepath"
	"testing"

	"github.com/friendsincode/bragi_jukebox/internal/config"
	"github.com/friendsincode/bragi_jukebox/internal/models"
)

func TestConnectSQLiteAndMigrate(t *testing.T) {
	cfg := &config.Config{
		DBBackend: config.DatabaseSQLite,
		DBDSN:     filepath.Join(t.TempDir(), "jukebox.db"),
	}

	gormDB, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(gormDB)

	if err := Migrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	settings, err := models.GetFillerSettings(gormDB)
	if err != nil {
		t.Fatalf("settings singleton: %v", err)
	}
	if settings.ID != 1 {
		t.Fatalf("want singleton id 1, got %d", settings.ID)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("sqlite must run single-connection, got max %d", got)
	}
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{DBBackend: "oracle", DBDSN: "x"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
