package db

import (
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_jukebox/internal/models"
)

// Migrate applies schema migrations for all persisted models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.FillerSettings{},
		&models.PlayHistory{},
	)
}
