/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"gorm.io/gorm"
)

// FillerSettings stores the filler playlist configuration and cursor.
// Uses singleton pattern with a fixed ID=1 row so the cursor survives
// restarts independently of the queue file.
type FillerSettings struct {
	ID         int    `gorm:"primaryKey"`
	SourceRef  string `gorm:"type:varchar(512)"`
	StartIndex int
	Shuffle    bool
	// ShuffleSeed makes the shuffled order reproducible across restarts.
	ShuffleSeed int64
	Cursor      int
	Length      int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the table name for GORM.
func (FillerSettings) TableName() string {
	return "filler_settings"
}

// GetFillerSettings retrieves the singleton settings row, creating it if it
// doesn't exist.
func GetFillerSettings(db *gorm.DB) (*FillerSettings, error) {
	var settings FillerSettings
	result := db.FirstOrCreate(&settings, FillerSettings{ID: 1})
	if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}

// PlayHistory records every entry that finished or was skipped off the
// active slot, and whether it was submitted to the archive hook.
type PlayHistory struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MediaID   string `gorm:"type:varchar(64);index"`
	Title     string `gorm:"type:varchar(512)"`
	Filler    bool
	Skipped   bool
	Archived  bool
	PlayedAt  time.Time `gorm:"index"`
	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (PlayHistory) TableName() string {
	return "play_history"
}
