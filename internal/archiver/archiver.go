/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package archiver submits finished plays to the external watched-playlist
// archiver and records play history locally.
package archiver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_jukebox/internal/models"
	"github.com/friendsincode/bragi_jukebox/internal/queue"
)

// Archiver accepts entries that left the active slot.
type Archiver interface {
	// Submit records the play and, unless disabled, delivers it to the
	// external archive hook. skipped marks entries cleared by a skip
	// rather than a natural end.
	Submit(ctx context.Context, entry queue.Entry, skipped bool) error
}

// hookPayload is the JSON body delivered to the archive hook.
type hookPayload struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Filler   bool      `json:"filler"`
	Skipped  bool      `json:"skipped"`
	PlayedAt time.Time `json:"played_at"`
}

// Service delivers plays to an HTTP hook with an HMAC signature and keeps a
// play_history row per submission. An empty hook URL disables delivery;
// history is recorded either way.
type Service struct {
	db     *gorm.DB
	url    string
	secret string
	client *http.Client
	logger zerolog.Logger
}

// NewService creates an archiver service.
func NewService(db *gorm.DB, url, secret string, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "archiver").Logger(),
	}
}

// Submit implements Archiver.
func (s *Service) Submit(ctx context.Context, entry queue.Entry, skipped bool) error {
	record := models.PlayHistory{
		MediaID:  entry.ID,
		Title:    entry.Title,
		Filler:   entry.Filler,
		Skipped:  skipped,
		PlayedAt: time.Now().UTC(),
	}

	if s.url != "" {
		if err := s.deliver(ctx, record); err != nil {
			s.logger.Warn().Err(err).Str("id", entry.ID).Msg("archive hook delivery failed")
		} else {
			record.Archived = true
		}
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("record play history: %w", err)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, record models.PlayHistory) error {
	body, err := json.Marshal(hookPayload{
		ID:       record.MediaID,
		Title:    record.Title,
		Filler:   record.Filler,
		Skipped:  record.Skipped,
		PlayedAt: record.PlayedAt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		mac := hmac.New(sha256.New, []byte(s.secret))
		mac.Write(body)
		req.Header.Set("X-Bragi-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("archive hook returned %d", resp.StatusCode)
	}
	s.logger.Debug().Str("id", record.MediaID).Msg("play archived")
	return nil
}
