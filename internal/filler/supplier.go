/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package filler supplies entries from an endless secondary playlist. It is
// consulted only when the queue store pops empty.
package filler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_jukebox/internal/models"
	"github.com/friendsincode/bragi_jukebox/internal/queue"
	"github.com/friendsincode/bragi_jukebox/internal/resolver"
)

// ErrFillerConfig reports that the source's length could not be resolved.
// Filler is disabled until reconfigured.
var ErrFillerConfig = errors.New("filler source unresolvable")

// ErrDisabled reports that no filler source is configured.
var ErrDisabled = errors.New("filler disabled")

// Supplier tracks a playlist order and a cursor into it. The cursor only
// moves through Advance, which the scheduler calls when a filler entry is
// actually consumed; Next is a pure peek.
type Supplier struct {
	db       *gorm.DB
	resolver resolver.Resolver
	logger   zerolog.Logger

	mu        sync.Mutex
	sourceRef string
	order     []int
	cursor    int
}

// NewSupplier creates a filler supplier and restores any persisted
// configuration from the settings row.
func NewSupplier(db *gorm.DB, res resolver.Resolver, logger zerolog.Logger) (*Supplier, error) {
	s := &Supplier{
		db:       db,
		resolver: res,
		logger:   logger.With().Str("component", "filler").Logger(),
	}
	settings, err := models.GetFillerSettings(db)
	if err != nil {
		return nil, fmt.Errorf("load filler settings: %w", err)
	}
	if settings.SourceRef != "" && settings.Length > 0 {
		s.sourceRef = settings.SourceRef
		s.order = buildOrder(settings.Length, settings.Shuffle, settings.ShuffleSeed)
		s.cursor = settings.Cursor % settings.Length
		s.logger.Info().
			Str("source", s.sourceRef).
			Int("length", settings.Length).
			Int("cursor", s.cursor).
			Msg("restored filler configuration")
	}
	return s, nil
}

// buildOrder produces the index order [0, length), shuffled deterministically
// when requested so a restart replays the same permutation.
func buildOrder(length int, shuffle bool, seed int64) []int {
	order := make([]int, length)
	for i := range order {
		order[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(length, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

// Configure points the supplier at a playlist source. A changed sourceRef
// rebuilds the order and places the cursor at startIndex's position in it
// (0 when absent). Length resolution failure disables filler entirely.
func (s *Supplier) Configure(ctx context.Context, sourceRef string, startIndex int, shuffle bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sourceRef == "" {
		return s.disableLocked()
	}
	if sourceRef == s.sourceRef {
		return nil
	}

	length, err := s.resolver.PlaylistLength(ctx, sourceRef)
	if err != nil || length <= 0 {
		s.logger.Warn().Err(err).Str("source", sourceRef).Msg("failed to resolve filler source length")
		if derr := s.disableLocked(); derr != nil {
			return derr
		}
		return fmt.Errorf("%w: %s", ErrFillerConfig, sourceRef)
	}

	seed := time.Now().UnixNano()
	order := buildOrder(length, shuffle, seed)
	cursor := 0
	for i, idx := range order {
		if idx == startIndex {
			cursor = i
			break
		}
	}

	s.sourceRef = sourceRef
	s.order = order
	s.cursor = cursor

	if err := s.persistLocked(startIndex, shuffle, seed, length); err != nil {
		return err
	}
	s.logger.Info().Str("source", sourceRef).Int("length", length).Bool("shuffle", shuffle).Msg("filler configured")
	return nil
}

// Next resolves the entry at the cursor without advancing it.
func (s *Supplier) Next(ctx context.Context) (*queue.Entry, error) {
	s.mu.Lock()
	if len(s.order) == 0 {
		s.mu.Unlock()
		return nil, ErrDisabled
	}
	sourceRef := s.sourceRef
	index := s.order[s.cursor]
	s.mu.Unlock()

	entry, err := s.resolver.PlaylistItem(ctx, sourceRef, index)
	if err != nil {
		return nil, err
	}
	entry.Filler = true
	return entry, nil
}

// Advance moves the cursor forward, wrapping at the end of the order, and
// persists the new position.
func (s *Supplier) Advance(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return
	}
	s.cursor = ((s.cursor+delta)%len(s.order) + len(s.order)) % len(s.order)
	if err := s.db.Model(&models.FillerSettings{}).Where("id = ?", 1).
		Update("cursor", s.cursor).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to persist filler cursor")
	}
}

// Enabled reports whether a filler source is active.
func (s *Supplier) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order) > 0
}

// Config returns the current source and the playlist index under the
// cursor, for the filler API endpoint.
func (s *Supplier) Config() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return "", 0
	}
	return s.sourceRef, s.order[s.cursor]
}

func (s *Supplier) disableLocked() error {
	s.sourceRef = ""
	s.order = nil
	s.cursor = 0
	return s.db.Model(&models.FillerSettings{}).Where("id = ?", 1).
		Updates(map[string]any{"source_ref": "", "cursor": 0, "length": 0}).Error
}

func (s *Supplier) persistLocked(startIndex int, shuffle bool, seed int64, length int) error {
	return s.db.Model(&models.FillerSettings{}).Where("id = ?", 1).
		Updates(map[string]any{
			"source_ref":   s.sourceRef,
			"start_index":  startIndex,
			"shuffle":      shuffle,
			"shuffle_seed": seed,
			"cursor":       s.cursor,
			"length":       length,
		}).Error
}
