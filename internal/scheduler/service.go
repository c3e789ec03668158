/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler orchestrates the active and staged playback slots: it
// pops requests from the queue store (falling back to the filler supplier),
// prefetches the next entry while the current one plays, drives the playback
// device and emits events for every transition.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_jukebox/internal/archiver"
	"github.com/friendsincode/bragi_jukebox/internal/config"
	"github.com/friendsincode/bragi_jukebox/internal/events"
	"github.com/friendsincode/bragi_jukebox/internal/filler"
	"github.com/friendsincode/bragi_jukebox/internal/player"
	"github.com/friendsincode/bragi_jukebox/internal/queue"
	"github.com/friendsincode/bragi_jukebox/internal/resolver"
	"github.com/friendsincode/bragi_jukebox/internal/telemetry"
)

// Slot file names under MediaRoot. Active/staged media are named slots, not
// content-addressed files.
const (
	activeSlotFile = "CURRENT"
	stagedSlotFile = "NEXT"
)

// ErrInvalidState reports an unknown playerstate action.
var ErrInvalidState = errors.New("invalid playerstate")

// PlayerStatus is the player state surfaced by the API.
type PlayerStatus struct {
	State      string `json:"state"`
	PositionMS int64  `json:"position_ms"`
}

// Snapshot is the queue view surfaced by the API.
type Snapshot struct {
	Current *queue.Entry
	Next    *queue.Entry
	Queue   []queue.Entry
}

// Service owns the playback slots. Every mutation of active, staged and the
// filler cursor goes through its mutex; HTTP handlers never touch slot state
// directly.
type Service struct {
	cfg      *config.Config
	store    *queue.Store
	filler   *filler.Supplier
	resolver resolver.Resolver
	device   player.Device
	archiver archiver.Archiver
	bus      *events.Bus
	logger   zerolog.Logger

	mu           sync.Mutex
	active       *queue.Entry
	activeReady  bool
	staged       *queue.Entry
	stagedReady  bool
	stagedDone   chan struct{}
	stagedCancel context.CancelFunc

	wake chan struct{}
	skip chan struct{}
}

// NewService creates the playback scheduler.
func NewService(cfg *config.Config, store *queue.Store, fillerSvc *filler.Supplier, res resolver.Resolver, device player.Device, arch archiver.Archiver, bus *events.Bus, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		store:    store,
		filler:   fillerSvc,
		resolver: res,
		device:   device,
		archiver: arch,
		bus:      bus,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		wake:     make(chan struct{}, 1),
		skip:     make(chan struct{}, 1),
	}
	store.SetSlotStater(s)
	return s
}

// SlotState implements queue.SlotStater for push position arithmetic.
func (s *Service) SlotState() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil, s.staged != nil
}

func (s *Service) activeSlotPath() string {
	return filepath.Join(s.cfg.MediaRoot, activeSlotFile)
}

func (s *Service) stagedSlotPath() string {
	return filepath.Join(s.cfg.MediaRoot, stagedSlotFile)
}

// Run executes the scheduler loop until context cancellation. The idle wait
// is bounded by the poll interval so the stop signal is re-checked even
// without wake-ups.
func (s *Service) Run(ctx context.Context) error {
	// Stale slot media from a previous run is unusable: the entries that
	// owned it were lost with the process.
	_ = os.Remove(s.activeSlotPath())
	_ = os.Remove(s.stagedSlotPath())

	s.logger.Info().Msg("playback scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("playback scheduler stopped")
			return ctx.Err()
		case <-s.store.Populated():
		case <-s.wake:
		case <-time.After(s.cfg.PollInterval):
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.readyCycle(ctx)
		s.playActive(ctx)
	}
}

// Wake nudges the loop without waiting for the poll interval. Used by push
// so an idle scheduler reacts immediately.
func (s *Service) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// readyCycle ensures the active slot holds a play-ready entry and a staging
// task is preparing the one after it.
func (s *Service) readyCycle(ctx context.Context) {
	s.preemptStagedFiller()

	s.mu.Lock()
	activeEmpty := s.active == nil
	stagedDone := s.stagedDone
	s.mu.Unlock()

	if activeEmpty {
		if stagedDone != nil {
			// Join the background download before promoting.
			select {
			case <-stagedDone:
			case <-ctx.Done():
				return
			}
			if !s.promoteStaged() {
				s.acquireActiveSync(ctx)
			}
		} else {
			s.acquireActiveSync(ctx)
		}
	}

	s.maybeStageNext(ctx)
}

// preemptStagedFiller discards a staged filler entry as soon as the queue
// store has content again, so normal queue order resumes without delay.
func (s *Service) preemptStagedFiller() {
	s.mu.Lock()
	isFiller := s.staged != nil && s.staged.Filler
	s.mu.Unlock()
	if !isFiller {
		return
	}

	list, err := s.store.List()
	if err != nil || len(list) == 0 {
		return
	}

	s.mu.Lock()
	if s.staged != nil && s.staged.Filler {
		s.logger.Debug().Str("id", s.staged.ID).Msg("discarding staged filler, queue has content")
		s.discardStagedLocked()
	}
	s.mu.Unlock()
}

// promoteStaged moves a completed staged download into the active slot.
// Returns false when there is nothing promotable, leaving the caller to the
// synchronous acquisition path.
func (s *Service) promoteStaged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil || !s.stagedReady {
		// The staging task finished without a usable download.
		s.discardStagedLocked()
		return false
	}

	_ = os.Remove(s.activeSlotPath())
	if err := os.Rename(s.stagedSlotPath(), s.activeSlotPath()); err != nil {
		s.logger.Error().Err(err).Msg("failed to promote staged media")
		s.discardStagedLocked()
		return false
	}

	entry := s.staged
	s.active = entry
	s.activeReady = true
	s.staged = nil
	s.stagedReady = false
	s.stagedDone = nil
	s.stagedCancel = nil

	if entry.Filler {
		s.filler.Advance(1)
	}
	s.logger.Debug().Str("id", entry.ID).Bool("filler", entry.Filler).Msg("promoted staged entry")
	return true
}

// acquireActiveSync pops the next entry (queue head, or filler when the
// queue is empty) and downloads it straight into the active slot. A failed
// download leaves the slot empty; the cycle is a no-op and retried later.
func (s *Service) acquireActiveSync(ctx context.Context) {
	entry, isFiller := s.nextEntry(ctx)
	if entry == nil {
		return
	}

	if err := s.resolver.Download(ctx, entry.URL(), s.activeSlotPath()); err != nil {
		telemetry.DownloadFailuresTotal.Inc()
		s.logger.Warn().Err(err).Str("id", entry.ID).Msg("active slot download failed")
		return
	}

	s.mu.Lock()
	s.active = entry
	s.activeReady = true
	s.mu.Unlock()

	if isFiller {
		s.filler.Advance(1)
	}
}

// nextEntry pops the queue store, falling back to a filler peek when empty.
// The filler cursor is not advanced here; consumption is tied to promotion.
func (s *Service) nextEntry(ctx context.Context) (*queue.Entry, bool) {
	entry, err := s.store.Pop()
	if err != nil {
		s.logger.Error().Err(err).Msg("queue pop failed")
		return nil, false
	}
	if entry != nil {
		return entry, false
	}

	if !s.filler.Enabled() {
		return nil, false
	}
	fe, err := s.filler.Next(ctx)
	if err != nil {
		if !errors.Is(err, filler.ErrDisabled) {
			s.logger.Warn().Err(err).Msg("filler resolve failed")
			source, index := s.filler.Config()
			s.bus.Dispatch(queueSongEvent(-1, false, queue.Entry{
				ID:     fmt.Sprintf("%s&index=%d", source, index),
				Filler: true,
			}))
			telemetry.EventsDispatchedTotal.Inc()
		}
		return nil, false
	}
	s.bus.Dispatch(queueSongEvent(1, true, *fe))
	telemetry.EventsDispatchedTotal.Inc()
	return fe, true
}

// maybeStageNext launches a background task that resolves and downloads the
// entry after the active one into the staged slot. It never blocks playback.
func (s *Service) maybeStageNext(ctx context.Context) {
	s.mu.Lock()
	if s.stagedDone != nil || s.active == nil {
		s.mu.Unlock()
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stagedDone = done
	s.stagedCancel = cancel
	s.mu.Unlock()

	go s.stageNext(taskCtx, done)
}

func (s *Service) stageNext(ctx context.Context, done chan struct{}) {
	defer close(done)

	entry, _ := s.nextEntry(ctx)
	if entry == nil {
		s.mu.Lock()
		if s.stagedDone == done {
			s.stagedDone = nil
			s.stagedCancel = nil
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.stagedDone != done {
		// Discarded while we were resolving.
		s.mu.Unlock()
		return
	}
	s.staged = entry
	s.mu.Unlock()

	err := s.resolver.Download(ctx, entry.URL(), s.stagedSlotPath())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stagedDone != done || s.staged != entry {
		// Slot was invalidated mid-download; drop the partial file.
		_ = os.Remove(s.stagedSlotPath())
		return
	}
	if err != nil {
		telemetry.DownloadFailuresTotal.Inc()
		s.logger.Warn().Err(err).Str("id", entry.ID).Msg("staged slot download failed")
		s.staged = nil
		s.stagedDone = nil
		s.stagedCancel = nil
		return
	}
	s.stagedReady = true
}

// discardStagedLocked clears the staged slot and cancels any in-flight
// download. Caller holds the mutex.
func (s *Service) discardStagedLocked() {
	if s.stagedCancel != nil {
		s.stagedCancel()
	}
	s.staged = nil
	s.stagedReady = false
	s.stagedDone = nil
	s.stagedCancel = nil
	_ = os.Remove(s.stagedSlotPath())
}

// playActive hands the active media to the device and waits for it to end
// or be skipped.
func (s *Service) playActive(ctx context.Context) {
	s.mu.Lock()
	if s.active == nil || !s.activeReady {
		s.mu.Unlock()
		return
	}
	// Drop any stale skip signal from before this track. Skip signals
	// under the same lock, so a concurrent skip either cleared active
	// above or lands after this drain.
	select {
	case <-s.skip:
	default:
	}
	entry := *s.active
	s.mu.Unlock()

	if _, err := os.Stat(s.activeSlotPath()); err != nil {
		s.logger.Error().Err(err).Str("id", entry.ID).Msg("active media missing, clearing slot")
		s.mu.Lock()
		s.active = nil
		s.activeReady = false
		s.mu.Unlock()
		return
	}

	var offset time.Duration
	if entry.StartOffset > 0 && time.Duration(entry.StartOffset)*time.Second < entry.Duration {
		offset = time.Duration(entry.StartOffset) * time.Second
	}

	if err := s.device.Load(ctx, s.activeSlotPath(), offset); err != nil {
		s.logger.Error().Err(err).Str("id", entry.ID).Msg("device load failed")
		s.mu.Lock()
		s.active = nil
		s.activeReady = false
		s.mu.Unlock()
		_ = os.Remove(s.activeSlotPath())
		return
	}

	kind := "request"
	if entry.Filler {
		kind = "filler"
	}
	telemetry.PlaysTotal.WithLabelValues(kind).Inc()
	s.bus.Dispatch(playSongEvent(entry))
	telemetry.EventsDispatchedTotal.Inc()
	s.logger.Info().
		Str("id", entry.ID).
		Str("title", entry.Title).
		Str("duration", queue.FormatDuration(entry.Duration)).
		Msg("playing")

	select {
	case <-ctx.Done():
		return
	case <-s.device.Done():
		s.finishNatural(ctx, entry)
	case <-s.skip:
		s.finishSkipped(entry)
	}
}

// finishNatural handles an end-of-media notification from the device.
func (s *Service) finishNatural(ctx context.Context, entry queue.Entry) {
	if s.device.IsPlaying() {
		if err := s.device.Pause(); err != nil {
			s.logger.Debug().Err(err).Msg("pause at end of media failed")
		}
	}
	_ = s.device.Unload()
	_ = os.Remove(s.activeSlotPath())

	s.mu.Lock()
	owned := s.active != nil && s.active.ID == entry.ID
	if owned {
		s.active = nil
		s.activeReady = false
	}
	s.mu.Unlock()

	if !owned {
		// A skip raced the natural end and already cleared and archived
		// the entry; its token is drained before the next load.
		return
	}

	if err := s.archiver.Submit(ctx, entry, false); err != nil {
		s.logger.Warn().Err(err).Str("id", entry.ID).Msg("archive submission failed")
	}
	s.logger.Info().Str("id", entry.ID).Msg("finished")
}

// finishSkipped cleans up after a skip cleared the active slot mid-play.
// Archival decisions were already made by Skip.
func (s *Service) finishSkipped(entry queue.Entry) {
	_ = s.device.Unload()
	_ = os.Remove(s.activeSlotPath())
	s.logger.Info().Str("id", entry.ID).Msg("skipped")
}

// Push resolves a URL and appends it to the queue store. Returns the
// 1-based effective position. Unresolvable URLs dispatch a failure event
// with the raw input preserved and never touch the store.
func (s *Service) Push(ctx context.Context, url string) (int, error) {
	entry, err := s.resolver.Resolve(ctx, url)
	if err != nil {
		telemetry.QueuePushesTotal.WithLabelValues("rejected").Inc()
		s.bus.Dispatch(queueSongEvent(-1, false, queue.Entry{ID: url}))
		telemetry.EventsDispatchedTotal.Inc()
		return 0, err
	}

	pos, err := s.store.Push(entry)
	if err != nil {
		telemetry.QueuePushesTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	telemetry.QueuePushesTotal.WithLabelValues("accepted").Inc()
	s.bus.Dispatch(queueSongEvent(pos, true, *entry))
	telemetry.EventsDispatchedTotal.Inc()

	// A push onto an idle scheduler must not wait out the poll interval.
	s.Wake()
	return pos, nil
}

// Skip clears up to count entries: the active slot first, then the staged
// slot, then enough queue heads to make up the remainder of count. Each
// cleared entry is archived unless purge is set. Returns the number
// actually skipped.
func (s *Service) Skip(ctx context.Context, count int, purge bool) int {
	if count <= 0 {
		return 0
	}

	cleared := 0
	var toArchive []queue.Entry

	s.mu.Lock()
	if s.active != nil {
		if !purge {
			toArchive = append(toArchive, *s.active)
		}
		s.active = nil
		s.activeReady = false
		cleared++
	}
	if count > 1 && s.staged != nil {
		if !purge {
			toArchive = append(toArchive, *s.staged)
		}
		s.discardStagedLocked()
		cleared++
	}
	// Release the playback wait while still holding the lock, so the
	// signal pairs with the active slot it cleared.
	select {
	case s.skip <- struct{}{}:
	default:
	}
	s.mu.Unlock()

	// The slots only count for what they actually held; the queue fills
	// the rest of the requested count.
	skipped := cleared
	if remaining := count - cleared; remaining > 0 {
		dropped, err := s.store.Discard(remaining)
		if err != nil {
			s.logger.Error().Err(err).Msg("queue discard failed during skip")
		}
		skipped += len(dropped)
		if !purge {
			toArchive = append(toArchive, dropped...)
		}
	}

	s.Wake()

	for _, e := range toArchive {
		if err := s.archiver.Submit(ctx, e, true); err != nil {
			s.logger.Warn().Err(err).Str("id", e.ID).Msg("archive submission failed")
		}
	}
	telemetry.SkipsTotal.Add(float64(skipped))
	return skipped
}

// Seek repositions active playback and emits a playerstate event. A seek
// with nothing active is a no-op returning false.
func (s *Service) Seek(seconds int) bool {
	s.mu.Lock()
	active := s.active != nil && s.activeReady
	s.mu.Unlock()
	if !active {
		return false
	}

	if err := s.device.Seek(time.Duration(seconds) * time.Second); err != nil {
		s.logger.Warn().Err(err).Int("seconds", seconds).Msg("seek failed")
		return false
	}

	state := "pause"
	if s.device.IsPlaying() {
		state = "play"
	}
	s.bus.Dispatch(events.Event{
		Name: events.EventPlayerState,
		Data: map[string]any{"state": state, "position": seconds},
	})
	telemetry.EventsDispatchedTotal.Inc()
	return true
}

// PlayerState applies an optional play/pause action and reports the device
// state. Returns (nil, nil) when nothing is active.
func (s *Service) PlayerState(action string) (*PlayerStatus, error) {
	switch action {
	case "":
	case "play":
		if err := s.device.Play(); err != nil {
			s.logger.Warn().Err(err).Msg("resume failed")
		}
	case "pause":
		if err := s.device.Pause(); err != nil {
			s.logger.Warn().Err(err).Msg("pause failed")
		}
	default:
		return nil, ErrInvalidState
	}

	s.mu.Lock()
	active := s.active != nil && s.activeReady
	s.mu.Unlock()
	if !active {
		return nil, nil
	}

	state := "pause"
	if s.device.IsPlaying() {
		state = "play"
	}
	var posMS int64
	if pos, ok := s.device.Position(); ok {
		posMS = pos.Milliseconds()
	}
	return &PlayerStatus{State: state, PositionMS: posMS}, nil
}

// SnapshotQueue returns the current, staged and pending entries.
func (s *Service) SnapshotQueue() (*Snapshot, error) {
	list, err := s.store.List()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{Queue: list}
	if s.active != nil {
		e := *s.active
		snap.Current = &e
	}
	if s.staged != nil {
		e := *s.staged
		snap.Next = &e
	}
	return snap, nil
}
