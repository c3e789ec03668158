/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the jukebox HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_jukebox/internal/events"
	"github.com/friendsincode/bragi_jukebox/internal/filler"
	"github.com/friendsincode/bragi_jukebox/internal/queue"
	"github.com/friendsincode/bragi_jukebox/internal/scheduler"
)

// API exposes HTTP handlers.
type API struct {
	scheduler *scheduler.Service
	filler    *filler.Supplier
	bus       *events.Bus
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(sched *scheduler.Service, fillerSvc *filler.Supplier, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		scheduler: sched,
		filler:    fillerSvc,
		bus:       bus,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", a.handleQueueList)
			r.Post("/push", a.handleQueuePush)
			r.Post("/skip", a.handleQueueSkip)
		})
		r.Route("/player", func(r chi.Router) {
			r.Get("/state", a.handlePlayerState)
			r.Post("/state", a.handlePlayerState)
			r.Post("/seek", a.handlePlayerSeek)
		})
		r.Get("/filler", a.handleFillerGet)
		r.Post("/filler", a.handleFillerSet)
		r.Post("/overlay/persistent", a.handleOverlayPersistent)
	})
	r.Get("/ws/events", a.handleEvents)
}

// entryJSON mirrors the event payload field names so queue listings and the
// event stream describe entries identically.
func entryJSON(e queue.Entry) map[string]any {
	return map[string]any{
		"id":        e.ID,
		"title":     e.Title,
		"duration":  queue.FormatDuration(e.Duration),
		"thumbnail": e.Thumbnail,
		"start":     e.StartOffset,
		"b_track":   e.Filler,
	}
}

func (a *API) handleQueuePush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}

	pos, err := a.scheduler.Push(r.Context(), req.URL)
	if err != nil {
		a.logger.Warn().Err(err).Str("url", req.URL).Msg("push rejected")
		writeError(w, http.StatusForbidden, "unresolvable_url")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position": pos})
}

func (a *API) handleQueueSkip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int  `json:"count"`
		Purge bool `json:"purge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Count < 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_count")
		return
	}

	skipped := a.scheduler.Skip(r.Context(), req.Count, req.Purge)
	writeJSON(w, http.StatusOK, map[string]int{"skipped": skipped})
}

func (a *API) handleQueueList(w http.ResponseWriter, r *http.Request) {
	snap, err := a.scheduler.SnapshotQueue()
	if err != nil {
		a.logger.Error().Err(err).Msg("queue snapshot failed")
		writeError(w, http.StatusInternalServerError, "queue_unreadable")
		return
	}

	var current, next any
	if snap.Current != nil {
		current = entryJSON(*snap.Current)
	}
	if snap.Next != nil {
		next = entryJSON(*snap.Next)
	}
	list := make([]map[string]any, 0, len(snap.Queue))
	for _, e := range snap.Queue {
		list = append(list, entryJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current": current,
		"next":    next,
		"queue":   list,
	})
}

func (a *API) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	action := ""
	if r.Method == http.MethodPost {
		var req struct {
			State string `json:"state"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		action = req.State
	}

	status, err := a.scheduler.PlayerState(action)
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidState) {
			writeError(w, http.StatusUnprocessableEntity, "invalid_state")
			return
		}
		writeError(w, http.StatusInternalServerError, "player_error")
		return
	}
	if status == nil {
		writeJSON(w, http.StatusOK, map[string]any{"state": nil})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handlePlayerSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.scheduler.Seek(req.Seconds)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleFillerGet(w http.ResponseWriter, _ *http.Request) {
	url, index := a.filler.Config()
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "index": index})
}

func (a *API) handleFillerSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string `json:"url"`
		Index   int    `json:"index"`
		Shuffle bool   `json:"shuffle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if err := a.filler.Configure(r.Context(), req.URL, req.Index, req.Shuffle); err != nil {
		a.logger.Warn().Err(err).Str("url", req.URL).Msg("filler configuration failed")
		writeError(w, http.StatusUnprocessableEntity, "filler_source_unresolvable")
		return
	}
	url, index := a.filler.Config()
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "index": index})
}

// handleOverlayPersistent relays the overlay persistence toggle to event
// stream subscribers. The jukebox itself keeps no overlay state.
func (a *API) handleOverlayPersistent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value bool `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.bus.Dispatch(events.Event{
		Name: events.EventOverlayPersisted,
		Data: map[string]any{"value": req.Value},
	})
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
