/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event names published by the jukebox.
const (
	EventQueueSong        = "queue_song"
	EventPlaySong         = "play_song"
	EventPlayerState      = "change_playerstate"
	EventOverlayPersisted = "overlay_persistence_change"
)

// Event is an immutable name + payload pair broadcast to every bucket.
type Event struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// JSON renders the event as a single JSON object.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Bucket is a per-subscriber mailbox. The subscriber that created it is the
// sole owner of its queue and drains it continuously; growth is unbounded
// until drained.
type Bucket struct {
	ID uuid.UUID

	mu    sync.Mutex
	queue []Event
}

func (b *Bucket) push(evts ...Event) {
	b.mu.Lock()
	b.queue = append(b.queue, evts...)
	b.mu.Unlock()
}

// Drain atomically removes and returns all queued events in FIFO order.
// Returns nil when nothing is pending.
func (b *Bucket) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	out := b.queue
	b.queue = nil
	return out
}

// Len reports the number of queued events.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Bus fans events out to every subscribed bucket. Dispatch appends under
// each bucket's own lock; the bus lock only guards the bucket set.
type Bus struct {
	mu      sync.RWMutex
	buckets map[uuid.UUID]*Bucket
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{buckets: make(map[uuid.UUID]*Bucket)}
}

// Subscribe creates a new, empty bucket.
func (b *Bus) Subscribe() *Bucket {
	bucket := &Bucket{ID: uuid.New()}
	b.mu.Lock()
	b.buckets[bucket.ID] = bucket
	b.mu.Unlock()
	return bucket
}

// Unsubscribe removes the bucket. Further dispatches silently skip it.
func (b *Bus) Unsubscribe(bucket *Bucket) {
	if bucket == nil {
		return
	}
	b.mu.Lock()
	delete(b.buckets, bucket.ID)
	b.mu.Unlock()
}

// Dispatch appends each event, in order, to every current bucket.
func (b *Bus) Dispatch(evts ...Event) {
	if len(evts) == 0 {
		return
	}
	b.mu.RLock()
	buckets := make([]*Bucket, 0, len(b.buckets))
	for _, bucket := range b.buckets {
		buckets = append(buckets, bucket)
	}
	b.mu.RUnlock()

	for _, bucket := range buckets {
		bucket.push(evts...)
	}
}

// Subscribers reports the current bucket count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buckets)
}
