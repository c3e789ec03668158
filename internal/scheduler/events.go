/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"github.com/friendsincode/bragi_jukebox/internal/events"
	"github.com/friendsincode/bragi_jukebox/internal/queue"
)

func entryEventData(e queue.Entry) map[string]any {
	return map[string]any{
		"id":        e.ID,
		"title":     e.Title,
		"duration":  queue.FormatDuration(e.Duration),
		"thumbnail": e.Thumbnail,
		"start":     e.StartOffset,
		"b_track":   e.Filler,
	}
}

// queueSongEvent announces a push outcome. Failures carry pos -1 and the
// raw identifier the caller submitted.
func queueSongEvent(pos int, success bool, e queue.Entry) events.Event {
	data := entryEventData(e)
	data["pos"] = pos
	data["success"] = success
	return events.Event{Name: events.EventQueueSong, Data: data}
}

// playSongEvent announces that an entry started playing.
func playSongEvent(e queue.Entry) events.Event {
	return events.Event{Name: events.EventPlaySong, Data: entryEventData(e)}
}
