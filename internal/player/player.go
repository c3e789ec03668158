/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player drives the single playback device.
package player

import (
	"context"
	"time"
)

// Device is the playback device contract. One media file is loaded at a
// time; Done signals end-of-media for the most recent load.
type Device interface {
	// Load replaces the current media with the file at path, optionally
	// starting playback offset seconds in.
	Load(ctx context.Context, path string, offset time.Duration) error

	// Play resumes a paused device.
	Play() error

	// Pause halts playback without unloading the media.
	Pause() error

	// Seek repositions the current media to an absolute offset.
	Seek(offset time.Duration) error

	// Position reports the playback position of the current media. The
	// bool is false when nothing is loaded.
	Position() (time.Duration, bool)

	// IsPlaying reports whether media is loaded and not paused.
	IsPlaying() bool

	// Done returns a channel closed when the current media reaches its
	// natural end. A new Load resets the channel.
	Done() <-chan struct{}

	// Unload clears the current media without terminating the device.
	Unload() error

	// Close shuts the device down.
	Close(ctx context.Context) error
}
