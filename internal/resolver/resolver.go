/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver wraps the external metadata/media resolver. The scheduler
// treats it as a black box: resolve a URL to metadata, download media into a
// named slot file.
package resolver

import (
	"context"
	"errors"

	"github.com/friendsincode/bragi_jukebox/internal/queue"
)

// ErrResolve reports an unresolvable or malformed URL. The entry never
// enters the store.
var ErrResolve = errors.New("resolve failed")

// ErrDownload reports a failed media fetch. The target slot is left empty
// and the scheduler retries on its next cycle.
var ErrDownload = errors.New("download failed")

// Resolver resolves URLs to queue entries and fetches their media.
type Resolver interface {
	// Resolve returns metadata for a single media URL.
	Resolve(ctx context.Context, url string) (*queue.Entry, error)

	// PlaylistLength returns the item count of a playlist reference.
	PlaylistLength(ctx context.Context, ref string) (int, error)

	// PlaylistItem resolves the item at a 0-based index into the playlist.
	PlaylistItem(ctx context.Context, ref string, index int) (*queue.Entry, error)

	// Download fetches the media behind url into the named slot file,
	// replacing whatever the slot held before.
	Download(ctx context.Context, url, dest string) error
}
