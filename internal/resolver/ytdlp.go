/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_jukebox/internal/queue"
)

var (
	urlRegex       = regexp.MustCompile(`^(?:http(?:s)?://(?:www\.)?)?youtu(?:be\.com/watch\?v=|\.be/)([\w\-]+)`)
	startParam     = regexp.MustCompile(`[?&]t=(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s?)?(?:&|$)`)
	thumbnailRegex = regexp.MustCompile(`\[info\] Writing video thumbnail .*? to: .*?[\\/]([^\\/\r\n]+)`)
)

// YTDLP resolves and downloads media by shelling out to yt-dlp.
type YTDLP struct {
	bin          string
	thumbnailDir string
	logger       zerolog.Logger
}

// NewYTDLP creates a yt-dlp backed resolver.
func NewYTDLP(bin, thumbnailDir string, logger zerolog.Logger) *YTDLP {
	return &YTDLP{
		bin:          bin,
		thumbnailDir: thumbnailDir,
		logger:       logger.With().Str("component", "resolver").Logger(),
	}
}

// VideoID extracts the media identifier from a watch URL.
func VideoID(url string) (string, bool) {
	m := urlRegex.FindStringSubmatch(url)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// StartOffset extracts the t= parameter from a watch URL as seconds.
func StartOffset(url string) int {
	m := startParam.FindStringSubmatch(url)
	if m == nil {
		return 0
	}
	total := 0
	for i, mult := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0
		}
		total += n * mult
	}
	return total
}

// Resolve fetches duration, title and thumbnail for a single URL.
func (y *YTDLP) Resolve(ctx context.Context, url string) (*queue.Entry, error) {
	id, ok := VideoID(url)
	if !ok {
		return nil, fmt.Errorf("%w: invalid url %q", ErrResolve, url)
	}

	info := exec.CommandContext(ctx, y.bin, url, "--print", "%(duration>%H:%M:%S)s %(title)s")
	infoOut, err := info.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch info for %s: %v", ErrResolve, id, err)
	}

	thumb := exec.CommandContext(ctx, y.bin, "--write-thumbnail", "--skip-download", url,
		"-o", filepath.Join(y.thumbnailDir, id))
	thumbOut, err := thumb.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch thumbnail for %s: %v", ErrResolve, id, err)
	}
	tm := thumbnailRegex.FindStringSubmatch(string(thumbOut))
	if tm == nil {
		return nil, fmt.Errorf("%w: could not identify thumbnail file for %s", ErrResolve, id)
	}
	thumbnail := tm[1]

	fields := strings.SplitN(strings.TrimSpace(string(infoOut)), " ", 2)
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: malformed info output for %s", ErrResolve, id)
	}
	duration, err := queue.ParseDuration(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}

	entry := &queue.Entry{
		ID:          id,
		Title:       strings.TrimSpace(fields[1]),
		Duration:    duration,
		Thumbnail:   thumbnail,
		StartOffset: StartOffset(url),
	}
	y.logger.Debug().Str("id", id).Str("title", entry.Title).Msg("resolved url")
	return entry, nil
}

// PlaylistLength resolves the item count of a playlist without resolving
// any items.
func (y *YTDLP) PlaylistLength(ctx context.Context, ref string) (int, error) {
	cmd := exec.CommandContext(ctx, y.bin, ref, "-I0", "-O", "playlist:playlist_count")
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: playlist length for %q: %v", ErrResolve, ref, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("%w: playlist length for %q: %v", ErrResolve, ref, err)
	}
	return n, nil
}

// PlaylistItem resolves the playlist item at a 0-based index.
func (y *YTDLP) PlaylistItem(ctx context.Context, ref string, index int) (*queue.Entry, error) {
	pos := strconv.Itoa(index + 1) // yt-dlp playlist positions are 1-based
	cmd := exec.CommandContext(ctx, y.bin, ref,
		"--playlist-start="+pos, "--playlist-end="+pos, "--print", "%(id)s")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: playlist item %s of %q: %v", ErrResolve, pos, ref, err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return nil, fmt.Errorf("%w: empty id for playlist item %s of %q", ErrResolve, pos, ref)
	}
	return y.Resolve(ctx, "https://youtube.com/watch?v="+id)
}

// Download fetches best-quality audio into the named slot file.
func (y *YTDLP) Download(ctx context.Context, url, dest string) error {
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: clear slot %s: %v", ErrDownload, dest, err)
	}
	y.logger.Info().Str("url", url).Str("slot", dest).Msg("starting download")

	cmd := exec.CommandContext(ctx, y.bin, "--ignore-errors", "-f", "bestaudio", url, "-o", dest)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownload, url, err)
	}
	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("%w: %s produced no media file", ErrDownload, url)
	}
	return nil
}
