/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue implements the durable file-backed FIFO of song requests.
package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entry is a single queued request. Identity is the resolver-assigned ID.
// Entries are immutable once created.
type Entry struct {
	ID          string
	Title       string
	Duration    time.Duration
	Thumbnail   string
	StartOffset int // seconds into the media playback should begin
	Filler      bool
}

// URL reconstructs the watch URL for the entry.
func (e *Entry) URL() string {
	return "https://youtube.com/watch?v=" + e.ID
}

// Line serializes the entry into the on-disk format:
// id duration(HH:MM:SS) thumbnailRef startOffsetSeconds title
// The title consumes the remainder of the line and may contain spaces.
func (e *Entry) Line() string {
	return fmt.Sprintf("%s %s %s %d %s", e.ID, FormatDuration(e.Duration), e.Thumbnail, e.StartOffset, e.Title)
}

// ParseLine decodes a single queue file line.
func ParseLine(line string) (*Entry, error) {
	parts := strings.SplitN(line, " ", 5)
	if len(parts) != 5 {
		return nil, fmt.Errorf("queue line has %d fields, want 5", len(parts))
	}
	duration, err := ParseDuration(parts[1])
	if err != nil {
		return nil, err
	}
	start, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("invalid start offset %q: %w", parts[3], err)
	}
	if start < 0 {
		return nil, fmt.Errorf("negative start offset %d", start)
	}
	return &Entry{
		ID:          parts[0],
		Title:       strings.TrimSpace(parts[4]),
		Duration:    duration,
		Thumbnail:   parts[2],
		StartOffset: start,
	}, nil
}

// FormatDuration renders a duration as zero-padded HH:MM:SS.
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// ParseDuration reads a HH:MM:SS duration string.
func ParseDuration(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration %q: want HH:MM:SS", s)
	}
	var total int
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q: want HH:MM:SS", s)
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, nil
}
