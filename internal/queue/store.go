/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// ErrCorrupt reports an unparsable head line. The pop that hit it left the
// file content untouched.
var ErrCorrupt = errors.New("queue store corrupt")

// SlotStater reports occupancy of the playback slots so Push can compute the
// effective play-order position of a new entry. The on-disk count alone
// misses the entry staged for promotion and overcounts when nothing is
// active (the head moves up immediately).
type SlotStater interface {
	SlotState() (activeOccupied, stagedOccupied bool)
}

// Store is the durable FIFO of pending requests. The file is the only
// authority; no in-memory replica survives a crash.
type Store struct {
	path  string
	mu    sync.Mutex
	slots SlotStater

	populated chan struct{}
}

// NewStore opens (creating if needed) the queue file at path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:      path,
		populated: make(chan struct{}, 1),
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open queue file: %w", err)
	}
	defer f.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	if strings.TrimSpace(string(content)) != "" {
		s.setPopulated()
	}
	return s, nil
}

// SetSlotStater wires the scheduler in after construction.
func (s *Store) SetSlotStater(slots SlotStater) {
	s.mu.Lock()
	s.slots = slots
	s.mu.Unlock()
}

// Populated returns a channel that receives when the store (re)gains
// content. Level-triggered with a single token: a wait that fires consumes
// the token, and the next pop that leaves content behind restores it.
func (s *Store) Populated() <-chan struct{} {
	return s.populated
}

func (s *Store) setPopulated() {
	select {
	case s.populated <- struct{}{}:
	default:
	}
}

func (s *Store) clearPopulated() {
	select {
	case <-s.populated:
	default:
	}
}

// Push appends entries atomically and returns the 1-based position the
// first pushed entry will occupy in effective play order.
func (s *Store) Push(entries ...*Entry) (int, error) {
	if len(entries) == 0 {
		return 0, fmt.Errorf("push requires at least one entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open queue file: %w", err)
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Line())
		sb.WriteByte('\n')
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()
		return 0, fmt.Errorf("append queue file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close queue file: %w", err)
	}

	count, err := s.lineCount()
	if err != nil {
		return 0, err
	}
	s.setPopulated()

	pos := count
	if s.slots != nil {
		activeOccupied, stagedOccupied := s.slots.SlotState()
		if stagedOccupied {
			pos++
		}
		if !activeOccupied {
			pos--
		}
	}
	return pos, nil
}

// Pop removes and returns the head entry, or (nil, nil) when the store is
// empty. A malformed head aborts the pop with ErrCorrupt and leaves the
// file content byte-for-byte unchanged.
func (s *Store) Pop() (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popLocked()
}

func (s *Store) popLocked() (*Entry, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	content := strings.TrimSpace(string(raw))
	if content == "" {
		s.clearPopulated()
		return nil, nil
	}

	head := content
	rest := ""
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		head = content[:i]
		rest = content[i+1:]
	}

	// Parse before touching the file so corruption never loses data.
	entry, err := ParseLine(strings.TrimSpace(head))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if strings.TrimSpace(rest) != "" {
		if err := renameio.WriteFile(s.path, []byte(rest+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("rewrite queue file: %w", err)
		}
		s.setPopulated()
	} else {
		if err := renameio.WriteFile(s.path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("truncate queue file: %w", err)
		}
		s.clearPopulated()
	}
	return entry, nil
}

// Discard pops up to n head entries and returns them, stopping early when
// the store empties.
func (s *Store) Discard(n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for i := 0; i < n; i++ {
		entry, err := s.popLocked()
		if err != nil {
			return out, err
		}
		if entry == nil {
			break
		}
		out = append(out, *entry)
	}
	return out, nil
}

// List reads the pending entries without taking the store lock. A push or
// pop racing with the read may yield a transient stale view; callers treat
// the result as a best-effort snapshot.
func (s *Store) List() ([]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	var out []Entry
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, err := ParseLine(line)
		if err != nil {
			continue
		}
		out = append(out, *entry)
	}
	return out, nil
}

func (s *Store) lineCount() (int, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("read queue file: %w", err)
	}
	count := 0
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}
