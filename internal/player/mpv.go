/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MPV drives an mpv process over its JSON IPC socket. The process runs for
// the lifetime of the device; tracks are swapped with loadfile replace.
type MPV struct {
	bin    string
	socket string
	logger zerolog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	conn      net.Conn
	procDone  chan struct{}
	trackDone chan struct{}
	loaded    bool
	paused    bool

	reqMu   sync.Mutex
	reqID   int
	pending map[int]chan ipcResponse
}

type ipcRequest struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id,omitempty"`
}

type ipcResponse struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int             `json:"request_id"`
	Event     string          `json:"event"`
	Reason    string          `json:"reason"`
}

// NewMPV creates an mpv-backed device. Start must be called before use.
func NewMPV(bin, socket string, logger zerolog.Logger) *MPV {
	return &MPV{
		bin:     bin,
		socket:  socket,
		logger:  logger.With().Str("component", "player").Logger(),
		pending: make(map[int]chan ipcResponse),
	}
}

// Start launches the mpv process and connects the IPC socket.
func (m *MPV) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != nil {
		return fmt.Errorf("player already started")
	}

	_ = os.Remove(m.socket)

	cmd := exec.CommandContext(ctx, m.bin,
		"--idle=yes",
		"--no-video",
		"--really-quiet",
		"--input-ipc-server="+m.socket,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player process: %w", err)
	}

	m.cmd = cmd
	m.procDone = make(chan struct{})
	go func(done chan struct{}, c *exec.Cmd) {
		err := c.Wait()
		close(done)
		if err != nil {
			m.logger.Debug().Err(err).Msg("player process exited")
		} else {
			m.logger.Info().Msg("player process stopped")
		}
	}(m.procDone, cmd)

	conn, err := m.dialIPC(ctx)
	if err != nil {
		_ = cmd.Process.Kill()
		return err
	}
	m.conn = conn
	m.trackDone = make(chan struct{})

	go m.readLoop(conn)

	m.logger.Info().Str("socket", m.socket).Msg("player ready")
	return nil
}

// dialIPC retries the socket connect while mpv is still creating it.
func (m *MPV) dialIPC(ctx context.Context) (net.Conn, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("unix", m.socket)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect player ipc: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// readLoop demultiplexes IPC responses and events.
func (m *MPV) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var resp ipcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			m.logger.Debug().Err(err).Msg("unparsable ipc message")
			continue
		}
		if resp.Event != "" {
			m.handleEvent(resp)
			continue
		}
		m.reqMu.Lock()
		ch, ok := m.pending[resp.RequestID]
		if ok {
			delete(m.pending, resp.RequestID)
		}
		m.reqMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (m *MPV) handleEvent(resp ipcResponse) {
	switch resp.Event {
	case "end-file":
		// "stop" is emitted when we replace or unload media ourselves;
		// only a natural eof (or an unplayable file) ends the track.
		if resp.Reason != "eof" && resp.Reason != "error" {
			return
		}
		m.mu.Lock()
		if m.loaded {
			m.loaded = false
			// The channel stays closed until the next Load installs a
			// fresh one, so a consumer that asks for it after the event
			// still observes the end of this track.
			close(m.trackDone)
		}
		m.mu.Unlock()
	case "pause":
		m.mu.Lock()
		m.paused = true
		m.mu.Unlock()
	case "unpause":
		m.mu.Lock()
		m.paused = false
		m.mu.Unlock()
	}
}

func (m *MPV) command(args ...any) (json.RawMessage, error) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("player not started")
	}

	m.reqMu.Lock()
	m.reqID++
	id := m.reqID
	ch := make(chan ipcResponse, 1)
	m.pending[id] = ch
	m.reqMu.Unlock()

	payload, err := json.Marshal(ipcRequest{Command: args, RequestID: id})
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		m.reqMu.Lock()
		delete(m.pending, id)
		m.reqMu.Unlock()
		return nil, fmt.Errorf("write ipc command: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" && resp.Error != "success" {
			return nil, fmt.Errorf("player command failed: %s", resp.Error)
		}
		return resp.Data, nil
	case <-time.After(5 * time.Second):
		m.reqMu.Lock()
		delete(m.pending, id)
		m.reqMu.Unlock()
		return nil, fmt.Errorf("player command timed out")
	}
}

// Load replaces the current media and starts playback at offset. The
// end-of-media channel is rotated here, before mpv sees the file, so an
// instantly-failing track cannot close a channel nobody holds yet.
func (m *MPV) Load(ctx context.Context, path string, offset time.Duration) error {
	m.mu.Lock()
	m.trackDone = make(chan struct{})
	m.loaded = true
	m.paused = false
	m.mu.Unlock()

	opts := ""
	if offset > 0 {
		opts = fmt.Sprintf("start=%d", int(offset.Seconds()))
	}
	var err error
	if opts != "" {
		_, err = m.command("loadfile", path, "replace", opts)
	} else {
		_, err = m.command("loadfile", path, "replace")
	}
	if err == nil {
		_, err = m.command("set_property", "pause", false)
	}
	if err != nil {
		m.mu.Lock()
		m.loaded = false
		m.mu.Unlock()
		return err
	}
	return nil
}

// Play resumes a paused device.
func (m *MPV) Play() error {
	if _, err := m.command("set_property", "pause", false); err != nil {
		return err
	}
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	return nil
}

// Pause halts playback without unloading.
func (m *MPV) Pause() error {
	if _, err := m.command("set_property", "pause", true); err != nil {
		return err
	}
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	return nil
}

// Seek repositions the current media to an absolute offset.
func (m *MPV) Seek(offset time.Duration) error {
	_, err := m.command("seek", offset.Seconds(), "absolute")
	return err
}

// Position reports the current playback position.
func (m *MPV) Position() (time.Duration, bool) {
	m.mu.Lock()
	loaded := m.loaded
	m.mu.Unlock()
	if !loaded {
		return 0, false
	}
	data, err := m.command("get_property", "time-pos")
	if err != nil {
		return 0, false
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// IsPlaying reports whether media is loaded and not paused.
func (m *MPV) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded && !m.paused
}

// Done returns the end-of-media channel for the current load.
func (m *MPV) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackDone
}

// Unload clears the current media without terminating the device.
func (m *MPV) Unload() error {
	_, err := m.command("stop")
	m.mu.Lock()
	m.loaded = false
	m.mu.Unlock()
	return err
}

// Close asks mpv to quit, escalating to a kill if it lingers.
func (m *MPV) Close(ctx context.Context) error {
	m.mu.Lock()
	cmd := m.cmd
	done := m.procDone
	conn := m.conn
	m.mu.Unlock()

	if cmd == nil {
		return nil
	}

	_, _ = m.command("quit")
	if conn != nil {
		_ = conn.Close()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return ctx.Err()
	}
	_ = os.Remove(m.socket)
	return nil
}
