/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/bragi_jukebox/internal/telemetry"
)

// handleEvents streams jukebox events over a WebSocket. Each connection owns
// one bucket; queued events are drained and written in dispatch order.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	bucket := a.bus.Subscribe()
	defer a.bus.Unsubscribe(bucket)
	telemetry.EventSubscribers.Inc()
	defer telemetry.EventSubscribers.Dec()
	a.logger.Debug().Str("bucket", bucket.ID.String()).Msg("event subscriber connected")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"name":"ping","data":{}}`)); err != nil {
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			evts := bucket.Drain()
			if len(evts) == 0 {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			for _, evt := range evts {
				payload, err := evt.JSON()
				if err != nil {
					a.logger.Error().Err(err).Str("event", evt.Name).Msg("event marshal failed")
					continue
				}
				if err := conn.Write(ctx, ws.MessageText, payload); err != nil {
					conn.Close(ws.StatusInternalError, "write failed")
					return
				}
			}
		}
	}
}
