// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// StreamLogs streams an app's output over a WebSocket. It first replays a
// snapshot of buffered lines, then forwards new lines as they arrive. Lines
// already sent in the snapshot are filtered out by sequence number so a line
// captured during the handoff is not delivered twice.
func (h *AppsHandler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	lines := 100
	if s := r.URL.Query().Get("lines"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			lines = n
		}
	}

	// Subscribe before taking the snapshot so no line falls in the gap.
	ch, err := h.sup.SubscribeLogs(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	defer h.sup.UnsubscribeLogs(id, ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	snapshot, err := h.sup.Logs(id, lines)
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	var lastSeq int64 = -1
	for _, line := range snapshot {
		if err := conn.WriteJSON(line); err != nil {
			return
		}
		lastSeq = line.Sequence
	}

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				// App stopped; the log buffer is gone.
				return
			}
			if line.Sequence <= lastSeq {
				continue
			}
			if err := conn.WriteJSON(line); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
