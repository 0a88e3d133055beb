// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package signal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler streams bus signals to websocket clients as JSON text frames.
type Handler struct {
	bus *Bus
}

// NewHandler creates a websocket handler for bus.
func NewHandler(bus *Bus) *Handler {
	return &Handler{bus: bus}
}

// ServeHTTP upgrades the connection and writes signals until the client
// goes away or the subscription ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = ws.Close() }()
	slog.Debug("signal stream connected", "remote", r.RemoteAddr)

	signals, cancel := h.bus.Subscribe()
	defer cancel()

	// The read loop only exists to notice the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				return
			}
			data, err := json.Marshal(sig)
			if err != nil {
				slog.Error("marshal signal failed", "signal", string(sig.Name), "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
