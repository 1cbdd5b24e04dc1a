package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Brownie44l1/moodsense/internal/workflow"
)

const (
	eventsWSWriteWait = 10 * time.Second
	eventsWSPongWait  = 60 * time.Second
	eventsWSPingEvery = (eventsWSPongWait * 9) / 10
)

var eventsWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// snapshotMessage is the first frame on every connection.
type snapshotMessage struct {
	Type     string            `json:"type"`
	Snapshot workflow.Snapshot `json:"snapshot"`
}

// Events streams controller events for the caller's session over a websocket.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w, r)

	// The upgrade response is written on the hijacked connection, so a
	// freshly issued session cookie has to be passed along explicitly.
	var header http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}

	conn, err := eventsWSUpgrader.Upgrade(w, r, header)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(eventsWSPongWait)); err != nil {
		h.log.Warn("events ws set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsWSPongWait))
	})

	// Subscribe before taking the snapshot so no change falls in between.
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	// The client never sends anything meaningful; reading surfaces close
	// frames and keeps the pong handler running.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !h.writeWS(conn, snapshotMessage{Type: "snapshot", Snapshot: c.Snapshot()}) {
		return
	}

	ticker := time.NewTicker(eventsWSPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended"),
					time.Now().Add(eventsWSWriteWait))
				return
			}
			if !h.writeWS(conn, evt) {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWSWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeWS(conn *websocket.Conn, v any) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(eventsWSWriteWait)); err != nil {
		return false
	}
	if err := conn.WriteJSON(v); err != nil {
		h.log.Debug("events ws write failed", "error", err)
		return false
	}
	return true
}
