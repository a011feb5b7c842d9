package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type initMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// HandleWS upgrades to a WebSocket and streams events as JSON text frames.
// Client frames are read only to notice disconnects.
func (b *Bus) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	hello, _ := json.Marshal(initMessage{Type: "init", Data: b.initPayload()})
	if err := wsutil.WriteServerText(conn, hello); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(10 * time.Second)
	defer ping.Stop()
	for {
		select {
		case evt := <-ch:
			data, err := json.Marshal(evt)
			if err != nil {
				slog.Warn("encode event", "type", evt.Type, "err", err)
				continue
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				return
			}
		case <-ping.C:
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// HandleSSE streams the same events as text/event-stream for clients that
// cannot speak WebSocket.
func (b *Bus) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	data, _ := json.Marshal(b.initPayload())
	_, _ = fmt.Fprintf(w, "event: init\ndata: %s\n\n", data)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case evt := <-ch:
			data, _ := json.Marshal(evt)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case <-keepalive.C:
			_, _ = fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
