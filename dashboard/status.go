package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/coregx/relay/mediator"
	"github.com/coregx/relay/websocket"
)

// ClientSnapshot is one connected client's state as reported to a
// status subscriber.
type ClientSnapshot struct {
	Username        string `json:"username"`
	Connections     int    `json:"connections"`
	ConnectorStatus string `json:"connector_status"`
}

// StatusSnapshot is the periodic full picture a StatusHub broadcasts.
type StatusSnapshot struct {
	Clients []ClientSnapshot `json:"clients"`
}

// StatusHub periodically broadcasts a StatusSnapshot of srv to every
// subscribed WebSocket client, so a browser dashboard can render
// connection counts without polling an HTTP endpoint.
type StatusHub struct {
	hub    *websocket.Hub
	srv    *mediator.Server
	cancel context.CancelFunc
}

// NewStatusHub constructs a StatusHub that snapshots srv every
// interval and starts its broadcast loop.
func NewStatusHub(srv *mediator.Server, interval time.Duration) *StatusHub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &StatusHub{hub: websocket.NewHub(), srv: srv, cancel: cancel}
	go h.hub.Run()
	go h.tick(ctx, interval)
	return h
}

func (h *StatusHub) tick(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = h.hub.BroadcastJSON(h.snapshot())
		}
	}
}

func (h *StatusHub) snapshot() StatusSnapshot {
	usernames := h.srv.ClientUsernames()
	snap := StatusSnapshot{Clients: make([]ClientSnapshot, 0, len(usernames))}
	for _, u := range usernames {
		c, ok := h.srv.Client(u)
		if !ok {
			continue
		}
		cs := ClientSnapshot{Username: u, Connections: c.ConnectionCount(), ConnectorStatus: "none"}
		if connector, ok := c.Connector(); ok {
			cs.ConnectorStatus = connector.Status().String()
		}
		snap.Clients = append(snap.Clients, cs)
	}
	return snap
}

// ServeHTTP upgrades the request to a WebSocket and subscribes it to
// the periodic snapshot broadcast until the client disconnects.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.hub.Register(conn)
	defer h.hub.Unregister(conn)

	// Drain and discard anything the client sends; its only purpose is
	// to let Read() notice the socket closing so Unregister runs.
	for {
		if _, _, err := conn.Read(); err != nil {
			return
		}
	}
}

// Close shuts the hub down, disconnecting every subscriber.
func (h *StatusHub) Close() error {
	h.cancel()
	return h.hub.Close()
}
