// Package dashboard adapts the teacher library's generic broadcast
// hubs into a small operator-facing monitoring surface for the
// mediator: a live event log over SSE and a periodic status snapshot
// over WebSocket.
package dashboard

import (
	"net/http"

	"github.com/coregx/relay/mediator"
	"github.com/coregx/relay/sse"
)

// EventFeed broadcasts mediator.Events to every subscribed SSE client
// as they happen. It implements mediator.EventSink.
type EventFeed struct {
	hub *sse.Hub[mediator.Event]
}

// NewEventFeed constructs an EventFeed and starts its broadcast loop.
// Call Close when the server shuts down.
func NewEventFeed() *EventFeed {
	f := &EventFeed{hub: sse.NewHub[mediator.Event]()}
	go f.hub.Run()
	return f
}

// Emit implements mediator.EventSink.
func (f *EventFeed) Emit(ev mediator.Event) {
	_ = f.hub.BroadcastJSON(ev)
}

// ServeHTTP subscribes the requester to the live event feed until the
// connection closes.
func (f *EventFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := f.hub.Register(conn); err != nil {
		_ = conn.Close()
		return
	}
	<-r.Context().Done()
	_ = f.hub.Unregister(conn)
}

// Close shuts the feed down, disconnecting every subscriber.
func (f *EventFeed) Close() error {
	return f.hub.Close()
}
