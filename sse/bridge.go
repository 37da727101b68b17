// Package sse streams an agentrt.EventBus's events to HTTP clients as
// Server-Sent Events, one frame per event in the wire format
// "event: <type>\ndata: <json>\n\n".
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthside-labs/agentrt"
)

const subscriberBuffer = 64

// Bridge adapts an EventBus's synchronous Emit into per-client buffered
// channels an HTTP handler can range over without blocking the bus.
type Bridge struct {
	bus *agentrt.EventBus
}

// NewBridge wraps bus for HTTP streaming.
func NewBridge(bus *agentrt.EventBus) *Bridge {
	return &Bridge{bus: bus}
}

// subscribe returns a channel fed by bus and the Unsubscribe to release it.
// A slow client drops events rather than blocking Emit -- the channel send
// is non-blocking, matching the bus's own "subscriber must not block"
// contract.
func (b *Bridge) subscribe() (<-chan agentrt.Event, agentrt.Unsubscribe) {
	ch := make(chan agentrt.Event, subscriberBuffer)
	unsub := b.bus.Subscribe(func(ev agentrt.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch, unsub
}

// ServeHTTP streams events for the lifetime of the request. It requires an
// http.Flusher; callers not using net/http's default ResponseWriter must
// provide one.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, unsub := b.subscribe()
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			WriteEvent(w, event)
			flusher.Flush()
		}
	}
}

// WriteEvent writes one event frame in the "event: <type>\ndata: <json>\n\n"
// wire format. Exported so non-HTTP consumers (tests, alternate transports)
// can reuse the exact framing without going through ServeHTTP.
func WriteEvent(w http.ResponseWriter, event agentrt.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
