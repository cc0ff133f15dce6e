package gateway

import (
	"context"
	"log/slog"
	"sync"

	"onebridge/pkg/bus"
)

// eventCounter tallies dispatch events for the status endpoints.
type eventCounter struct {
	mu     sync.Mutex
	counts map[bus.EventType]int64
}

func newEventCounter() *eventCounter {
	return &eventCounter{counts: make(map[bus.EventType]int64)}
}

func (c *eventCounter) add(eventType bus.EventType) {
	c.mu.Lock()
	c.counts[eventType]++
	c.mu.Unlock()
}

func (c *eventCounter) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.counts))
	for eventType, n := range c.counts {
		out[string(eventType)] = n
	}
	return out
}

// observeEvents drains ch until ctx is done or the channel closes. The
// router logs each outcome itself; this only counts and traces.
func observeEvents(ctx context.Context, ch <-chan bus.Event, counter *eventCounter, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			counter.add(event.Type)
			traceEvent(log, event)
		}
	}
}

func traceEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", string(event.Type),
		"session_id", event.SessionID,
		"request_id", event.RequestID,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if event.MessageType != "" {
		attrs = append(attrs, "message_type", event.MessageType, "target_id", event.TargetID)
	}
	if event.PluginID != "" {
		attrs = append(attrs, "plugin", event.PluginID)
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}

	log.Debug("Dispatch event", attrs...)
}
