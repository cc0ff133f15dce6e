package bus

import "time"

type EventType string

const (
	EventSessionOpened   EventType = "session_opened"
	EventSessionRejected EventType = "session_rejected"
	EventSessionClosed   EventType = "session_closed"
	EventHeartbeat       EventType = "heartbeat"
	EventFrameDropped    EventType = "frame_dropped"
	EventPolicyBlocked   EventType = "policy_blocked"
	EventPluginHandled   EventType = "plugin_handled"
	EventReplySuppressed EventType = "reply_suppressed"
	EventBackendStarted  EventType = "backend_started"
	EventBackendFailed   EventType = "backend_failed"
	EventBackendEmpty    EventType = "backend_empty"
	EventReplySent       EventType = "reply_sent"
	EventReplyDiscarded  EventType = "reply_discarded"
)

// Event is one observation from the dispatch pipeline.
type Event struct {
	Type        EventType         `json:"type"`
	At          time.Time         `json:"at"`
	SessionID   string            `json:"session_id,omitempty"`
	MessageType string            `json:"message_type,omitempty"`
	TargetID    int64             `json:"target_id,omitempty"`
	PluginID    string            `json:"plugin_id,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (e Event) normalize() Event {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}
