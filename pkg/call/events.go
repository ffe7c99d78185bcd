package call

import (
	"encoding/json"
	"log/slog"
	"time"
)

// EventKind names a diagnostic event.
type EventKind string

// Event kinds.
const (
	EventStateChanged      EventKind = "state_changed"
	EventNegotiationFailed EventKind = "negotiation_failed"
	EventConnectFailed     EventKind = "connect_failed"
	EventConnected         EventKind = "connected"
	EventConnectionClosed  EventKind = "connection_closed"
	EventTransportFailure  EventKind = "transport_failure"
	EventDisconnected      EventKind = "disconnected"
	EventMalformedFrame    EventKind = "malformed_frame"
	EventPlaybackOverflow  EventKind = "playback_overflow"
	EventTransportText     EventKind = "transport_text"
	EventCaptureOverrun    EventKind = "capture_overrun"
	EventSendFailed        EventKind = "send_failed"
)

// level is the log level an event is written at.
func (k EventKind) level() slog.Level {
	switch k {
	case EventNegotiationFailed, EventConnectFailed, EventTransportFailure:
		return slog.LevelError
	case EventMalformedFrame, EventPlaybackOverflow, EventCaptureOverrun, EventSendFailed:
		return slog.LevelWarn
	case EventTransportText, EventStateChanged:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Event is a diagnostic notification for the host.
type Event struct {
	Kind      EventKind
	State     State
	AttemptID string
	Err       error
	Detail    string
	Time      time.Time
}

type eventJSON struct {
	Kind      EventKind `json:"kind"`
	State     State     `json:"state"`
	AttemptID string    `json:"attempt_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// MarshalJSON renders Err as a string.
func (e Event) MarshalJSON() ([]byte, error) {
	j := eventJSON{
		Kind:      e.Kind,
		State:     e.State,
		AttemptID: e.AttemptID,
		Detail:    e.Detail,
		Time:      e.Time,
	}
	if e.Err != nil {
		j.Error = e.Err.Error()
	}
	return json.Marshal(j)
}
