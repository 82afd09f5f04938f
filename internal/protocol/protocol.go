package protocol

import (
	"encoding/json"
	"fmt"
)

// Control message types sent by the client as text frames.
const (
	ControlConfig = "config"
	ControlReset  = "reset"
	ControlEOF    = "eof"
)

// Event types sent by the server as text frames.
const (
	EventPartial = "partial"
	EventFinal   = "final"
	EventError   = "error"
)

// Control is a client -> server control message. Config fields are pointers
// so an absent field leaves the recognizer option untouched.
type Control struct {
	Type            string `json:"type"`
	MaxAlternatives *int   `json:"max_alternatives,omitempty"`
	Words           *bool  `json:"words,omitempty"`
	PartialWords    *bool  `json:"partial_words,omitempty"`
}

// Event is a server -> client recognition event. Result carries the decoder's
// JSON verbatim for partial and final events; Message is set on errors.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Result    json.RawMessage `json:"result,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ParseControl parses and validates a client control message.
func ParseControl(data []byte) (*Control, error) {
	var ctrl Control
	if err := json.Unmarshal(data, &ctrl); err != nil {
		return nil, fmt.Errorf("failed to parse control message: %w", err)
	}
	if err := ctrl.Validate(); err != nil {
		return nil, err
	}
	return &ctrl, nil
}

// Validate checks the control message fields.
func (c *Control) Validate() error {
	switch c.Type {
	case ControlConfig:
		if c.MaxAlternatives != nil && *c.MaxAlternatives < 0 {
			return fmt.Errorf("max_alternatives must be non-negative, got %d", *c.MaxAlternatives)
		}
	case ControlReset, ControlEOF:
		if c.MaxAlternatives != nil || c.Words != nil || c.PartialWords != nil {
			return fmt.Errorf("%q message must not carry config fields", c.Type)
		}
	case "":
		return fmt.Errorf("control message missing type")
	default:
		return fmt.Errorf("unknown control type: %q", c.Type)
	}
	return nil
}

// NewPartialEvent builds a partial-result event carrying the decoder JSON.
func NewPartialEvent(sessionID string, seq uint64, result string) *Event {
	return &Event{Type: EventPartial, SessionID: sessionID, Seq: seq, Result: json.RawMessage(result)}
}

// NewFinalEvent builds a final-result event carrying the decoder JSON.
func NewFinalEvent(sessionID string, seq uint64, result string) *Event {
	return &Event{Type: EventFinal, SessionID: sessionID, Seq: seq, Result: json.RawMessage(result)}
}

// NewErrorEvent builds an error event with a human-readable message.
func NewErrorEvent(sessionID string, seq uint64, message string) *Event {
	return &Event{Type: EventError, SessionID: sessionID, Seq: seq, Message: message}
}

// Marshal serializes the event for a text frame.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return data, nil
}

// String returns a human-readable representation of the event.
func (e *Event) String() string {
	return fmt.Sprintf("Event{Type:%s, Session:%s, Seq:%d, ResultLen:%d}",
		e.Type, e.SessionID, e.Seq, len(e.Result))
}
