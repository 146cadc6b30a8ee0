// Package wire decodes and encodes the two Companion streaming envelopes:
// Phoenix channel frames (ordered 5-element arrays) and flat JSON events
// (objects with event_type/payload).
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names seen on the stream.
const (
	EventPhxJoin       = "phx_join"
	EventPhxReply      = "phx_reply"
	EventHeartbeat     = "heartbeat"
	EventLastState     = "last_state"
	EventCleaningState = "cleaning_state"
	EventStateChanged  = "state_changed"
	EventServiceStatus = "service_status"
)

// TopicPhoenix is the control topic used for heartbeat frames.
const TopicPhoenix = "phoenix"

var (
	// ErrMalformedEnvelope is returned for channel frames with fewer than
	// five elements.
	ErrMalformedEnvelope = errors.New("channel envelope has fewer than 5 elements")
	// ErrUnknownEnvelopeShape is returned for valid JSON that is neither a
	// channel frame nor a flat event.
	ErrUnknownEnvelopeShape = errors.New("unknown envelope shape")
)

// DecodeError wraps a frame that could not be parsed at all. The listen loop
// logs it and drops the frame.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode frame: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind discriminates the two envelope shapes.
type Kind int

const (
	KindChannel Kind = iota
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is a decoded inbound frame. For flat events Topic and the refs are
// empty and Event carries the event_type.
type Message struct {
	Kind    Kind
	JoinRef string // empty when the frame carried null
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// Decode classifies raw into one of the two envelope shapes. Channel frames
// take precedence: any JSON array is treated as one, and only indices 0-4 are
// read regardless of extra elements.
func Decode(raw []byte) (*Message, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, &DecodeError{Err: errors.New("empty frame")}
	}

	switch trimmed[0] {
	case '[':
		return decodeChannel(trimmed)
	case '{':
		return decodeEvent(trimmed)
	}

	// Valid JSON scalars (numbers, strings, booleans) are a shape we do not
	// speak; anything else is not JSON.
	if json.Valid(trimmed) {
		return nil, ErrUnknownEnvelopeShape
	}
	return nil, &DecodeError{Err: errors.New("not valid JSON")}
}

func decodeChannel(raw []byte) (*Message, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if len(elems) < 5 {
		return nil, ErrMalformedEnvelope
	}

	joinRef, err := nullableString(elems[0])
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("join_ref: %w", err)}
	}
	ref, err := nullableString(elems[1])
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("ref: %w", err)}
	}

	var topic, event string
	if err := json.Unmarshal(elems[2], &topic); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("topic: %w", err)}
	}
	if err := json.Unmarshal(elems[3], &event); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("event: %w", err)}
	}

	return &Message{
		Kind:    KindChannel,
		JoinRef: joinRef,
		Ref:     ref,
		Topic:   topic,
		Event:   event,
		Payload: elems[4],
	}, nil
}

func decodeEvent(raw []byte) (*Message, error) {
	var env struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.EventType == "" {
		return nil, ErrUnknownEnvelopeShape
	}
	payload := env.Payload
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = json.RawMessage("{}")
	}
	return &Message{
		Kind:    KindEvent,
		Event:   env.EventType,
		Payload: payload,
	}, nil
}

// nullableString accepts a JSON string or null; null maps to "".
func nullableString(raw json.RawMessage) (string, error) {
	if bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// ReplyBody extracts response.body from a phx_reply payload.
func ReplyBody(payload json.RawMessage) (json.RawMessage, bool) {
	var env struct {
		Response struct {
			Body json.RawMessage `json:"body"`
		} `json:"response"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, false
	}
	if len(env.Response.Body) == 0 || bytes.Equal(env.Response.Body, []byte("null")) {
		return nil, false
	}
	return env.Response.Body, true
}

// LastStateBody extracts body from a last_state payload.
func LastStateBody(payload json.RawMessage) (json.RawMessage, bool) {
	var env struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, false
	}
	if len(env.Body) == 0 || bytes.Equal(env.Body, []byte("null")) {
		return nil, false
	}
	return env.Body, true
}

// StateChangedBody extracts payload.state from a state_changed event.
func StateChangedBody(payload json.RawMessage) (json.RawMessage, bool) {
	var env struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, false
	}
	if len(env.State) == 0 || bytes.Equal(env.State, []byte("null")) {
		return nil, false
	}
	return env.State, true
}
