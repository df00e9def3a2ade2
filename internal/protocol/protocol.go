// Package protocol defines the JSON envelopes exchanged with the YUVA backend
// over the realtime channel.
//
// Outbound frames are command envelopes of the form {"action": ..., ...}.
// Inbound frames are event envelopes of the form {"type": ..., "data": ...}.
// [Decode] turns an inbound frame into one of a closed set of [Event] variants
// and fails with a [*DecodeError] (matching [ErrDecode]) when the frame is not
// valid JSON, lacks a required field, or carries an unrecognised status value.
// Frames with an unrecognised type decode to [Unknown] so callers can ignore
// them without treating them as errors.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action names an outbound command envelope.
type Action string

const (
	// ActionStart enables backend-side passive listening; sent on connect.
	ActionStart Action = "start"

	// ActionStop disables backend-side passive listening.
	ActionStop Action = "stop"

	// ActionCommand submits a user utterance or typed command.
	ActionCommand Action = "command"

	// ActionListen asks the backend to activate its own microphone.
	ActionListen Action = "listen"
)

// Outbound is a command envelope sent to the backend.
type Outbound struct {
	Action Action `json:"action"`

	// Text is the command text. Only set for [ActionCommand].
	Text string `json:"text,omitempty"`
}

// Start returns the envelope that enables passive listening.
func Start() Outbound { return Outbound{Action: ActionStart} }

// Stop returns the envelope that disables passive listening.
func Stop() Outbound { return Outbound{Action: ActionStop} }

// Command returns the envelope that submits text as a user command.
func Command(text string) Outbound { return Outbound{Action: ActionCommand, Text: text} }

// Listen returns the envelope that requests backend microphone activation.
func Listen() Outbound { return Outbound{Action: ActionListen} }

// Encode serialises o into a single frame.
func Encode(o Outbound) ([]byte, error) {
	switch o.Action {
	case ActionStart, ActionStop, ActionListen:
		if o.Text != "" {
			return nil, fmt.Errorf("protocol: action %q does not carry text", o.Action)
		}
	case ActionCommand:
	default:
		return nil, fmt.Errorf("protocol: unknown action %q", o.Action)
	}
	return json.Marshal(o)
}

// Type names an inbound event envelope.
type Type string

const (
	TypeStatus     Type = "status"
	TypeTranscript Type = "transcript"
	TypeSpeak      Type = "speak"
	TypeStats      Type = "stats"
)

// BackendStatus is a status value pushed by the backend.
type BackendStatus string

const (
	StatusListening  BackendStatus = "listening"
	StatusProcessing BackendStatus = "processing"
	StatusIdle       BackendStatus = "idle"
	StatusExecuting  BackendStatus = "executing"

	// StatusStarted and StatusStopped acknowledge the start and stop
	// actions. They describe passive listening, not assistant activity.
	StatusStarted BackendStatus = "started"
	StatusStopped BackendStatus = "stopped"
)

// IsLifecycle reports whether s acknowledges a passive-listening change
// rather than describing what the assistant is doing.
func (s BackendStatus) IsLifecycle() bool {
	return s == StatusStarted || s == StatusStopped
}

func parseBackendStatus(raw string) (BackendStatus, bool) {
	switch s := BackendStatus(raw); s {
	case StatusListening, StatusProcessing, StatusIdle, StatusExecuting, StatusStarted, StatusStopped:
		return s, true
	}
	return "", false
}

// Event is a decoded inbound envelope. The set of implementations is closed.
type Event interface {
	// EventType returns the envelope type the event was decoded from.
	EventType() Type

	isEvent()
}

// Status carries a backend status push.
type Status struct {
	Status BackendStatus
}

// Transcript carries text the backend heard from the user.
type Transcript struct {
	Text string
}

// Speak carries text the assistant says.
type Speak struct {
	Text string
}

// Stats carries a host telemetry sample.
type Stats struct {
	CPU     float64 `json:"cpu"`
	RAM     float64 `json:"ram"`
	Battery float64 `json:"battery"`
}

// Unknown is a well-formed envelope with a type this client does not know.
type Unknown struct {
	Type Type
}

func (Status) EventType() Type     { return TypeStatus }
func (Transcript) EventType() Type { return TypeTranscript }
func (Speak) EventType() Type      { return TypeSpeak }
func (Stats) EventType() Type      { return TypeStats }
func (u Unknown) EventType() Type  { return u.Type }

func (Status) isEvent()     {}
func (Transcript) isEvent() {}
func (Speak) isEvent()      {}
func (Stats) isEvent()      {}
func (Unknown) isEvent()    {}

// ErrDecode is matched by every error returned from [Decode].
var ErrDecode = errors.New("protocol: decode error")

// DecodeError describes why an inbound frame was rejected.
type DecodeError struct {
	// Type is the envelope type, if it could be read.
	Type Type

	// Reason is a short description of the failure.
	Reason string

	// Err is the underlying JSON error, if any.
	Err error
}

func (e *DecodeError) Error() string {
	msg := "protocol: decode"
	if e.Type != "" {
		msg += " " + string(e.Type)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes every DecodeError match [ErrDecode].
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// envelope is the raw wire shape of an inbound frame.
type envelope struct {
	Type *Type          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one inbound frame.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	if env.Type == nil || *env.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}
	typ := *env.Type

	switch typ {
	case TypeStatus:
		raw, err := decodeString(typ, env.Data)
		if err != nil {
			return nil, err
		}
		s, ok := parseBackendStatus(raw)
		if !ok {
			return nil, &DecodeError{Type: typ, Reason: fmt.Sprintf("unrecognised status %q", raw)}
		}
		return Status{Status: s}, nil

	case TypeTranscript:
		text, err := decodeString(typ, env.Data)
		if err != nil {
			return nil, err
		}
		return Transcript{Text: text}, nil

	case TypeSpeak:
		text, err := decodeString(typ, env.Data)
		if err != nil {
			return nil, err
		}
		return Speak{Text: text}, nil

	case TypeStats:
		if isNull(env.Data) {
			return nil, &DecodeError{Type: typ, Reason: "missing data"}
		}
		var raw struct {
			CPU     *float64 `json:"cpu"`
			RAM     *float64 `json:"ram"`
			Battery *float64 `json:"battery"`
		}
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, &DecodeError{Type: typ, Reason: "data is not a stats object", Err: err}
		}
		if raw.CPU == nil || raw.RAM == nil || raw.Battery == nil {
			return nil, &DecodeError{Type: typ, Reason: "stats requires cpu, ram and battery"}
		}
		return Stats{CPU: *raw.CPU, RAM: *raw.RAM, Battery: *raw.Battery}, nil

	default:
		return Unknown{Type: typ}, nil
	}
}

func decodeString(typ Type, data json.RawMessage) (string, error) {
	if isNull(data) {
		return "", &DecodeError{Type: typ, Reason: "missing data"}
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", &DecodeError{Type: typ, Reason: "data is not a string", Err: err}
	}
	return s, nil
}

func isNull(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}
