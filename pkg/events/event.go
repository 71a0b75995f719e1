package events

import (
	"encoding/hex"
	"encoding/json"

	"github.com/voxa-labs/voxa/pkg/errorsx"
)

// Type discriminates the JSON messages exchanged with a client.
type Type string

const (
	// Inbound message types.
	TypeAudioChunk Type = "audio_chunk"
	TypeStop       Type = "stop"
	TypeTextInput  Type = "text_input"

	// Outbound message types.
	TypeSessionStart Type = "session_start"
	TypeState        Type = "state"
	TypeTranscript   Type = "transcript"
	TypeText         Type = "text"
	TypeAudio        Type = "audio"
	TypeError        Type = "error"

	// Control flows both ways: inbound interrupt, outbound stop_audio.
	TypeControl Type = "control"
)

const (
	ActionInterrupt = "interrupt"
	ActionStopAudio = "stop_audio"
)

// Event is one message on the client channel. Binary audio payloads are
// carried hex-encoded in Data so the whole protocol stays JSON-framed.
type Event struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state,omitempty"`
	Text      string `json:"text,omitempty"`
	IsFinal   bool   `json:"is_final,omitempty"`
	Data      string `json:"data,omitempty"`
	Action    string `json:"action,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
}

func NewSessionStart(sessionID string) Event {
	return Event{Type: TypeSessionStart, SessionID: sessionID}
}

func NewState(state string) Event {
	return Event{Type: TypeState, State: state}
}

func NewTranscript(text string, isFinal bool) Event {
	return Event{Type: TypeTranscript, Text: text, IsFinal: isFinal}
}

func NewText(text string) Event {
	return Event{Type: TypeText, Text: text}
}

func NewAudio(data []byte) Event {
	return Event{Type: TypeAudio, Data: hex.EncodeToString(data)}
}

func NewStopAudio(reason string) Event {
	return Event{Type: TypeControl, Action: ActionStopAudio, Reason: reason}
}

func NewError(message string) Event {
	return Event{Type: TypeError, Message: message}
}

func NewAudioChunk(data []byte) Event {
	return Event{Type: TypeAudioChunk, Data: hex.EncodeToString(data)}
}

func NewStop() Event {
	return Event{Type: TypeStop}
}

func NewTextInput(text string) Event {
	return Event{Type: TypeTextInput, Text: text}
}

func NewInterrupt() Event {
	return Event{Type: TypeControl, Action: ActionInterrupt}
}

// AudioBytes decodes the hex audio payload. Malformed payloads are a
// protocol error.
func (e Event) AudioBytes() ([]byte, error) {
	b, err := hex.DecodeString(e.Data)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonProtocol)
	}
	return b, nil
}

// Decode parses a raw client message. Unknown or missing types are a
// protocol error; callers log and drop the message, the session continues.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, errorsx.Wrap(err, errorsx.ReasonProtocol)
	}
	switch ev.Type {
	case TypeAudioChunk, TypeStop, TypeTextInput, TypeControl:
		return ev, nil
	default:
		return Event{}, errorsx.Wrap(errUnknownType{string(ev.Type)}, errorsx.ReasonProtocol)
	}
}

type errUnknownType struct{ t string }

func (e errUnknownType) Error() string { return "unknown message type: " + e.t }
