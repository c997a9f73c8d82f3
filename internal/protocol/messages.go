// Package protocol defines the websocket messages of conversation mode.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTurn    MessageType = "client_turn"
	TypeClientControl MessageType = "client_control"
	TypeTutorReply    MessageType = "tutor_reply"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Control actions.
const (
	ActionEnd  = "end"
	ActionPing = "ping"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTurn is one learner utterance, typed or spoken. AudioBase64 carries
// a complete audio file and is used only when Text is empty.
type ClientTurn struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Text        string      `json:"text,omitempty"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	AudioFormat string      `json:"audio_format,omitempty"`
	Language    string      `json:"language,omitempty"`
	Mode        string      `json:"mode,omitempty"`
	Speak       bool        `json:"speak,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type TutorReply struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	TurnID           string      `json:"turn_id"`
	InputText        string      `json:"input_text"`
	Conversation     string      `json:"conversation"`
	Vocabulary       string      `json:"vocabulary"`
	ExampleResponses string      `json:"example_responses"`
	FullResponse     string      `json:"full_response"`
	Model            string      `json:"model"`
	AudioFile        string      `json:"audio_file,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTurn:
		var msg ClientTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_turn: session_id required")
		}
		if strings.TrimSpace(msg.Text) == "" && msg.AudioBase64 == "" {
			return nil, errors.New("invalid client_turn: text or audio_base64 required")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
