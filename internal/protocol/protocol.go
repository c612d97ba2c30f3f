// Package protocol defines the JSON frames exchanged between clients and the
// sync relay.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

const (
	TypeHello          Type = "hello"
	TypeSync           Type = "sync"
	TypeUpdate         Type = "update"
	TypeAwareness      Type = "awareness"
	TypeQueryAwareness Type = "query_awareness"
	TypeError          Type = "error"
)

// Error codes carried by error frames.
const (
	CodeBadHello     = "bad_hello"
	CodeUnauthorized = "unauthorized"
	CodeUnavailable  = "unavailable"
)

var ErrUnknownType = errors.New("unknown message type")

// Message is one websocket frame. Update and Awareness hold already encoded
// payloads so that the relay can forward them without decoding.
type Message struct {
	Type      Type              `json:"type"`
	Room      string            `json:"room,omitempty"`
	Token     string            `json:"token,omitempty"`
	Updates   []json.RawMessage `json:"updates,omitempty"`
	Update    json.RawMessage   `json:"update,omitempty"`
	Awareness json.RawMessage   `json:"awareness,omitempty"`
	Code      string            `json:"code,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func Hello(room, token string) Message {
	return Message{Type: TypeHello, Room: room, Token: token}
}

func Sync(updates [][]byte) Message {
	raw := make([]json.RawMessage, 0, len(updates))
	for _, u := range updates {
		raw = append(raw, json.RawMessage(u))
	}
	return Message{Type: TypeSync, Updates: raw}
}

func Update(data []byte) Message {
	return Message{Type: TypeUpdate, Update: json.RawMessage(data)}
}

func Awareness(data []byte) Message {
	return Message{Type: TypeAwareness, Awareness: json.RawMessage(data)}
}

func QueryAwareness() Message {
	return Message{Type: TypeQueryAwareness}
}

func Error(code, message string) Message {
	return Message{Type: TypeError, Code: code, Error: message}
}

func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a frame and rejects unknown types.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	switch msg.Type {
	case TypeHello, TypeSync, TypeUpdate, TypeAwareness, TypeQueryAwareness, TypeError:
		return msg, nil
	default:
		return Message{}, fmt.Errorf("decode message %q: %w", msg.Type, ErrUnknownType)
	}
}
