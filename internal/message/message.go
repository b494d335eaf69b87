// Package message defines the messages exchanged between the guest agent and
// its host-side peer.
//
// All messages are newline-delimited JSON. Each message is exactly one line:
// <json>\n. The connection starts with a CONNECT/CONNECTED handshake; only
// after it are clipboard messages accepted in either direction.
package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Type identifies the kind of message.
type Type string

const (
	TypeConnect       Type = "CONNECT"
	TypeConnected     Type = "CONNECTED"
	TypeSetClipboard  Type = "SET_CLIPBOARD"
	TypeWipeClipboard Type = "WIPE_CLIPBOARD"
	TypePing          Type = "PING"
	TypePong          Type = "PONG"
	TypeDisconnect    Type = "DISCONNECT"
	TypeError         Type = "ERROR"
)

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type   Type   `json:"type"`
	Source string `json:"source,omitempty"`

	// CONNECT: the shared secret, base64-encoded.
	Payload string `json:"payload,omitempty"`

	// SET_CLIPBOARD
	Text string `json:"text,omitempty"`

	// ERROR, DISCONNECT
	Error string `json:"error,omitempty"`
}

// Connect returns the handshake message carrying secret.
func Connect(source, secret string) *Message {
	return &Message{
		Type:    TypeConnect,
		Source:  source,
		Payload: base64.StdEncoding.EncodeToString([]byte(secret)),
	}
}

// Secret decodes the secret carried by a CONNECT message.
func (m *Message) Secret() (string, error) {
	b, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return "", fmt.Errorf("message secret: %w", err)
	}
	return string(b), nil
}

// Clipboard returns the message that makes the peer's clipboard hold text:
// WIPE_CLIPBOARD for "", SET_CLIPBOARD otherwise.
func Clipboard(source, text string) *Message {
	if text == "" {
		return &Message{Type: TypeWipeClipboard, Source: source}
	}
	return &Message{Type: TypeSetClipboard, Source: source, Text: text}
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("message decode: missing type")
	}
	return &m, nil
}
