// Package chatwire holds the JSON frames exchanged between chat clients and the server.
package chatwire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyUsername  = errors.New("username is required")
	ErrEmptyPassword  = errors.New("password is required")
	ErrEmptyText      = errors.New("message text is required")
	ErrMalformedFrame = errors.New("malformed chat frame")
)

// Credentials is the username/password pair posted to /register and /login and
// sent once as the websocket identification frame.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate reports the first empty field.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return ErrEmptyUsername
	}
	if c.Password == "" {
		return ErrEmptyPassword
	}
	return nil
}

// ChatMessage is one chat line, both outbound and as pushed by the server.
type ChatMessage struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Line renders the message the way the chat display shows it.
func (m ChatMessage) Line() string {
	return m.Username + ": " + m.Text
}

// ValidateChat rejects a message with an empty username or empty text.
func ValidateChat(m ChatMessage) error {
	if strings.TrimSpace(m.Username) == "" {
		return ErrEmptyUsername
	}
	if strings.TrimSpace(m.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// Identify encodes the identification frame.
func Identify(c Credentials) ([]byte, error) {
	return encode(c)
}

// EncodeChat encodes an outbound chat frame.
func EncodeChat(m ChatMessage) ([]byte, error) {
	return encode(m)
}

// DecodeChat parses an inbound frame. Frames that are not JSON objects or that
// lack either field are reported as ErrMalformedFrame.
func DecodeChat(data []byte) (ChatMessage, error) {
	var raw struct {
		Username *string `json:"username"`
		Text     *string `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw.Username == nil || raw.Text == nil {
		return ChatMessage{}, fmt.Errorf("%w: missing username or text", ErrMalformedFrame)
	}
	return ChatMessage{Username: *raw.Username, Text: *raw.Text}, nil
}

// DecodeCredentials parses an identification frame.
func DecodeCredentials(data []byte) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return c, nil
}

// encode marshals v without HTML escaping so <, > and & travel as typed.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
