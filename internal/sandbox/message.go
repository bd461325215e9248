package sandbox

import (
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// MaxErrorLength bounds stored error text. Adversarial or looping programs
// can emit arbitrarily large messages; everything past the cap is dropped
// before any further processing.
const MaxErrorLength = 5000

// NullOrigin is the origin a sandboxed document reports for itself
const NullOrigin = "null"

// Type tags a sandbox message
type Type string

const (
	TypeReady          Type = "ready"
	TypeError          Type = "error"
	TypeRenderComplete Type = "render-complete"
)

// Message crosses the isolation boundary. Delivery is unordered and
// duplicates are possible; every consumer must be idempotent.
type Message struct {
	Type    Type   `json:"type"`
	Origin  string `json:"-"`
	Text    string `json:"message,omitempty"` // error text, truncated on receipt
	Success bool   `json:"success,omitempty"` // render-complete only
}

// Decode parses a raw JSON payload into a message, truncating error text.
// Unknown payloads decode to a zero-type message the dispatcher ignores.
func Decode(raw []byte, origin string) (Message, error) {
	var m Message
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return Message{}, err
	}
	m.Origin = origin
	m.Text = Truncate(m.Text)
	return m, nil
}

// Encode serializes a message for the host-observed channel
func (m Message) Encode() ([]byte, error) {
	return sonic.Marshal(m)
}

// Truncate bounds error text at MaxErrorLength bytes, backing off to the
// nearest rune boundary so the cut never leaves invalid UTF-8
func Truncate(text string) string {
	if len(text) <= MaxErrorLength {
		return text
	}
	cut := MaxErrorLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// Accepted reports whether a message origin is trustworthy: only the
// sandbox's own null-origin report or the host's own origin pass. Anything
// else is spoofed by unrelated embedded content and is discarded without
// state changes.
func Accepted(m Message, hostOrigin string) bool {
	return m.Origin == NullOrigin || (hostOrigin != "" && m.Origin == hostOrigin)
}
