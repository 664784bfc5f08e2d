package models

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known conversation roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// PartTypeText is the only part variant the relay interprets. Other part
// kinds (attachments, tool calls) must still decode without error so the
// wire model stays open to new variants.
const PartTypeText = "text"

// Part is one element of a message body, tagged by Type. Decoded parts
// keep their raw payload so variants this package does not interpret
// survive a decode and re-encode with all their fields.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	raw json.RawMessage
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

func (p *Part) UnmarshalJSON(data []byte) error {
	type plain Part
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = Part(decoded)
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the original payload for decoded parts. Parts are
// never mutated after creation, so the retained payload cannot go stale.
func (p Part) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	type plain Part
	return json.Marshal(plain(p))
}

// Message is a single conversation turn. Messages are immutable once
// created and only ever appended to a Conversation.
type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewMessage builds a message with a fresh id and a single text part.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:    uuid.NewString(),
		Role:  role,
		Parts: []Part{TextPart(text)},
	}
}

// Text joins the message's text parts with newlines. Non-text parts are
// skipped.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != PartTypeText {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// Conversation is an ordered message sequence. Insertion order defines the
// turn order fed to the completion provider.
type Conversation []Message

// MaxMessages bounds how many messages a conversation may carry when
// submitted to the relay.
const MaxMessages = 100
