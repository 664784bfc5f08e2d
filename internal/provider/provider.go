// Package provider adapts hosted completion providers behind a single
// streaming interface so the relay's external contract is independent of
// the provider wire format.
package provider

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"chatrelay/internal/models"
)

// ChatModel is the adapter contract. Stream issues one completion request
// for the ordered conversation and calls onFragment for every text
// fragment as it arrives, in arrival order. It returns the full
// accumulated reply, including any fragments delivered before an error.
type ChatModel interface {
	Stream(ctx context.Context, conv models.Conversation, onFragment func(string) error) (string, error)
}

// toSchemaMessages converts the relay's message model into the provider
// schema. Non-text parts are dropped; the provider only sees text.
func toSchemaMessages(conv models.Conversation) []*schema.Message {
	out := make([]*schema.Message, 0, len(conv))
	for _, msg := range conv {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{
			Role:    role,
			Content: msg.Text(),
		})
	}
	return out
}
