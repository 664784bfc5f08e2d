// Package relay validates inbound conversations and forwards them to a
// completion provider, republishing the provider's token stream to the
// caller fragment by fragment.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/validate"
)

// DefaultUpstreamTimeout bounds a single completion call.
const DefaultUpstreamTimeout = 2 * time.Minute

// Service relays one validated conversation per call. It holds no mutable
// state; concurrent calls are independent transactions.
type Service struct {
	model   provider.ChatModel
	apiKey  string
	timeout time.Duration
}

// NewService wires the provider adapter and the static credential. A nil
// model or empty key is tolerated here and reported per request as
// ServerMisconfigured.
func NewService(model provider.ChatModel, apiKey string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &Service{model: model, apiKey: apiKey, timeout: timeout}
}

type chatEnvelope struct {
	Messages json.RawMessage `json:"messages"`
}

// ParseConversation runs the fail-fast validation sequence over a request
// body and returns the validated conversation. Each failure maps to a
// documented code; the first failure wins.
func ParseConversation(contentType string, body []byte) (models.Conversation, *Error) {
	if !isJSONContentType(contentType) {
		return nil, newError(CodeInvalidContentType, "content type must declare JSON", nil)
	}
	if !json.Valid(body) {
		return nil, newError(CodeMalformedJSON, "request body is not valid JSON", nil)
	}
	var env chatEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newError(CodeInvalidMessagesShape, "messages must be a sequence", err)
	}
	if len(env.Messages) == 0 || string(env.Messages) == "null" {
		return nil, newError(CodeInvalidMessagesShape, "messages must be a sequence", nil)
	}
	var conv models.Conversation
	if err := json.Unmarshal(env.Messages, &conv); err != nil {
		return nil, newError(CodeInvalidMessagesShape, "messages must be a sequence", err)
	}
	if len(conv) == 0 {
		return nil, newError(CodeEmptyConversation, "conversation has no messages", nil)
	}
	if len(conv) > models.MaxMessages {
		return nil, newError(CodeConversationTooLong,
			fmt.Sprintf("conversation exceeds %d messages", models.MaxMessages), nil)
	}
	for i, msg := range conv {
		if !msg.Role.Valid() || msg.Parts == nil {
			return nil, newError(CodeInvalidMessageFormat,
				fmt.Sprintf("message %d missing role or parts", i), nil)
		}
		for _, part := range msg.Parts {
			if part.Type != models.PartTypeText {
				continue
			}
			if utf8.RuneCountInString(part.Text) > validate.MaxMessageLen {
				return nil, newError(CodeMessageTooLong,
					fmt.Sprintf("message %d exceeds %d characters", i, validate.MaxMessageLen), nil)
			}
		}
	}
	return conv, nil
}

// Stream forwards the conversation to the provider and invokes onFragment
// for every text fragment in arrival order. It returns the accumulated
// reply. Errors are classified; the raw cause stays wrapped for logging.
func (s *Service) Stream(ctx context.Context, conv models.Conversation, onFragment func(string) error) (string, *Error) {
	if s.model == nil || s.apiKey == "" {
		return "", newError(CodeServerMisconfigured, "provider credential not configured", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.model.Stream(ctx, conv, onFragment)
	if err != nil {
		return reply, Classify(err)
	}
	return reply, nil
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.ToLower(contentType))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
