package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"chatrelay/internal/models"
)

const defaultMaxTokens = 3000

// Config selects and parameterizes one provider backend.
type Config struct {
	BaseURL string
	Model   string
}

// einoModel wraps an eino chat model behind the ChatModel interface.
type einoModel struct {
	inner model.ToolCallingChatModel
}

// New builds the adapter for a named provider. Supported names: openai,
// gemini, claude.
func New(ctx context.Context, name string, cfg Config, apiKey string) (ChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch name {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  apiKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: apiKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: defaultMaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", name, err)
	}
	return &einoModel{inner: chatModel}, nil
}

// Stream consumes the provider's stream reader and forwards each content
// fragment as produced. No buffering beyond the current fragment.
func (m *einoModel) Stream(ctx context.Context, conv models.Conversation, onFragment func(string) error) (string, error) {
	reader, err := m.inner.Stream(ctx, toSchemaMessages(conv))
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return full.String(), err
		}
		if chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onFragment != nil {
			if err := onFragment(chunk.Content); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}
