// Package anthropic adapts Anthropic's Messages API to narrate.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/playback-go/playback/narrate"
)

const (
	// DefaultModel is used when NewChatModel is given an empty model name.
	DefaultModel = "claude-3-5-haiku-latest"

	// DefaultMaxTokens bounds a narration's length.
	DefaultMaxTokens = 256
)

// ChatModel implements narrate.ChatModel with Claude.
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
//	n := narrate.NewNarrator[Frame](m, sink)
type ChatModel struct {
	modelName string
	maxTokens int64
	client    messagesClient
}

// messagesClient is the slice of the SDK the adapter uses.
type messagesClient interface {
	createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// NewChatModel creates a ChatModel. Extra request options are passed to the
// SDK client, for example option.WithBaseURL or option.WithMaxRetries.
func NewChatModel(apiKey, modelName string, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(reqOpts...)
	return &ChatModel{
		modelName: modelName,
		maxTokens: DefaultMaxTokens,
		client:    &sdkClient{client: &client},
	}
}

// WithMaxTokens returns m with a different response bound.
func (m *ChatModel) WithMaxTokens(n int64) *ChatModel {
	out := *m
	if n > 0 {
		out.maxTokens = n
	}
	return &out
}

// Chat implements narrate.ChatModel. System messages are sent in Anthropic's
// separate system parameter.
func (m *ChatModel) Chat(ctx context.Context, messages []narrate.Message) (narrate.ChatOut, error) {
	if ctx.Err() != nil {
		return narrate.ChatOut{}, ctx.Err()
	}

	system, conversation := splitSystem(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  convertMessages(conversation),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := m.client.createMessage(ctx, params)
	if err != nil {
		return narrate.ChatOut{}, translateError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return narrate.ChatOut{
		Text:   text.String(),
		Tokens: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

// splitSystem separates system messages, joined, from the conversation.
func splitSystem(messages []narrate.Message) (string, []narrate.Message) {
	var system []string
	var conversation []narrate.Message

	for _, msg := range messages {
		if msg.Role == narrate.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		conversation = append(conversation, msg)
	}
	return strings.Join(system, "\n\n"), conversation
}

func convertMessages(messages []narrate.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == narrate.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// translateError wraps API failures in narrate.ProviderError. Context errors
// pass through unchanged.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &narrate.ProviderError{
			Provider:   "anthropic",
			StatusCode: apiErr.StatusCode,
			Retryable:  narrate.RetryableStatus(apiErr.StatusCode),
			Err:        err,
		}
	}
	return &narrate.ProviderError{Provider: "anthropic", Err: err}
}

type sdkClient struct {
	client *anthropic.Client
}

func (c *sdkClient) createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.client.Messages.New(ctx, params)
}
