// Package openai adapts OpenAI's Chat Completions API to narrate.ChatModel.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/playback-go/playback/narrate"
)

const (
	// DefaultModel is used when NewChatModel is given an empty model name.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens bounds a narration's length.
	DefaultMaxTokens = 256
)

// ChatModel implements narrate.ChatModel with OpenAI chat models.
type ChatModel struct {
	modelName string
	maxTokens int64
	client    completionsClient
}

type completionsClient interface {
	createCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// NewChatModel creates a ChatModel. Extra request options are passed to the
// SDK client.
func NewChatModel(apiKey, modelName string, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(reqOpts...)
	return &ChatModel{
		modelName: modelName,
		maxTokens: DefaultMaxTokens,
		client:    &sdkClient{client: &client},
	}
}

// Chat implements narrate.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []narrate.Message) (narrate.ChatOut, error) {
	if ctx.Err() != nil {
		return narrate.ChatOut{}, ctx.Err()
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(m.modelName),
		Messages:            convertMessages(messages),
		MaxCompletionTokens: openai.Int(m.maxTokens),
	}

	completion, err := m.client.createCompletion(ctx, params)
	if err != nil {
		return narrate.ChatOut{}, translateError(err)
	}

	out := narrate.ChatOut{Tokens: int(completion.Usage.TotalTokens)}
	if len(completion.Choices) > 0 {
		out.Text = completion.Choices[0].Message.Content
	}
	return out, nil
}

func convertMessages(messages []narrate.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case narrate.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case narrate.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &narrate.ProviderError{
			Provider:   "openai",
			StatusCode: apiErr.StatusCode,
			Retryable:  narrate.RetryableStatus(apiErr.StatusCode),
			Err:        err,
		}
	}
	return &narrate.ProviderError{Provider: "openai", Err: err}
}

type sdkClient struct {
	client *openai.Client
}

func (c *sdkClient) createCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
