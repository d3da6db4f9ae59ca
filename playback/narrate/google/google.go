// Package google adapts Google's Gemini API to narrate.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/playback-go/playback/narrate"
)

const (
	// DefaultModel is used when NewChatModel is given an empty model name.
	DefaultModel = "gemini-2.5-flash"

	// DefaultMaxTokens bounds a narration's length.
	DefaultMaxTokens = 256
)

// SafetyFilterError is returned when Gemini blocks the prompt or the reply.
type SafetyFilterError struct {
	Reason string
	Err    error
}

func (e *SafetyFilterError) Error() string {
	return "google: content blocked: " + e.Reason
}

func (e *SafetyFilterError) Unwrap() error {
	return e.Err
}

// ChatModel implements narrate.ChatModel with Gemini. It owns a client
// connection; call Close when done.
type ChatModel struct {
	modelName string
	maxTokens int32
	client    contentClient
}

type contentClient interface {
	generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
	close() error
}

// request is one generation call: optional system instruction, prior turns
// and the parts of the latest user message.
type request struct {
	model     string
	maxTokens int32
	system    string
	history   []*genai.Content
	parts     []genai.Part
}

// NewChatModel connects to Gemini. Extra client options are passed to the SDK.
func NewChatModel(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	clientOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &ChatModel{
		modelName: modelName,
		maxTokens: DefaultMaxTokens,
		client:    &sdkClient{client: client},
	}, nil
}

// Chat implements narrate.ChatModel. Earlier turns are sent as chat history;
// the last user message is the new prompt.
func (m *ChatModel) Chat(ctx context.Context, messages []narrate.Message) (narrate.ChatOut, error) {
	if ctx.Err() != nil {
		return narrate.ChatOut{}, ctx.Err()
	}

	req := buildRequest(messages)
	req.model = m.modelName
	req.maxTokens = m.maxTokens
	if len(req.parts) == 0 {
		return narrate.ChatOut{}, errors.New("google: no user message to send")
	}

	resp, err := m.client.generate(ctx, req)
	if err != nil {
		return narrate.ChatOut{}, translateError(err)
	}
	return convertResponse(resp), nil
}

// Close releases the client connection.
func (m *ChatModel) Close() error {
	return m.client.close()
}

func buildRequest(messages []narrate.Message) request {
	var req request
	var system []string
	var turns []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case narrate.RoleSystem:
			system = append(system, msg.Content)
		case narrate.RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	req.system = strings.Join(system, "\n\n")

	if n := len(turns); n > 0 && turns[n-1].Role == "user" {
		req.parts = turns[n-1].Parts
		req.history = turns[:n-1]
	}
	return req
}

func convertResponse(resp *genai.GenerateContentResponse) narrate.ChatOut {
	var out narrate.ChatOut
	if resp.UsageMetadata != nil {
		out.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	var text []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text = append(text, string(t))
		}
	}
	out.Text = strings.Join(text, "\n")
	return out
}

func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		reason := "unknown"
		switch {
		case blocked.PromptFeedback != nil:
			reason = fmt.Sprintf("prompt: %v", blocked.PromptFeedback.BlockReason)
		case blocked.Candidate != nil:
			reason = fmt.Sprintf("response: %v", blocked.Candidate.FinishReason)
		}
		return &SafetyFilterError{Reason: reason, Err: err}
	}
	return &narrate.ProviderError{Provider: "google", Err: err}
}

type sdkClient struct {
	client *genai.Client
}

func (c *sdkClient) generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	model := c.client.GenerativeModel(req.model)
	model.SetMaxOutputTokens(req.maxTokens)
	if req.system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}

	if len(req.history) == 0 {
		return model.GenerateContent(ctx, req.parts...)
	}
	session := model.StartChat()
	session.History = req.history
	return session.SendMessage(ctx, req.parts...)
}

func (c *sdkClient) close() error {
	return c.client.Close()
}
