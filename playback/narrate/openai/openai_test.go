package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dshills/playback-go/playback/narrate"
)

var _ narrate.ChatModel = (*ChatModel)(nil)

type fakeClient struct {
	params openai.ChatCompletionNewParams
	reply  *openai.ChatCompletion
	err    error
}

func (f *fakeClient) createCompletion(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeClient{reply: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Node C is visited next."}},
		},
		Usage: openai.CompletionUsage{TotalTokens: 31},
	}}
	m := &ChatModel{modelName: "gpt-test", maxTokens: 64, client: fake}

	out, err := m.Chat(context.Background(), []narrate.Message{
		{Role: narrate.RoleSystem, Content: "narrate"},
		{Role: narrate.RoleUser, Content: "Step 0"},
		{Role: narrate.RoleAssistant, Content: "Start at A."},
		{Role: narrate.RoleUser, Content: "Step 1"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "Node C is visited next." || out.Tokens != 31 {
		t.Errorf("unexpected output: %+v", out)
	}

	p := fake.params
	if string(p.Model) != "gpt-test" {
		t.Errorf("unexpected model %q", p.Model)
	}
	if len(p.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(p.Messages))
	}
	if p.Messages[0].OfSystem == nil || p.Messages[1].OfUser == nil || p.Messages[2].OfAssistant == nil || p.Messages[3].OfUser == nil {
		t.Errorf("unexpected message roles: %+v", p.Messages)
	}
}

func TestChatModel_NoChoices(t *testing.T) {
	m := &ChatModel{modelName: DefaultModel, client: &fakeClient{reply: &openai.ChatCompletion{}}}

	out, err := m.Chat(context.Background(), []narrate.Message{{Role: narrate.RoleUser, Content: "Step 0"}})
	if err != nil || out.Text != "" {
		t.Errorf("expected empty output, got %+v %v", out, err)
	}
}

func TestChatModel_Errors(t *testing.T) {
	t.Run("context errors pass through", func(t *testing.T) {
		m := &ChatModel{modelName: DefaultModel, client: &fakeClient{err: context.Canceled}}
		if _, err := m.Chat(context.Background(), nil); err != context.Canceled {
			t.Errorf("expected Canceled, got %v", err)
		}
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		cause := errors.New("dns failure")
		m := &ChatModel{modelName: DefaultModel, client: &fakeClient{err: cause}}

		_, err := m.Chat(context.Background(), nil)
		var pe *narrate.ProviderError
		if !errors.As(err, &pe) || pe.Provider != "openai" || pe.Retryable || !errors.Is(err, cause) {
			t.Errorf("expected wrapped provider error, got %v", err)
		}
	})
}

func TestChatModel_HTTP(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("unexpected auth header %q", got)
			}

			var body struct {
				Model    string           `json:"model"`
				Messages []map[string]any `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if body.Model != "gpt-test" || len(body.Messages) != 2 || body.Messages[0]["role"] != "system" {
				t.Errorf("unexpected request body: %+v", body)
			}

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
				"choices": [{"index": 0, "finish_reason": "stop",
					"message": {"role": "assistant", "content": "Queue now holds B and C."}}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 6, "total_tokens": 16}
			}`))
		}))
		defer server.Close()

		m := NewChatModel("test-key", "gpt-test", option.WithBaseURL(server.URL), option.WithMaxRetries(0))
		out, err := m.Chat(context.Background(), []narrate.Message{
			{Role: narrate.RoleSystem, Content: "narrate"},
			{Role: narrate.RoleUser, Content: "Step 2"},
		})
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		if out.Text != "Queue now holds B and C." || out.Tokens != 16 {
			t.Errorf("unexpected output: %+v", out)
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
		}))
		defer server.Close()

		m := NewChatModel("test-key", "gpt-test", option.WithBaseURL(server.URL), option.WithMaxRetries(0))
		_, err := m.Chat(context.Background(), []narrate.Message{{Role: narrate.RoleUser, Content: "Step 2"}})

		var pe *narrate.ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ProviderError, got %v", err)
		}
		if pe.StatusCode != http.StatusServiceUnavailable || !pe.Retryable {
			t.Errorf("unexpected provider error: %+v", pe)
		}
	})
}
