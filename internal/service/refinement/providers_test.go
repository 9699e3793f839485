package refinement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/errors"
)

func TestOpenAIGenerator_Generate(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		want     string
		wantErr  bool
	}{
		{
			name:     "success",
			status:   http.StatusOK,
			response: `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" {\"final_text\":\"ok\"} "},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`,
			want:     `{"final_text":"ok"}`,
		},
		{
			name:     "no choices",
			status:   http.StatusOK,
			response: `{"id":"1","object":"chat.completion","choices":[]}`,
			wantErr:  true,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			response: `{"error":{"message":"slow down","type":"rate_limit_error"}}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got openai.ChatCompletionRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			cfg := openai.DefaultConfig("test-key")
			cfg.BaseURL = server.URL + "/v1"
			gen := NewOpenAIGeneratorWithClient(openai.NewClientWithConfig(cfg), "deepseek-chat", 512)

			out, err := gen.Generate(context.Background(), Prompt{System: "sys", User: "hi", JSON: true})
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.CodeExternal, errors.CodeOf(err))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, "deepseek-chat", got.Model)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
			require.NotNil(t, got.ResponseFormat)
			assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, got.ResponseFormat.Type)
		})
	}
}

// fakeModel is an llms.Model returning a fixed response
type fakeModel struct {
	content  string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.content == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.content}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return f.content, f.err
}

func TestOllamaGenerator_Generate(t *testing.T) {
	model := &fakeModel{content: "{\"final_text\":\"ok\"}\n"}
	gen := NewOllamaGeneratorWithModel(model, "qwen2.5")

	out, err := gen.Generate(context.Background(), Prompt{System: "sys", User: "hi", JSON: true})

	require.NoError(t, err)
	assert.Equal(t, `{"final_text":"ok"}`, out)
	assert.Equal(t, "ollama:qwen2.5", gen.Name())
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.True(t, model.opts.JSONMode)

	empty := NewOllamaGeneratorWithModel(&fakeModel{}, "qwen2.5")
	_, err = empty.Generate(context.Background(), Prompt{User: "hi"})
	require.Error(t, err)
}

func TestNewGenerator(t *testing.T) {
	_, err := NewGenerator(config.ProviderConfig{Provider: config.ProviderOpenAI, Model: "deepseek-chat"}, 0)
	require.Error(t, err)
	assert.Equal(t, errors.CodeBackendUnavailable, errors.CodeOf(err))

	gen, err := NewGenerator(config.ProviderConfig{Provider: config.ProviderOpenAI, Model: "deepseek-chat", APIKey: "sk", BaseURL: "https://api.deepseek.com/v1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", gen.Name())

	gen, err = NewGenerator(config.ProviderConfig{Provider: config.ProviderOllama, Model: "qwen2.5"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ollama:qwen2.5", gen.Name())

	_, err = NewGenerator(config.ProviderConfig{Provider: "gemini"}, 0)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidArg, errors.CodeOf(err))
}

func TestNewRefinerFromConfig(t *testing.T) {
	refiner, errs := NewRefinerFromConfig(config.RefinementConfig{
		Primary:   config.ProviderConfig{Provider: config.ProviderOpenAI, Model: "deepseek-chat"},
		Secondary: config.ProviderConfig{Provider: config.ProviderOllama, Model: "qwen2.5"},
	})

	assert.Len(t, errs, 1)
	assert.Equal(t, []string{"ollama:qwen2.5"}, refiner.Providers())
}
