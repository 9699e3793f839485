package refinement

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/log"
)

// OpenAIGenerator calls any OpenAI-compatible chat completion endpoint
// (DeepSeek, Qwen compatible mode, OpenAI)
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIGenerator creates a generator from provider configuration
func NewOpenAIGenerator(cfg config.ProviderConfig, maxTokens int) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.CodeBackendUnavailable, "refinement provider "+cfg.Model+" has no API key")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" && cfg.BaseURL != "https://api.openai.com/v1" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	log.Info().Str("model", cfg.Model).Str("baseURL", cfg.BaseURL).Msg("refinement provider initialized")
	return NewOpenAIGeneratorWithClient(openai.NewClientWithConfig(clientConfig), cfg.Model, maxTokens), nil
}

// NewOpenAIGeneratorWithClient creates a generator with a custom client (for testing)
func NewOpenAIGeneratorWithClient(client *openai.Client, model string, maxTokens int) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Name returns the model name
func (g *OpenAIGenerator) Name() string {
	return g.model
}

// Generate performs a chat completion
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	var messages []openai.ChatCompletionMessage
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.User,
	})

	req := openai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: g.maxTokens,
	}
	if prompt.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	log.Debug().Str("model", g.model).Bool("jsonMode", prompt.JSON).Msg("chat completion request")

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExternal, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.CodeExternal, "chat completion returned no choices")
	}

	choice := resp.Choices[0]
	log.Debug().
		Str("model", g.model).
		Str("finishReason", string(choice.FinishReason)).
		Int("totalTokens", resp.Usage.TotalTokens).
		Msg("chat completion response")

	return strings.TrimSpace(choice.Message.Content), nil
}
