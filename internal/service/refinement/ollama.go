package refinement

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/errors"
)

// OllamaGenerator runs a model on a local Ollama server
type OllamaGenerator struct {
	llm   llms.Model
	model string
}

// NewOllamaGenerator creates a generator for the configured Ollama model
func NewOllamaGenerator(cfg config.ProviderConfig) (*OllamaGenerator, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeBackendUnavailable, "failed to initialize ollama")
	}
	return NewOllamaGeneratorWithModel(llm, cfg.Model), nil
}

// NewOllamaGeneratorWithModel wraps an existing llms.Model (for testing)
func NewOllamaGeneratorWithModel(llm llms.Model, model string) *OllamaGenerator {
	return &OllamaGenerator{llm: llm, model: model}
}

// Name returns the model name
func (g *OllamaGenerator) Name() string {
	return "ollama:" + g.model
}

// Generate sends the prompt as system and human messages
func (g *OllamaGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	content := make([]llms.MessageContent, 0, 2)
	if prompt.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, prompt.System))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, prompt.User))

	var opts []llms.CallOption
	if prompt.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := g.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExternal, "ollama generation failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.CodeExternal, "empty response from model")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
