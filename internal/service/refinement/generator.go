// Package refinement cleans up raw transcripts with a chain of text generation providers.
package refinement

import (
	"context"
	"fmt"
	"time"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/errors"
)

// Prompt is one generation request
type Prompt struct {
	System string
	User   string
	// JSON asks the provider for a JSON object response
	JSON bool
}

// TextGenerator is a text generation provider
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// NewGenerator builds the provider described by cfg
func NewGenerator(cfg config.ProviderConfig, maxTokens int) (TextGenerator, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAIGenerator(cfg, maxTokens)
	case config.ProviderOllama:
		return NewOllamaGenerator(cfg)
	default:
		return nil, errors.New(errors.CodeInvalidArg, fmt.Sprintf("unknown refinement provider %q", cfg.Provider))
	}
}

// NewRefinerFromConfig builds the primary/secondary provider chain.
// A provider that cannot be built is skipped; with none left the refiner
// always degrades to pass-through.
func NewRefinerFromConfig(cfg config.RefinementConfig) (*Refiner, []error) {
	var (
		providers []TextGenerator
		errs      []error
	)
	for _, pc := range []config.ProviderConfig{cfg.Primary, cfg.Secondary} {
		if pc.Provider == "" && pc.Model == "" {
			continue
		}
		gen, err := NewGenerator(pc, cfg.MaxTokens)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		providers = append(providers, gen)
	}
	return NewRefiner(providers, WithTimeout(cfg.Timeout)), errs
}

// callTimeout bounds one provider call, d <= 0 means no bound
func callTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
