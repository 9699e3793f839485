package refinement

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/llmjson"
	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/model"
)

const defaultTimeout = 100 * time.Second

// Refiner tries providers in order and degrades to pass-through when none
// produces usable output
type Refiner struct {
	providers []TextGenerator
	timeout   time.Duration
}

// RefinerOption configures a Refiner
type RefinerOption func(*Refiner)

// WithTimeout bounds each provider call
func WithTimeout(d time.Duration) RefinerOption {
	return func(r *Refiner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRefiner creates a Refiner over an ordered provider list
func NewRefiner(providers []TextGenerator, opts ...RefinerOption) *Refiner {
	r := &Refiner{
		providers: providers,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the provider names in order
func (r *Refiner) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// Refine corrects rawText. The only error is EMPTY_INPUT; every provider
// failure ends in a pass-through result whose FinalText is rawText.
func (r *Refiner) Refine(ctx context.Context, rawText, conversationContext string, audioDuration float64) (*model.RefinementResult, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, errors.New(errors.CodeEmptyInput, "raw text is empty")
	}

	prompt := BuildPrompt(rawText, conversationContext, audioDuration)

	for i, provider := range r.providers {
		result, err := r.attempt(ctx, provider, prompt, rawText)
		if err == nil {
			log.Info().
				Str("provider", provider.Name()).
				Int("corrections", len(result.Corrections)).
				Msg("refinement completed")
			return result, nil
		}

		event := log.Warn().Err(err).Str("provider", provider.Name())
		if i+1 < len(r.providers) {
			event.Str("next", r.providers[i+1].Name()).Msg("refinement provider failed, falling back")
		} else {
			event.Msg("refinement provider failed")
		}
	}

	log.Warn().Int("providers", len(r.providers)).Msg("no refinement provider succeeded, passing raw text through")
	return model.PassThrough(rawText), nil
}

// attempt runs one provider; any returned error is recoverable
func (r *Refiner) attempt(ctx context.Context, provider TextGenerator, prompt Prompt, rawText string) (*model.RefinementResult, error) {
	callCtx, cancel := callTimeout(ctx, r.timeout)
	defer cancel()

	text, err := provider.Generate(callCtx, prompt)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.CodeExternal, "provider returned empty content")
	}

	var raw rawResult
	if err := llmjson.Extract(text, &raw); err != nil {
		return nil, errors.Wrap(err, errors.CodeExternal, "provider returned malformed JSON")
	}

	result := raw.toResult(rawText)
	result.Provider = provider.Name()
	return result, nil
}

// rawResult decodes provider output tolerantly; models often return
// objects where strings are expected and vice versa
type rawResult struct {
	FinalText           json.RawMessage   `json:"final_text"`
	Corrections         []json.RawMessage `json:"corrections"`
	UserIntent          json.RawMessage   `json:"user_intent"`
	KeyPoints           json.RawMessage   `json:"key_points"`
	StructureSuggestion json.RawMessage   `json:"structure_suggestion"`
	UnclearParts        json.RawMessage   `json:"unclear_parts"`
}

func (r rawResult) toResult(rawText string) *model.RefinementResult {
	result := &model.RefinementResult{
		FinalText:           asString(r.FinalText),
		Corrections:         []model.Correction{},
		UserIntent:          asString(r.UserIntent),
		KeyPoints:           asStrings(r.KeyPoints),
		StructureSuggestion: asString(r.StructureSuggestion),
		UnclearParts:        asStrings(r.UnclearParts),
	}
	if strings.TrimSpace(result.FinalText) == "" {
		log.Warn().Msg("refinement result has no final_text, using raw text")
		result.FinalText = rawText
	}

	for _, c := range r.Corrections {
		var corr model.Correction
		if err := json.Unmarshal(c, &corr); err != nil {
			continue
		}
		if corr.Original == "" && corr.Corrected == "" {
			continue
		}
		result.Corrections = append(result.Corrections, corr)
	}

	return result
}

// asString renders a JSON value as text: strings are unquoted, null is empty,
// anything else is compact JSON
func asString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// asStrings accepts an array of values or a single value
func asStrings(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if s := asString(raw); s != "" {
			return []string{s}
		}
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := asString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
