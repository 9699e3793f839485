package audio

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// Mock processor
type mockProcessor struct {
	SubmitFunc             func(ctx context.Context, conversationID, audioRef string) (*model.AudioUnit, error)
	StatusFunc             func(ctx context.Context, unitID string) (*model.StatusProjection, error)
	RetryTranscriptionFunc func(ctx context.Context, unitID string) error
	RetryRefinementFunc    func(ctx context.Context, unitID string) error
	ConfirmFunc            func(ctx context.Context, unitID, content string) error
}

func (m *mockProcessor) Submit(ctx context.Context, conversationID, audioRef string) (*model.AudioUnit, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, conversationID, audioRef)
	}
	return nil, nil
}

func (m *mockProcessor) Status(ctx context.Context, unitID string) (*model.StatusProjection, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, unitID)
	}
	return &model.StatusProjection{ID: unitID}, nil
}

func (m *mockProcessor) RetryTranscription(ctx context.Context, unitID string) error {
	if m.RetryTranscriptionFunc != nil {
		return m.RetryTranscriptionFunc(ctx, unitID)
	}
	return nil
}

func (m *mockProcessor) RetryRefinement(ctx context.Context, unitID string) error {
	if m.RetryRefinementFunc != nil {
		return m.RetryRefinementFunc(ctx, unitID)
	}
	return nil
}

func (m *mockProcessor) Confirm(ctx context.Context, unitID, content string) error {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, unitID, content)
	}
	return nil
}

// providerFor returns a provider that records the wait flag it was opened with
func providerFor(p *mockProcessor, waited *bool) ProcessorProvider {
	return func(ctx context.Context, wait bool) (Processor, func(), error) {
		if waited != nil {
			*waited = wait
		}
		return p, func() {}, nil
	}
}

func execute(t *testing.T, provider ProcessorProvider, args ...string) (string, error) {
	t.Helper()
	cmd := NewAudioCmd(provider)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSubmitCommand(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		setupMock      func(*mockProcessor)
		expectedOutput string
		expectedWait   bool
		wantErr        string
	}{
		{
			name: "queued submission",
			args: []string{"submit", "voice/a.m4a", "--conversation", "conv-1"},
			setupMock: func(m *mockProcessor) {
				m.SubmitFunc = func(ctx context.Context, conversationID, audioRef string) (*model.AudioUnit, error) {
					assert.Equal(t, "conv-1", conversationID)
					assert.Equal(t, "voice/a.m4a", audioRef)
					return model.NewAudioUnit("unit-1", conversationID, audioRef, testTime), nil
				}
			},
			expectedOutput: "Audio unit submitted: unit-1",
		},
		{
			name: "wait processes inline",
			args: []string{"submit", "a.wav", "-c", "conv-1", "--wait"},
			setupMock: func(m *mockProcessor) {
				m.SubmitFunc = func(ctx context.Context, conversationID, audioRef string) (*model.AudioUnit, error) {
					u := model.NewAudioUnit("unit-2", conversationID, audioRef, testTime)
					u.TranscriptionStatus = model.StatusCompleted
					u.RefinementStatus = model.StatusCompleted
					return u, nil
				}
			},
			expectedOutput: "Refinement: ✅ completed",
			expectedWait:   true,
		},
		{
			name:      "conversation flag is required",
			args:      []string{"submit", "a.wav"},
			setupMock: func(m *mockProcessor) {},
			wantErr:   "conversation",
		},
		{
			name: "missing file",
			args: []string{"submit", "gone.wav", "-c", "conv-1"},
			setupMock: func(m *mockProcessor) {
				m.SubmitFunc = func(ctx context.Context, conversationID, audioRef string) (*model.AudioUnit, error) {
					return nil, apperrors.New(apperrors.CodeFileNotFound, "audio file not found")
				}
			},
			wantErr: "does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &mockProcessor{}
			tt.setupMock(processor)
			var waited bool

			output, err := execute(t, providerFor(processor, &waited), tt.args...)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, output, tt.expectedOutput)
			assert.Equal(t, tt.expectedWait, waited)
		})
	}
}

func TestStatusCommand(t *testing.T) {
	raw := "hello world"
	refined := "Hello, world."
	processor := &mockProcessor{
		StatusFunc: func(ctx context.Context, unitID string) (*model.StatusProjection, error) {
			return &model.StatusProjection{
				ID:            unitID,
				Transcription: model.TranscriptionView{Status: model.StatusCompleted, RawText: &raw},
				Refinement: model.RefinementView{
					Status:         model.StatusCompleted,
					RefinedContent: &refined,
					Result:         &model.RefinementResult{FinalText: refined, Provider: "deepseek"},
				},
			}, nil
		},
	}

	output, err := execute(t, providerFor(processor, nil), "status", "unit-1")
	require.NoError(t, err)
	assert.Contains(t, output, "Unit ID: unit-1")
	assert.Contains(t, output, "Provider: deepseek")
	assert.Contains(t, output, refined)

	output, err = execute(t, providerFor(processor, nil), "status", "unit-1", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, output, `"refined_content": "Hello, world."`)

	_, err = execute(t, providerFor(processor, nil), "status", "unit-1", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestStatusCommand_NotFound(t *testing.T) {
	processor := &mockProcessor{
		StatusFunc: func(ctx context.Context, unitID string) (*model.StatusProjection, error) {
			return nil, apperrors.New(apperrors.CodeNotFound, "audio unit not found")
		},
	}

	_, err := execute(t, providerFor(processor, nil), "status", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'missing' was not found")
}

func TestRetryCommand(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantStage   string
		wantErr     string
		retryResult error
	}{
		{
			name:      "defaults to transcription",
			args:      []string{"retry", "unit-1"},
			wantStage: "transcription",
		},
		{
			name:      "refinement only",
			args:      []string{"retry", "unit-1", "--stage", "Refinement"},
			wantStage: "refinement",
		},
		{
			name:    "unknown stage",
			args:    []string{"retry", "unit-1", "--stage", "translation"},
			wantErr: "unsupported stage",
		},
		{
			name:        "in progress",
			args:        []string{"retry", "unit-1", "--stage", "refinement"},
			wantStage:   "refinement",
			retryResult: apperrors.New(apperrors.CodeConflict, "refinement is already in progress"),
			wantErr:     "already in progress",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called string
			processor := &mockProcessor{
				RetryTranscriptionFunc: func(ctx context.Context, unitID string) error {
					called = "transcription"
					return tt.retryResult
				},
				RetryRefinementFunc: func(ctx context.Context, unitID string) error {
					called = "refinement"
					return tt.retryResult
				},
			}

			output, err := execute(t, providerFor(processor, nil), tt.args...)

			assert.Equal(t, tt.wantStage, called)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, output, "Retrying "+tt.wantStage)
		})
	}
}

func TestConfirmCommand(t *testing.T) {
	var got string
	processor := &mockProcessor{
		ConfirmFunc: func(ctx context.Context, unitID, content string) error {
			got = content
			if content == "fail" {
				return errors.New("boom")
			}
			return nil
		},
	}

	output, err := execute(t, providerFor(processor, nil), "confirm", "unit-1", "--content", "Final words.")
	require.NoError(t, err)
	assert.Equal(t, "Final words.", got)
	assert.Contains(t, output, "Content confirmed for unit-1")

	_, err = execute(t, providerFor(processor, nil), "confirm", "unit-1", "--content", "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = execute(t, providerFor(processor, nil), "confirm", "unit-1")
	require.Error(t, err)
}

func TestProviderError(t *testing.T) {
	provider := func(ctx context.Context, wait bool) (Processor, func(), error) {
		return nil, nil, errors.New("failed to connect to database")
	}

	_, err := execute(t, provider, "status", "unit-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
}
