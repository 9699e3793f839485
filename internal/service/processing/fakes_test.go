package processing

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	apperrors "github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/model"
	"github.com/Taichi-iskw/voxrefine/internal/service/media"
	"github.com/Taichi-iskw/voxrefine/internal/service/refinement"
)

// memoryUnits is an in-memory audiounit.Repository with the same guarded transitions
type memoryUnits struct {
	mu    sync.Mutex
	units map[string]*model.AudioUnit
	// events records every status write as "stage:status"
	events []string
}

func newMemoryUnits() *memoryUnits {
	return &memoryUnits{units: map[string]*model.AudioUnit{}}
}

func (m *memoryUnits) record(stage model.Stage, status model.Status) {
	m.events = append(m.events, string(stage)+":"+string(status))
}

func (m *memoryUnits) Create(_ context.Context, unit *model.AudioUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.units[unit.ID]; ok {
		return apperrors.New(apperrors.CodeConflict, "exists")
	}
	cp := *unit
	m.units[unit.ID] = &cp
	return nil
}

func (m *memoryUnits) GetByID(_ context.Context, id string) (*model.AudioUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeNotFound, "audio unit not found")
	}
	cp := *unit
	return &cp, nil
}

func (m *memoryUnits) stage(unit *model.AudioUnit, stage model.Stage) (*model.Status, **string, **time.Time) {
	if stage == model.StageRefinement {
		return &unit.RefinementStatus, &unit.RefinementError, &unit.RefinementStartedAt
	}
	return &unit.TranscriptionStatus, &unit.TranscriptionError, &unit.TranscriptionStartedAt
}

func (m *memoryUnits) Claim(_ context.Context, id string, stage model.Stage, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok {
		return false, nil
	}
	status, errText, startedAt := m.stage(unit, stage)
	if *status != model.StatusPending {
		return false, nil
	}
	if stage == model.StageRefinement && (unit.TranscriptionStatus != model.StatusCompleted || unit.RawTranscription == nil) {
		return false, nil
	}
	*status = model.StatusProcessing
	*errText = nil
	*startedAt = &now
	m.record(stage, model.StatusProcessing)
	return true, nil
}

func (m *memoryUnits) CompleteTranscription(_ context.Context, id string, result *model.TranscriptionResult, segments []model.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok || unit.TranscriptionStatus != model.StatusProcessing {
		return apperrors.New(apperrors.CodeConflict, "transcription is not processing")
	}
	text, duration := result.Text, result.Duration
	unit.RawTranscription = &text
	unit.AudioDuration = &duration
	unit.TranscriptionSegments = segments
	unit.TranscriptionStatus = model.StatusCompleted
	unit.TranscriptionError = nil
	m.record(model.StageTranscription, model.StatusCompleted)
	return nil
}

func (m *memoryUnits) CompleteRefinement(_ context.Context, id string, result *model.RefinementResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok || unit.RefinementStatus != model.StatusProcessing {
		return apperrors.New(apperrors.CodeConflict, "refinement is not processing")
	}
	text := result.FinalText
	unit.RefinementResult = result
	unit.RefinedContent = &text
	unit.RefinementStatus = model.StatusCompleted
	unit.RefinementError = nil
	m.record(model.StageRefinement, model.StatusCompleted)
	return nil
}

func (m *memoryUnits) FailStage(_ context.Context, id string, stage model.Stage, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "audio unit not found")
	}
	status, errText, _ := m.stage(unit, stage)
	if *status != model.StatusProcessing {
		return apperrors.New(apperrors.CodeConflict, "not processing")
	}
	*status = model.StatusFailed
	*errText = &message
	m.record(stage, model.StatusFailed)
	return nil
}

func (m *memoryUnits) ResetStage(_ context.Context, id string, stage model.Stage, allowed []model.Status, staleBefore *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok {
		return false, nil
	}
	status, errText, startedAt := m.stage(unit, stage)

	match := false
	for _, s := range allowed {
		if *status == s {
			match = true
		}
	}
	if *status == model.StatusProcessing && staleBefore != nil && *startedAt != nil && (*startedAt).Before(*staleBefore) {
		match = true
	}
	if !match {
		return false, nil
	}
	*status = model.StatusPending
	*errText = nil
	*startedAt = nil
	m.record(stage, model.StatusPending)
	return true, nil
}

func (m *memoryUnits) Release(_ context.Context, id string, stage model.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok {
		return nil
	}
	status, _, startedAt := m.stage(unit, stage)
	if *status == model.StatusProcessing {
		*status = model.StatusPending
		*startedAt = nil
		m.record(stage, model.StatusPending)
	}
	return nil
}

func (m *memoryUnits) ReleaseStale(_ context.Context, stage model.Stage, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, unit := range m.units {
		status, _, startedAt := m.stage(unit, stage)
		if *status == model.StatusProcessing && *startedAt != nil && (*startedAt).Before(before) {
			*status = model.StatusPending
			*startedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *memoryUnits) ListPending(_ context.Context, stage model.Stage, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, unit := range m.units {
		status, _, _ := m.stage(unit, stage)
		if *status != model.StatusPending {
			continue
		}
		if stage == model.StageRefinement && unit.TranscriptionStatus != model.StatusCompleted {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (m *memoryUnits) Confirm(_ context.Context, id string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[id]
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "audio unit not found")
	}
	unit.Content = &content
	unit.UserConfirmed = true
	return nil
}

// put stores a unit directly
func (m *memoryUnits) put(unit *model.AudioUnit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[unit.ID] = unit
}

// mockTranscriber is a mock implementation of Transcriber
type mockTranscriber struct {
	mock.Mock
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audioPath, language string, wantWordTimestamps bool) (*model.TranscriptionResult, error) {
	args := m.Called(ctx, audioPath, language, wantWordTimestamps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TranscriptionResult), args.Error(1)
}

// mockGenerator is a mock implementation of refinement.TextGenerator
type mockGenerator struct {
	mock.Mock
	name string
}

func (m *mockGenerator) Name() string { return m.name }

func (m *mockGenerator) Generate(ctx context.Context, prompt refinement.Prompt) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type staticContext string

func (s staticContext) ContextFor(context.Context, string) string { return string(s) }

// fixedMedia resolves every reference to /uploads/<ref>
type fixedMedia struct {
	err error
}

func (f fixedMedia) Resolve(_ context.Context, ref string) (*media.Media, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &media.Media{FilePath: "/uploads/" + ref, Filename: ref}, nil
}

type noSegments struct{}

func (noSegments) Segment(*model.TranscriptionResult) []model.Segment { return nil }
