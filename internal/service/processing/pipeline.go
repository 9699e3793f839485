// Package processing drives audio units through transcription and refinement.
package processing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/model"
	"github.com/Taichi-iskw/voxrefine/internal/repository/audiounit"
	"github.com/Taichi-iskw/voxrefine/internal/repository/conversation"
	"github.com/Taichi-iskw/voxrefine/internal/service/media"
)

const (
	defaultLanguage   = "zh"
	defaultStaleAfter = 30 * time.Minute
	unknownError      = "unknown error"
)

// Transcriber turns an audio file into a transcript
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string, wantWordTimestamps bool) (*model.TranscriptionResult, error)
}

// Segmenter splits long transcripts into segments
type Segmenter interface {
	Segment(result *model.TranscriptionResult) []model.Segment
}

// Refiner turns a raw transcript into a refined message
type Refiner interface {
	Refine(ctx context.Context, rawText, conversationContext string, audioDuration float64) (*model.RefinementResult, error)
}

// Pipeline is the processing state machine for audio units
type Pipeline struct {
	units         audiounit.Repository
	conversations conversation.ContextReader
	media         media.Resolver
	transcriber   Transcriber
	segmenter     Segmenter
	refiner       Refiner

	dispatcher Dispatcher
	language   string
	staleAfter time.Duration
	now        func() time.Time

	inflight sync.Map
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLanguage sets the transcription language hint
func WithLanguage(language string) Option {
	return func(p *Pipeline) {
		if language != "" {
			p.language = language
		}
	}
}

// WithStaleAfter sets how long a stage may stay PROCESSING before retry may take it over
func WithStaleAfter(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a Pipeline that runs jobs inline until SetDispatcher is called
func NewPipeline(
	units audiounit.Repository,
	conversations conversation.ContextReader,
	resolver media.Resolver,
	transcriber Transcriber,
	segmenter Segmenter,
	refiner Refiner,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		units:         units,
		conversations: conversations,
		media:         resolver,
		transcriber:   transcriber,
		segmenter:     segmenter,
		refiner:       refiner,
		language:      defaultLanguage,
		staleAfter:    defaultStaleAfter,
		now:           time.Now,
	}
	p.dispatcher = InlineDispatcher{Executor: p}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetDispatcher routes triggered jobs to d. With a nil dispatcher triggered
// stages stay pending until a background worker picks them up.
func (p *Pipeline) SetDispatcher(d Dispatcher) {
	p.dispatcher = d
}

// Submit creates an audio unit for a stored media reference and triggers transcription
func (p *Pipeline) Submit(ctx context.Context, conversationID, audioRef string) (*model.AudioUnit, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArg, "conversation id is required")
	}
	if _, err := p.media.Resolve(ctx, audioRef); err != nil {
		return nil, err
	}

	unit := model.NewAudioUnit(uuid.NewString(), conversationID, audioRef, p.now())
	if err := p.units.Create(ctx, unit); err != nil {
		return nil, err
	}
	log.Info().Str("unit_id", unit.ID).Str("conversation_id", conversationID).Msg("audio unit created")

	if _, err := p.Trigger(ctx, unit.ID, model.StageTranscription); err != nil {
		return nil, err
	}

	return p.units.GetByID(ctx, unit.ID)
}

// Trigger claims a pending stage and dispatches it. It reports false when the
// stage was not pending, which makes repeated triggers a no-op.
func (p *Pipeline) Trigger(ctx context.Context, unitID string, stage model.Stage) (bool, error) {
	if p.dispatcher == nil {
		log.Info().Str("unit_id", unitID).Str("stage", string(stage)).Msg("left pending for background worker")
		return false, nil
	}

	claimed, err := p.units.Claim(ctx, unitID, stage, p.now())
	if err != nil {
		return false, err
	}
	if !claimed {
		log.Debug().Str("unit_id", unitID).Str("stage", string(stage)).Msg("stage not pending, trigger ignored")
		return false, nil
	}
	logTransition(unitID, stage, model.StatusProcessing)

	job := Job{UnitID: unitID, Stage: stage}
	if !p.dispatcher.Dispatch(ctx, job) {
		if err := p.units.Release(ctx, unitID, stage); err != nil {
			log.Error().Err(err).Str("unit_id", unitID).Str("stage", string(stage)).Msg("failed to release claim")
		}
		return false, apperrors.New(apperrors.CodeInternal, "processing queue is full")
	}
	return true, nil
}

// RunTranscription claims and runs transcription on the caller's goroutine.
// Calling it while the stage is already processing does nothing.
func (p *Pipeline) RunTranscription(ctx context.Context, unitID string) error {
	return p.run(ctx, Job{UnitID: unitID, Stage: model.StageTranscription})
}

// RunRefinement claims and runs refinement on the caller's goroutine.
// Calling it while the stage is already processing does nothing.
func (p *Pipeline) RunRefinement(ctx context.Context, unitID string) error {
	return p.run(ctx, Job{UnitID: unitID, Stage: model.StageRefinement})
}

func (p *Pipeline) run(ctx context.Context, job Job) error {
	claimed, err := p.units.Claim(ctx, job.UnitID, job.Stage, p.now())
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	logTransition(job.UnitID, job.Stage, model.StatusProcessing)
	p.Execute(ctx, job)
	return nil
}

// Execute runs a claimed job. Concurrent executions of the same job coalesce.
func (p *Pipeline) Execute(ctx context.Context, job Job) {
	if _, loaded := p.inflight.LoadOrStore(job.key(), struct{}{}); loaded {
		log.Debug().Str("unit_id", job.UnitID).Str("stage", string(job.Stage)).Msg("already running, coalesced")
		return
	}
	defer p.inflight.Delete(job.key())

	switch job.Stage {
	case model.StageTranscription:
		p.transcribe(ctx, job.UnitID)
	case model.StageRefinement:
		p.refine(ctx, job.UnitID)
	default:
		log.Error().Str("unit_id", job.UnitID).Str("stage", string(job.Stage)).Msg("unknown stage")
	}
}

func (p *Pipeline) transcribe(ctx context.Context, unitID string) {
	unit, ok := p.load(ctx, unitID, model.StageTranscription)
	if !ok {
		return
	}

	m, err := p.media.Resolve(ctx, unit.AudioReference)
	if err != nil {
		p.fail(ctx, unitID, model.StageTranscription, err)
		return
	}

	result, err := p.transcriber.Transcribe(ctx, m.FilePath, p.language, false)
	if err != nil {
		p.fail(ctx, unitID, model.StageTranscription, err)
		return
	}

	segments := p.segmenter.Segment(result)
	if err := p.units.CompleteTranscription(ctx, unitID, result, segments); err != nil {
		if apperrors.Is(err, apperrors.CodeConflict) {
			log.Warn().Err(err).Str("unit_id", unitID).Msg("transcription result discarded")
			return
		}
		p.fail(ctx, unitID, model.StageTranscription, err)
		return
	}
	log.Info().
		Str("unit_id", unitID).
		Str("stage", string(model.StageTranscription)).
		Str("status", string(model.StatusCompleted)).
		Float64("duration", result.Duration).
		Int("segments", len(segments)).
		Msg("stage transition")

	// A fresh transcript invalidates any earlier refinement
	if _, err := p.units.ResetStage(ctx, unitID, model.StageRefinement,
		[]model.Status{model.StatusFailed, model.StatusCompleted}, nil); err != nil {
		log.Error().Err(err).Str("unit_id", unitID).Msg("failed to reset refinement")
		return
	}
	if err := p.run(ctx, Job{UnitID: unitID, Stage: model.StageRefinement}); err != nil {
		log.Error().Err(err).Str("unit_id", unitID).Msg("failed to start refinement")
	}
}

func (p *Pipeline) refine(ctx context.Context, unitID string) {
	unit, ok := p.load(ctx, unitID, model.StageRefinement)
	if !ok {
		return
	}
	if !unit.HasTranscript() {
		p.fail(ctx, unitID, model.StageRefinement, apperrors.New(apperrors.CodeConflict, "no transcript to refine"))
		return
	}

	var duration float64
	if unit.AudioDuration != nil {
		duration = *unit.AudioDuration
	}
	convContext := p.conversations.ContextFor(ctx, unit.ConversationID)

	result, err := p.refiner.Refine(ctx, *unit.RawTranscription, convContext, duration)
	if err != nil {
		p.fail(ctx, unitID, model.StageRefinement, err)
		return
	}

	if err := p.units.CompleteRefinement(ctx, unitID, result); err != nil {
		if apperrors.Is(err, apperrors.CodeConflict) {
			log.Warn().Err(err).Str("unit_id", unitID).Msg("refinement result discarded")
			return
		}
		p.fail(ctx, unitID, model.StageRefinement, err)
		return
	}
	log.Info().
		Str("unit_id", unitID).
		Str("stage", string(model.StageRefinement)).
		Str("status", string(model.StatusCompleted)).
		Str("provider", result.Provider).
		Msg("stage transition")
}

// load fetches the unit and checks the stage is still claimed
func (p *Pipeline) load(ctx context.Context, unitID string, stage model.Stage) (*model.AudioUnit, bool) {
	unit, err := p.units.GetByID(ctx, unitID)
	if err != nil {
		log.Error().Err(err).Str("unit_id", unitID).Str("stage", string(stage)).Msg("failed to load audio unit")
		return nil, false
	}
	if status := unit.StageStatus(stage); status != model.StatusProcessing {
		log.Debug().Str("unit_id", unitID).Str("stage", string(stage)).Str("status", string(status)).Msg("stage no longer claimed")
		return nil, false
	}
	return unit, true
}

func (p *Pipeline) fail(ctx context.Context, unitID string, stage model.Stage, cause error) {
	message := strings.TrimSpace(cause.Error())
	if message == "" {
		message = unknownError
	}

	if err := p.units.FailStage(ctx, unitID, stage, message); err != nil {
		log.Error().Err(err).Str("unit_id", unitID).Str("stage", string(stage)).Msg("failed to record stage failure")
		return
	}
	log.Warn().
		Str("unit_id", unitID).
		Str("stage", string(stage)).
		Str("status", string(model.StatusFailed)).
		Str("code", apperrors.CodeOf(cause)).
		Bool("retryable", !apperrors.IsInputError(cause)).
		Str("error", message).
		Msg("stage transition")
}

// RetryTranscription resets transcription to pending and triggers it again.
// The reset is persisted before any backend call.
func (p *Pipeline) RetryTranscription(ctx context.Context, unitID string) error {
	return p.retry(ctx, unitID, model.StageTranscription)
}

// RetryRefinement resets refinement to pending and triggers it without re-running transcription
func (p *Pipeline) RetryRefinement(ctx context.Context, unitID string) error {
	unit, err := p.units.GetByID(ctx, unitID)
	if err != nil {
		return err
	}
	if unit.TranscriptionStatus != model.StatusCompleted || !unit.HasTranscript() {
		return apperrors.New(apperrors.CodeConflict, "refinement requires a completed transcription")
	}
	return p.retry(ctx, unitID, model.StageRefinement)
}

func (p *Pipeline) retry(ctx context.Context, unitID string, stage model.Stage) error {
	staleBefore := p.now().Add(-p.staleAfter)
	reset, err := p.units.ResetStage(ctx, unitID, stage,
		[]model.Status{model.StatusPending, model.StatusFailed, model.StatusCompleted}, &staleBefore)
	if err != nil {
		return err
	}
	if !reset {
		unit, err := p.units.GetByID(ctx, unitID)
		if err != nil {
			return err
		}
		return apperrors.New(apperrors.CodeConflict, p.inProgressMessage(unit, stage))
	}
	logTransition(unitID, stage, model.StatusPending)

	_, err = p.Trigger(ctx, unitID, stage)
	return err
}

// inProgressMessage says how long until a stuck stage may be taken over by retry
func (p *Pipeline) inProgressMessage(unit *model.AudioUnit, stage model.Stage) string {
	msg := string(stage) + " is already in progress"
	started := unit.StageStartedAt(stage)
	if started == nil {
		return msg
	}
	wait := started.Add(p.staleAfter).Sub(p.now())
	if wait < time.Second {
		wait = time.Second
	}
	return fmt.Sprintf("%s; retry is allowed in %s", msg, wait.Round(time.Second))
}

// Confirm stores user-approved content. It does not depend on refinement status.
func (p *Pipeline) Confirm(ctx context.Context, unitID, content string) error {
	if strings.TrimSpace(content) == "" {
		return apperrors.New(apperrors.CodeInvalidArg, "content is required")
	}
	if err := p.units.Confirm(ctx, unitID, content); err != nil {
		return err
	}
	log.Info().Str("unit_id", unitID).Msg("content confirmed")
	return nil
}

// Status returns the read-only projection of a unit
func (p *Pipeline) Status(ctx context.Context, unitID string) (*model.StatusProjection, error) {
	unit, err := p.units.GetByID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return unit.Projection(), nil
}

func logTransition(unitID string, stage model.Stage, status model.Status) {
	log.Info().
		Str("unit_id", unitID).
		Str("stage", string(stage)).
		Str("status", string(status)).
		Msg("stage transition")
}
