package audiounit

import (
	"context"
	"time"

	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// Repository is the single write path for audio unit processing state.
// Every stage transition is a conditional update guarded by the expected current status.
type Repository interface {
	Create(ctx context.Context, unit *model.AudioUnit) error
	GetByID(ctx context.Context, id string) (*model.AudioUnit, error)

	// Claim moves a stage PENDING -> PROCESSING. It reports false when the stage was not pending.
	Claim(ctx context.Context, id string, stage model.Stage, now time.Time) (bool, error)
	CompleteTranscription(ctx context.Context, id string, result *model.TranscriptionResult, segments []model.Segment) error
	CompleteRefinement(ctx context.Context, id string, result *model.RefinementResult) error
	FailStage(ctx context.Context, id string, stage model.Stage, message string) error

	// ResetStage moves a stage back to PENDING from one of the allowed statuses, or from
	// PROCESSING when the stage started before staleBefore. The other stage is untouched.
	ResetStage(ctx context.Context, id string, stage model.Stage, allowed []model.Status, staleBefore *time.Time) (bool, error)
	Release(ctx context.Context, id string, stage model.Stage) error
	ReleaseStale(ctx context.Context, stage model.Stage, before time.Time) (int64, error)
	ListPending(ctx context.Context, stage model.Stage, limit int) ([]string, error)

	Confirm(ctx context.Context, id string, content string) error
}
