package audiounit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/model"
	"github.com/Taichi-iskw/voxrefine/internal/repository/common"
)

// Pool interface for abstracting pgx connection pool
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

const unitColumns = `id, conversation_id, role, audio_reference,
	raw_transcription, audio_duration, transcription_status, transcription_error,
	refinement_result, refined_content, refinement_status, refinement_error,
	content, user_confirmed, transcription_started_at, refinement_started_at,
	created_at, updated_at`

var segmentColumns = []string{"audio_unit_id", "segment_index", "start_time", "end_time", "text", "duration", "word_count"}

// stageColumns names the status, error and started_at columns of a stage
type stageColumns struct {
	status    string
	errorText string
	startedAt string
}

func columnsFor(stage model.Stage) (stageColumns, error) {
	switch stage {
	case model.StageTranscription:
		return stageColumns{"transcription_status", "transcription_error", "transcription_started_at"}, nil
	case model.StageRefinement:
		return stageColumns{"refinement_status", "refinement_error", "refinement_started_at"}, nil
	}
	return stageColumns{}, apperrors.New(apperrors.CodeInvalidArg, fmt.Sprintf("unknown stage %q", stage))
}

// audioUnitRepository implements Repository using PostgreSQL
type audioUnitRepository struct {
	pool Pool
}

// NewRepository creates a new instance of Repository
func NewRepository(pool Pool) Repository {
	return &audioUnitRepository{
		pool: pool,
	}
}

// Create inserts a new audio unit
func (r *audioUnitRepository) Create(ctx context.Context, unit *model.AudioUnit) error {
	sql := `INSERT INTO audio_units
		(id, conversation_id, role, audio_reference, transcription_status, refinement_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, sql,
		unit.ID,
		unit.ConversationID,
		unit.Role,
		unit.AudioReference,
		string(unit.TranscriptionStatus),
		string(unit.RefinementStatus),
		unit.CreatedAt,
		unit.UpdatedAt,
	)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to create audio unit")
	}
	return nil
}

// GetByID retrieves an audio unit with its segments
func (r *audioUnitRepository) GetByID(ctx context.Context, id string) (*model.AudioUnit, error) {
	sql := `SELECT ` + unitColumns + ` FROM audio_units WHERE id = $1`

	var (
		unit                 model.AudioUnit
		transcriptionStatus  string
		refinementStatus     string
		refinementResultJSON []byte
	)
	err := r.pool.QueryRow(ctx, sql, id).Scan(
		&unit.ID,
		&unit.ConversationID,
		&unit.Role,
		&unit.AudioReference,
		&unit.RawTranscription,
		&unit.AudioDuration,
		&transcriptionStatus,
		&unit.TranscriptionError,
		&refinementResultJSON,
		&unit.RefinedContent,
		&refinementStatus,
		&unit.RefinementError,
		&unit.Content,
		&unit.UserConfirmed,
		&unit.TranscriptionStartedAt,
		&unit.RefinementStartedAt,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(err, apperrors.CodeNotFound, "audio unit not found")
		}
		return nil, common.HandlePostgreSQLError(err, "failed to get audio unit")
	}

	unit.TranscriptionStatus = model.Status(transcriptionStatus)
	unit.RefinementStatus = model.Status(refinementStatus)
	if !unit.TranscriptionStatus.Valid() || !unit.RefinementStatus.Valid() {
		return nil, apperrors.New(apperrors.CodeInternal,
			fmt.Sprintf("audio unit %s has unknown status %q/%q", id, transcriptionStatus, refinementStatus))
	}

	if len(refinementResultJSON) > 0 {
		var result model.RefinementResult
		if err := json.Unmarshal(refinementResultJSON, &result); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to decode refinement result")
		}
		unit.RefinementResult = &result
	}

	segments, err := r.getSegments(ctx, id)
	if err != nil {
		return nil, err
	}
	unit.TranscriptionSegments = segments

	return &unit, nil
}

func (r *audioUnitRepository) getSegments(ctx context.Context, id string) ([]model.Segment, error) {
	sql := `SELECT segment_index, start_time, end_time, text, duration, word_count
		FROM audio_unit_segments
		WHERE audio_unit_id = $1
		ORDER BY segment_index`

	rows, err := r.pool.Query(ctx, sql, id)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to get segments")
	}
	defer rows.Close()

	var segments []model.Segment
	for rows.Next() {
		var segment model.Segment
		err := rows.Scan(
			&segment.Index,
			&segment.StartTime,
			&segment.EndTime,
			&segment.Text,
			&segment.Duration,
			&segment.WordCount,
		)
		if err != nil {
			return nil, common.HandlePostgreSQLError(err, "failed to scan segment")
		}
		segments = append(segments, segment)
	}
	if err := rows.Err(); err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to iterate segments")
	}

	return segments, nil
}

// Claim conditionally moves a stage from pending to processing.
// Refinement can only be claimed once a transcript exists.
func (r *audioUnitRepository) Claim(ctx context.Context, id string, stage model.Stage, now time.Time) (bool, error) {
	cols, err := columnsFor(stage)
	if err != nil {
		return false, err
	}

	sql := fmt.Sprintf(`UPDATE audio_units
		SET %[1]s = 'processing', %[2]s = NULL, %[3]s = $2, updated_at = $2
		WHERE id = $1 AND %[1]s = 'pending'`, cols.status, cols.errorText, cols.startedAt)
	if stage == model.StageRefinement {
		sql += ` AND transcription_status = 'completed' AND raw_transcription IS NOT NULL`
	}

	tag, err := r.pool.Exec(ctx, sql, id, now)
	if err != nil {
		return false, common.HandlePostgreSQLError(err, "failed to claim "+string(stage))
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteTranscription stores the transcript and replaces the unit's segments in one transaction
func (r *audioUnitRepository) CompleteTranscription(ctx context.Context, id string, result *model.TranscriptionResult, segments []model.Segment) error {
	if result == nil {
		return apperrors.New(apperrors.CodeInvalidArg, "transcription result is required")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := `UPDATE audio_units
		SET raw_transcription = $2, audio_duration = $3,
			transcription_status = 'completed', transcription_error = NULL, updated_at = NOW()
		WHERE id = $1 AND transcription_status = 'processing'`

	tag, err := tx.Exec(ctx, sql, id, result.Text, result.Duration)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to complete transcription")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeConflict, "transcription is not processing")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM audio_unit_segments WHERE audio_unit_id = $1`, id); err != nil {
		return common.HandlePostgreSQLError(err, "failed to clear segments")
	}

	if len(segments) > 0 {
		rows := make([][]interface{}, len(segments))
		for i, segment := range segments {
			rows[i] = []interface{}{
				id,
				segment.Index,
				segment.StartTime,
				segment.EndTime,
				segment.Text,
				segment.Duration,
				segment.WordCount,
			}
		}

		_, err := tx.CopyFrom(ctx, pgx.Identifier{"audio_unit_segments"}, segmentColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return common.HandlePostgreSQLError(err, "failed to store segments")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.HandlePostgreSQLError(err, "failed to commit transcription")
	}
	return nil
}

// CompleteRefinement stores the refinement result and its final text
func (r *audioUnitRepository) CompleteRefinement(ctx context.Context, id string, result *model.RefinementResult) error {
	if result == nil {
		return apperrors.New(apperrors.CodeInvalidArg, "refinement result is required")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode refinement result")
	}

	sql := `UPDATE audio_units
		SET refinement_result = $2, refined_content = $3,
			refinement_status = 'completed', refinement_error = NULL, updated_at = NOW()
		WHERE id = $1 AND refinement_status = 'processing'`

	tag, err := r.pool.Exec(ctx, sql, id, payload, result.FinalText)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to complete refinement")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeConflict, "refinement is not processing")
	}
	return nil
}

// FailStage marks a processing stage as failed with the given message
func (r *audioUnitRepository) FailStage(ctx context.Context, id string, stage model.Stage, message string) error {
	cols, err := columnsFor(stage)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf(`UPDATE audio_units
		SET %[1]s = 'failed', %[2]s = $2, updated_at = NOW()
		WHERE id = $1 AND %[1]s = 'processing'`, cols.status, cols.errorText)

	tag, err := r.pool.Exec(ctx, sql, id, message)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to mark "+string(stage)+" failed")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeConflict, string(stage)+" is not processing")
	}
	return nil
}

// ResetStage puts a stage back to pending and clears its error
func (r *audioUnitRepository) ResetStage(ctx context.Context, id string, stage model.Stage, allowed []model.Status, staleBefore *time.Time) (bool, error) {
	cols, err := columnsFor(stage)
	if err != nil {
		return false, err
	}

	statuses := make([]string, len(allowed))
	for i, s := range allowed {
		statuses[i] = string(s)
	}

	sql := fmt.Sprintf(`UPDATE audio_units
		SET %[1]s = 'pending', %[2]s = NULL, %[3]s = NULL, updated_at = NOW()
		WHERE id = $1 AND (%[1]s = ANY($2) OR (%[1]s = 'processing' AND %[3]s < $3))`,
		cols.status, cols.errorText, cols.startedAt)

	tag, err := r.pool.Exec(ctx, sql, id, statuses, staleBefore)
	if err != nil {
		return false, common.HandlePostgreSQLError(err, "failed to reset "+string(stage))
	}
	return tag.RowsAffected() == 1, nil
}

// Release hands a claimed stage back to pending without touching its error
func (r *audioUnitRepository) Release(ctx context.Context, id string, stage model.Stage) error {
	cols, err := columnsFor(stage)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf(`UPDATE audio_units
		SET %[1]s = 'pending', %[2]s = NULL, updated_at = NOW()
		WHERE id = $1 AND %[1]s = 'processing'`, cols.status, cols.startedAt)

	if _, err := r.pool.Exec(ctx, sql, id); err != nil {
		return common.HandlePostgreSQLError(err, "failed to release "+string(stage))
	}
	return nil
}

// ReleaseStale returns stages stuck in processing since before the given time to pending
func (r *audioUnitRepository) ReleaseStale(ctx context.Context, stage model.Stage, before time.Time) (int64, error) {
	cols, err := columnsFor(stage)
	if err != nil {
		return 0, err
	}

	sql := fmt.Sprintf(`UPDATE audio_units
		SET %[1]s = 'pending', %[2]s = NULL, updated_at = NOW()
		WHERE %[1]s = 'processing' AND %[2]s < $1`, cols.status, cols.startedAt)

	tag, err := r.pool.Exec(ctx, sql, before)
	if err != nil {
		return 0, common.HandlePostgreSQLError(err, "failed to release stale "+string(stage))
	}
	return tag.RowsAffected(), nil
}

// ListPending returns ids of units whose stage is pending, oldest first
func (r *audioUnitRepository) ListPending(ctx context.Context, stage model.Stage, limit int) ([]string, error) {
	cols, err := columnsFor(stage)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`SELECT id FROM audio_units WHERE %s = 'pending'`, cols.status)
	if stage == model.StageRefinement {
		sql += ` AND transcription_status = 'completed'`
	}
	sql += ` ORDER BY created_at LIMIT $1`

	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to list pending "+string(stage))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, common.HandlePostgreSQLError(err, "failed to scan audio unit id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to iterate pending units")
	}

	return ids, nil
}

// Confirm sets the user-approved content regardless of refinement status
func (r *audioUnitRepository) Confirm(ctx context.Context, id string, content string) error {
	sql := `UPDATE audio_units SET content = $2, user_confirmed = TRUE, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, sql, id, content)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to confirm audio unit")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeNotFound, "audio unit not found")
	}
	return nil
}
