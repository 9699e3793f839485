package model

import "time"

// Status is the lifecycle state of one processing stage
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Stage names one independently tracked phase of processing
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageRefinement    Stage = "refinement"
)

// ParseStage converts user input into a Stage
func ParseStage(s string) (Stage, bool) {
	switch Stage(s) {
	case StageTranscription:
		return StageTranscription, true
	case StageRefinement:
		return StageRefinement, true
	}
	return "", false
}

// Conversation groups audio units that share refinement context
type Conversation struct {
	ID        string    `json:"id" db:"id"`
	Topic     string    `json:"topic" db:"topic"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AudioUnit is a message carrying voice input and its derived text
type AudioUnit struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	Role           string `json:"role" db:"role"`
	AudioReference string `json:"audio_reference" db:"audio_reference"`

	RawTranscription      *string   `json:"raw_transcription,omitempty" db:"raw_transcription"`
	AudioDuration         *float64  `json:"audio_duration,omitempty" db:"audio_duration"`
	TranscriptionSegments []Segment `json:"transcription_segments,omitempty"`
	TranscriptionStatus   Status    `json:"transcription_status" db:"transcription_status"`
	TranscriptionError    *string   `json:"transcription_error,omitempty" db:"transcription_error"`

	RefinementResult *RefinementResult `json:"refinement_result,omitempty" db:"refinement_result"`
	RefinedContent   *string           `json:"refined_content,omitempty" db:"refined_content"`
	RefinementStatus Status            `json:"refinement_status" db:"refinement_status"`
	RefinementError  *string           `json:"refinement_error,omitempty" db:"refinement_error"`

	// Content is the externally visible text, set by user confirmation
	Content       *string `json:"content,omitempty" db:"content"`
	UserConfirmed bool    `json:"user_confirmed" db:"user_confirmed"`

	TranscriptionStartedAt *time.Time `json:"transcription_started_at,omitempty" db:"transcription_started_at"`
	RefinementStartedAt    *time.Time `json:"refinement_started_at,omitempty" db:"refinement_started_at"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}

// NewAudioUnit creates a unit in its initial PENDING/PENDING state
func NewAudioUnit(id, conversationID, audioReference string, now time.Time) *AudioUnit {
	return &AudioUnit{
		ID:                  id,
		ConversationID:      conversationID,
		Role:                "user",
		AudioReference:      audioReference,
		TranscriptionStatus: StatusPending,
		RefinementStatus:    StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// StageStatus returns the status of the given stage
func (u *AudioUnit) StageStatus(stage Stage) Status {
	if stage == StageRefinement {
		return u.RefinementStatus
	}
	return u.TranscriptionStatus
}

// StageStartedAt returns when the given stage last entered PROCESSING
func (u *AudioUnit) StageStartedAt(stage Stage) *time.Time {
	if stage == StageRefinement {
		return u.RefinementStartedAt
	}
	return u.TranscriptionStartedAt
}

// HasTranscript reports whether transcription completed at least once
func (u *AudioUnit) HasTranscript() bool {
	return u.RawTranscription != nil
}

// TranscriptionView is the transcription half of the status projection
type TranscriptionView struct {
	Status   Status    `json:"status"`
	RawText  *string   `json:"raw_text"`
	Duration *float64  `json:"duration"`
	Segments []Segment `json:"segments"`
	Error    *string   `json:"error"`
}

// RefinementView is the refinement half of the status projection
type RefinementView struct {
	Status         Status            `json:"status"`
	Result         *RefinementResult `json:"result"`
	RefinedContent *string           `json:"refined_content"`
	Error          *string           `json:"error"`
}

// StatusProjection is the read-only view exposed to outer layers
type StatusProjection struct {
	ID            string            `json:"id"`
	Transcription TranscriptionView `json:"transcription"`
	Refinement    RefinementView    `json:"refinement"`
	UserConfirmed bool              `json:"user_confirmed"`
	Content       *string           `json:"content"`
}

// Projection builds the status projection of the unit
func (u *AudioUnit) Projection() *StatusProjection {
	return &StatusProjection{
		ID: u.ID,
		Transcription: TranscriptionView{
			Status:   u.TranscriptionStatus,
			RawText:  u.RawTranscription,
			Duration: u.AudioDuration,
			Segments: u.TranscriptionSegments,
			Error:    u.TranscriptionError,
		},
		Refinement: RefinementView{
			Status:         u.RefinementStatus,
			Result:         u.RefinementResult,
			RefinedContent: u.RefinedContent,
			Error:          u.RefinementError,
		},
		UserConfirmed: u.UserConfirmed,
		Content:       u.Content,
	}
}
