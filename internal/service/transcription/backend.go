// Package transcription turns audio files into timed text with a local or remote speech model.
package transcription

import (
	"context"

	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// Request describes one transcription call
type Request struct {
	AudioPath      string
	Language       string
	WordTimestamps bool
}

// Backend is a speech-to-text engine. Implementations return the same result
// shape so segmentation does not depend on the engine.
type Backend interface {
	// Name identifies the backend in logs
	Name() string
	// Transcribe converts the audio at req.AudioPath into text and timed fragments
	Transcribe(ctx context.Context, req Request) (*model.TranscriptionResult, error)
}

// DurationResolver reports audio length in seconds, 0 when unknown
type DurationResolver interface {
	Resolve(ctx context.Context, path string) float64
}
