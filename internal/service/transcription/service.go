package transcription

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/model"
	"github.com/Taichi-iskw/voxrefine/internal/service/common"
)

// Segmenter merges fragments into reading segments
type Segmenter interface {
	Segment(result *model.TranscriptionResult) []model.Segment
}

// Service selects a backend once and normalizes its output
type Service struct {
	backend  Backend
	resolver DurationResolver
	fs       afero.Fs
}

// NewService creates a Service. A nil backend makes every call fail with BACKEND_UNAVAILABLE.
func NewService(backend Backend, resolver DurationResolver, fs afero.Fs) *Service {
	return &Service{
		backend:  backend,
		resolver: resolver,
		fs:       fs,
	}
}

// NewBackend builds the backend named by configuration. The local backend is
// loaded here so that the service never holds an unusable model.
func NewBackend(ctx context.Context, cfg config.TranscriptionConfig, runner common.CmdRunner, starter common.ProcessStarter, fs afero.Fs, resolver DurationResolver) (Backend, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		backend, err := NewRemoteBackend(fs, resolver, RemoteOptions{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.RemoteModel,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("backend", backend.Name()).Msg("transcription backend selected")
		return backend, nil
	case config.BackendLocal, "":
		backend := NewLocalBackend(starter, NewFFmpegConverter(runner, fs), LocalOptions{
			Python:      cfg.Python,
			Model:       cfg.Model,
			Device:      cfg.Device,
			ComputeType: cfg.ComputeType,
			Timeout:     cfg.Timeout,
		})
		if err := backend.Load(ctx); err != nil {
			return nil, err
		}
		log.Info().Str("backend", backend.Name()).Msg("transcription backend selected")
		return backend, nil
	default:
		return nil, errors.New(errors.CodeInvalidArg, fmt.Sprintf("unknown transcription backend %q", cfg.Backend))
	}
}

// Backend returns the selected backend, nil when none is available
func (s *Service) Backend() Backend {
	return s.backend
}

// Close releases backend resources such as the local model process
func (s *Service) Close() error {
	if closer, ok := s.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Transcribe transcribes the file at audioPath
func (s *Service) Transcribe(ctx context.Context, audioPath, language string, wantWordTimestamps bool) (*model.TranscriptionResult, error) {
	if audioPath == "" {
		return nil, errors.New(errors.CodeInvalidArg, "audio path is required")
	}
	if _, err := s.fs.Stat(audioPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeFileNotFound, fmt.Sprintf("audio file not found: %s", audioPath))
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to stat audio file")
	}
	if s.backend == nil {
		return nil, errors.New(errors.CodeBackendUnavailable, "no transcription backend is available")
	}

	result, err := s.backend.Transcribe(ctx, Request{
		AudioPath:      audioPath,
		Language:       language,
		WordTimestamps: wantWordTimestamps,
	})
	if err != nil {
		return nil, err
	}

	if result.Duration <= 0 && s.resolver != nil {
		result.Duration = s.resolver.Resolve(ctx, audioPath)
	}
	if result.Segments == nil {
		result.Segments = []model.Fragment{}
	}

	log.Info().
		Str("backend", s.backend.Name()).
		Float64("duration", result.Duration).
		Int("fragments", len(result.Segments)).
		Msg("transcription finished")
	return result, nil
}

// TranscribeWithSegments transcribes and segments in one call
func (s *Service) TranscribeWithSegments(ctx context.Context, audioPath, language string, segmenter Segmenter) (*model.TranscriptionResult, []model.Segment, error) {
	result, err := s.Transcribe(ctx, audioPath, language, false)
	if err != nil {
		return nil, nil, err
	}
	return result, segmenter.Segment(result), nil
}
