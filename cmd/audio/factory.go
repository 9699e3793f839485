package audio

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/repository/audiounit"
	"github.com/Taichi-iskw/voxrefine/internal/repository/conversation"
	"github.com/Taichi-iskw/voxrefine/internal/service/common"
	"github.com/Taichi-iskw/voxrefine/internal/service/duration"
	"github.com/Taichi-iskw/voxrefine/internal/service/media"
	"github.com/Taichi-iskw/voxrefine/internal/service/processing"
	"github.com/Taichi-iskw/voxrefine/internal/service/refinement"
	"github.com/Taichi-iskw/voxrefine/internal/service/segment"
	"github.com/Taichi-iskw/voxrefine/internal/service/transcription"
)

// ServiceFactory wires configuration, database and services together
type ServiceFactory struct{}

// NewServiceFactory creates a new service factory
func NewServiceFactory() *ServiceFactory {
	return &ServiceFactory{}
}

// Runtime holds everything a command needs to drive the pipeline
type Runtime struct {
	Config        *config.Config
	Pool          *pgxpool.Pool
	Units         audiounit.Repository
	Conversations conversation.Repository
	Transcription *transcription.Service
	Pipeline      *processing.Pipeline
}

// Close stops the transcription backend and releases the database pool
func (r *Runtime) Close() {
	if r.Transcription != nil {
		_ = r.Transcription.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// Open connects to the database and builds the pipeline. The transcription
// backend is only prepared when withBackend is set, since loading the local
// model is expensive and read-only commands never transcribe.
func (f *ServiceFactory) Open(ctx context.Context, withBackend bool) (*Runtime, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	pool, err := config.NewDatabasePool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	units := audiounit.NewRepository(pool)
	conversations := conversation.NewRepository(pool)

	transcriber := NewTranscriptionService(ctx, cfg, withBackend)

	refiner, errs := refinement.NewRefinerFromConfig(cfg.Refinement)
	for _, e := range errs {
		log.Warn().Err(e).Msg("refinement provider skipped")
	}
	if len(refiner.Providers()) == 0 {
		log.Warn().Msg("no refinement provider configured, refinement will pass transcripts through")
	}

	pipeline := processing.NewPipeline(
		units,
		conversations,
		media.NewStore(cfg.Media.UploadsDir),
		transcriber,
		segment.NewFromConfig(cfg.Segmenter),
		refiner,
		processing.WithLanguage(cfg.Transcription.Language),
		processing.WithStaleAfter(cfg.Worker.StaleAfter),
	)

	return &Runtime{
		Config:        cfg,
		Pool:          pool,
		Units:         units,
		Conversations: conversations,
		Transcription: transcriber,
		Pipeline:      pipeline,
	}, nil
}

// NewTranscriptionService builds the transcription service from configuration.
// A backend that cannot be built leaves the service without one, so every
// transcription fails with BACKEND_UNAVAILABLE instead of aborting startup.
func NewTranscriptionService(ctx context.Context, cfg *config.Config, withBackend bool) *transcription.Service {
	runner := common.NewCmdRunner()
	fs := afero.NewOsFs()
	resolver := duration.NewResolver(runner, fs, cfg.Transcription.ProbeTimeout)

	if !withBackend {
		return transcription.NewService(nil, resolver, fs)
	}

	backend, err := transcription.NewBackend(ctx, cfg.Transcription, runner, common.NewProcessStarter(), fs, resolver)
	if err != nil {
		log.Error().Err(err).Str("backend", cfg.Transcription.Backend).Msg("transcription backend unavailable")
		return transcription.NewService(nil, resolver, fs)
	}
	return transcription.NewService(backend, resolver, fs)
}

// Processor opens a runtime and returns its pipeline. With wait set, triggered
// stages run before the call returns; otherwise they stay pending for `voxrefine worker`.
func (f *ServiceFactory) Processor(ctx context.Context, wait bool) (Processor, func(), error) {
	rt, err := f.Open(ctx, wait)
	if err != nil {
		return nil, nil, err
	}
	if wait {
		rt.Pipeline.SetDispatcher(processing.InlineDispatcher{Executor: rt.Pipeline})
	} else {
		rt.Pipeline.SetDispatcher(nil)
	}
	return rt.Pipeline, rt.Close, nil
}
