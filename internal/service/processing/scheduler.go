package processing

import (
	"context"
	"sync"
	"time"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// Runner is what the scheduler drives: claimed jobs are executed and
// pending units found by the supervisor are triggered.
type Runner interface {
	Executor
	Trigger(ctx context.Context, unitID string, stage model.Stage) (bool, error)
}

// PendingStore is the subset of persistence the supervisor needs
type PendingStore interface {
	ListPending(ctx context.Context, stage model.Stage, limit int) ([]string, error)
	ReleaseStale(ctx context.Context, stage model.Stage, before time.Time) (int64, error)
	Release(ctx context.Context, id string, stage model.Stage) error
}

var stages = []model.Stage{model.StageTranscription, model.StageRefinement}

// Scheduler runs jobs on a fixed worker pool and periodically picks up
// pending and stale units
type Scheduler struct {
	runner Runner
	store  PendingStore

	workers      int
	pollInterval time.Duration
	staleAfter   time.Duration
	batchSize    int

	queue    chan Job
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates a scheduler from worker configuration
func NewScheduler(runner Runner, store PendingStore, cfg config.WorkerConfig) *Scheduler {
	s := &Scheduler{
		runner:       runner,
		store:        store,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		staleAfter:   cfg.StaleAfter,
		batchSize:    cfg.BatchSize,
	}
	if s.workers <= 0 {
		s.workers = 2
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 5 * time.Second
	}
	if s.staleAfter <= 0 {
		s.staleAfter = defaultStaleAfter
	}
	if s.batchSize <= 0 {
		s.batchSize = 20
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	s.queue = make(chan Job, queueSize)
	s.stopChan = make(chan struct{})
	return s
}

// Start launches the workers and the supervisor. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Int("workers", s.workers).Dur("poll_interval", s.pollInterval).Msg("starting scheduler")

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workLoop(ctx)
	}

	s.wg.Add(1)
	go s.supervisorLoop(ctx)
}

// Stop waits for running jobs and hands queued ones back to pending
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.drain()
		log.Info().Msg("scheduler stopped")
	})
}

// Dispatch queues a claimed job. It reports false when the queue is full.
func (s *Scheduler) Dispatch(_ context.Context, job Job) bool {
	select {
	case <-s.stopChan:
		return false
	default:
	}

	select {
	case s.queue <- job:
		log.Debug().Str("unit_id", job.UnitID).Str("stage", string(job.Stage)).Msg("queued job")
		return true
	default:
		log.Warn().Str("unit_id", job.UnitID).Str("stage", string(job.Stage)).Msg("queue full, job rejected")
		return false
	}
}

func (s *Scheduler) workLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.queue:
			s.runner.Execute(ctx, job)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) supervisorLoop(ctx context.Context) {
	defer s.wg.Done()

	s.sweep(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep releases stale claims and triggers pending units
func (s *Scheduler) sweep(ctx context.Context) {
	before := time.Now().Add(-s.staleAfter)

	for _, stage := range stages {
		released, err := s.store.ReleaseStale(ctx, stage, before)
		if err != nil {
			log.Error().Err(err).Str("stage", string(stage)).Msg("failed to release stale units")
		} else if released > 0 {
			log.Warn().Int64("count", released).Str("stage", string(stage)).Msg("released stale units")
		}

		ids, err := s.store.ListPending(ctx, stage, s.batchSize)
		if err != nil {
			log.Error().Err(err).Str("stage", string(stage)).Msg("failed to list pending units")
			continue
		}

		for _, id := range ids {
			if _, err := s.runner.Trigger(ctx, id, stage); err != nil {
				log.Warn().Err(err).Str("unit_id", id).Str("stage", string(stage)).Msg("failed to trigger pending unit")
				break
			}
		}
	}
}

func (s *Scheduler) drain() {
	ctx := context.Background()
	for {
		select {
		case job := <-s.queue:
			if err := s.store.Release(ctx, job.UnitID, job.Stage); err != nil {
				log.Error().Err(err).Str("unit_id", job.UnitID).Str("stage", string(job.Stage)).Msg("failed to release queued job")
			}
		default:
			return
		}
	}
}
