package processing

import (
	"context"

	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// Job is one claimed stage of one audio unit
type Job struct {
	UnitID string
	Stage  model.Stage
}

func (j Job) key() string {
	return string(j.Stage) + ":" + j.UnitID
}

// Executor runs a claimed job to completion
type Executor interface {
	Execute(ctx context.Context, job Job)
}

// Dispatcher hands claimed jobs to whatever runs them.
// Dispatch reports false when the job was not accepted.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) bool
}

// InlineDispatcher runs jobs on the caller's goroutine
type InlineDispatcher struct {
	Executor Executor
}

// Dispatch executes the job before returning
func (d InlineDispatcher) Dispatch(ctx context.Context, job Job) bool {
	d.Executor.Execute(ctx, job)
	return true
}
