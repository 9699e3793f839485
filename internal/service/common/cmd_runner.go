package common

import (
	"context"
	"fmt"
	"strings"

	execute "github.com/alexellis/go-execute/v2"

	"github.com/Taichi-iskw/voxrefine/internal/log"
)

// CmdRunner is interface for executing external commands
type CmdRunner interface {
	// Run executes name with args and returns stdout. A non-zero exit is an *ExitError.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExitError reports a command that ran but exited unsuccessfully
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if len(stderr) > 500 {
		stderr = stderr[len(stderr)-500:]
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, stderr)
}

// realCmdRunner implements CmdRunner using go-execute
type realCmdRunner struct{}

// NewCmdRunner creates a new CmdRunner
func NewCmdRunner() CmdRunner {
	return &realCmdRunner{}
}

// Run executes external command with given arguments
func (r *realCmdRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	log.Debug().Str("command", name).Strs("args", args).Msg("executing")

	task := execute.ExecTask{
		Command:     name,
		Args:        args,
		StreamStdio: false,
	}

	res, err := task.Execute(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return []byte(res.Stdout), fmt.Errorf("%s: %w", name, ctxErr)
	}
	if res.ExitCode != 0 {
		return []byte(res.Stdout), &ExitError{
			Command:  name,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	if err != nil {
		return nil, err
	}

	return []byte(res.Stdout), nil
}
