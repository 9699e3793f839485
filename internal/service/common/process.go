package common

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	execute "github.com/alexellis/go-execute/v2"

	"github.com/Taichi-iskw/voxrefine/internal/log"
)

// stderrTail bounds how much helper stderr is kept for error reports
const stderrTail = 4096

// closeGrace is how long Close waits for a helper to exit after its stdin closes
const closeGrace = 5 * time.Second

// Process is a long-running command that exchanges newline-delimited messages
// over stdin and stdout
type Process interface {
	// Send writes one line to the process
	Send(line []byte) error
	// Receive reads the next line. When ctx ends first the process is killed.
	Receive(ctx context.Context) ([]byte, error)
	// Done is closed once the process has exited
	Done() <-chan struct{}
	// Close asks the process to exit by closing its stdin, then kills it
	Close() error
}

// ProcessStarter starts long-running processes
type ProcessStarter interface {
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

type realProcessStarter struct{}

// NewProcessStarter creates a ProcessStarter backed by go-execute
func NewProcessStarter() ProcessStarter {
	return &realProcessStarter{}
}

// Start launches name with args. The process outlives ctx and is stopped by Close.
func (s *realProcessStarter) Start(ctx context.Context, name string, args ...string) (Process, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &process{
		name:   name,
		stdin:  stdinW,
		stdout: bufio.NewReader(stdoutR),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	task := execute.ExecTask{
		Command:            name,
		Args:               args,
		Stdin:              stdinR,
		StdOutWriter:       stdoutW,
		StdErrWriter:       &p.stderr,
		DisableStdioBuffer: true,
	}

	log.Debug().Str("command", name).Strs("args", args).Msg("starting helper process")

	go func() {
		res, err := task.Execute(procCtx)
		p.exitCode, p.err = res.ExitCode, err
		close(p.done)
		stdinR.Close()
		stdoutW.Close()
		cancel()
	}()

	return p, nil
}

type process struct {
	name   string
	stdin  *os.File
	stdout *bufio.Reader
	stderr tailBuffer
	cancel context.CancelFunc

	done     chan struct{}
	exitCode int
	err      error

	closeOnce sync.Once
}

func (p *process) Send(line []byte) error {
	select {
	case <-p.done:
		return p.exitError()
	default:
	}
	msg := make([]byte, 0, len(line)+1)
	msg = append(append(msg, bytes.TrimRight(line, "\n")...), '\n')
	if _, err := p.stdin.Write(msg); err != nil {
		return fmt.Errorf("%s: write failed: %w", p.name, err)
	}
	return nil
}

type readResult struct {
	line []byte
	err  error
}

func (p *process) Receive(ctx context.Context) ([]byte, error) {
	ch := make(chan readResult, 1)
	go func() {
		line, err := p.stdout.ReadBytes('\n')
		ch <- readResult{line: line, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if r.err == io.EOF {
				return nil, p.exitError()
			}
			return nil, fmt.Errorf("%s: read failed: %w", p.name, r.err)
		}
		return bytes.TrimSpace(r.line), nil
	case <-ctx.Done():
		p.cancel()
		// the reader returns once the killed process closes stdout
		<-ch
		return nil, fmt.Errorf("%s: %w", p.name, ctx.Err())
	}
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		select {
		case <-p.done:
		case <-time.After(closeGrace):
			log.Warn().Str("command", p.name).Msg("helper process did not exit, killing it")
			p.cancel()
			<-p.done
		}
	})
	return nil
}

// exitError describes why the process is gone. Only valid once done is closed.
func (p *process) exitError() error {
	<-p.done
	if p.exitCode != 0 {
		return &ExitError{
			Command:  p.name,
			ExitCode: p.exitCode,
			Stderr:   p.stderr.String(),
		}
	}
	if p.err != nil {
		return fmt.Errorf("%s: %w", p.name, p.err)
	}
	return fmt.Errorf("%s exited unexpectedly: %s", p.name, p.stderr.String())
}

// tailBuffer keeps the last stderrTail bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > stderrTail {
		b.buf = b.buf[len(b.buf)-stderrTail:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
