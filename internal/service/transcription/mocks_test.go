package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/Taichi-iskw/voxrefine/internal/model"
	"github.com/Taichi-iskw/voxrefine/internal/service/common"
)

// mockCmdRunner for testing
type mockCmdRunner struct {
	mock.Mock
}

func (m *mockCmdRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	called := m.Called(ctx, name, args)
	if called.Get(0) == nil {
		return nil, called.Error(1)
	}
	return called.Get(0).([]byte), called.Error(1)
}

// mockResolver for testing
type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, path string) float64 {
	return m.Called(ctx, path).Get(0).(float64)
}

// mockBackend for testing
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Name() string {
	return "mock"
}

func (m *mockBackend) Transcribe(ctx context.Context, req Request) (*model.TranscriptionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TranscriptionResult), args.Error(1)
}

// passthroughConverter leaves paths untouched
type passthroughConverter struct{}

func (passthroughConverter) Prepare(ctx context.Context, path string) (string, func()) {
	return path, func() {}
}

// fakeHelper scripts the local model helper process. reply returns the
// line written back for one request; ok=false makes the process die.
type fakeHelper struct {
	mu       sync.Mutex
	starts   int
	args     [][]string
	startErr error

	// failReady makes the process exit with stderr before becoming ready
	failReady string
	reply     func(req helperRequest) (line string, ok bool)
	procs     []*fakeProcess
}

func (h *fakeHelper) Start(ctx context.Context, name string, args ...string) (common.Process, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.starts++
	h.args = append(h.args, append([]string{name}, args...))
	if h.startErr != nil {
		return nil, h.startErr
	}

	p := &fakeProcess{
		name:  name,
		lines: make(chan []byte, 4),
		done:  make(chan struct{}),
		reply: h.currentReply,
	}
	if h.failReady != "" {
		p.die(h.failReady)
	} else {
		p.lines <- []byte(`{"ready": true}`)
	}
	h.procs = append(h.procs, p)
	return p, nil
}

func (h *fakeHelper) currentReply(req helperRequest) (string, bool) {
	h.mu.Lock()
	reply := h.reply
	h.mu.Unlock()
	return reply(req)
}

func (h *fakeHelper) setReply(reply func(helperRequest) (string, bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reply = reply
}

func (h *fakeHelper) startCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts
}

type fakeProcess struct {
	name  string
	lines chan []byte
	done  chan struct{}
	reply func(req helperRequest) (string, bool)

	mu       sync.Mutex
	dead     bool
	stderr   string
	requests []helperRequest
}

func (p *fakeProcess) die(stderr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return
	}
	p.dead = true
	p.stderr = stderr
	close(p.done)
	close(p.lines)
}

func (p *fakeProcess) Send(line []byte) error {
	p.mu.Lock()
	dead := p.dead
	p.mu.Unlock()
	if dead {
		return &common.ExitError{Command: p.name, ExitCode: 1, Stderr: p.stderr}
	}

	var req helperRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return err
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	out, ok := p.reply(req)
	if !ok {
		p.die(out)
		return nil
	}
	if out != "" {
		p.lines <- []byte(out)
	}
	return nil
}

func (p *fakeProcess) Receive(ctx context.Context) ([]byte, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			return nil, &common.ExitError{Command: p.name, ExitCode: 1, Stderr: p.stderr}
		}
		return line, nil
	case <-ctx.Done():
		p.die("killed")
		return nil, fmt.Errorf("%s: %w", p.name, ctx.Err())
	}
}

func (p *fakeProcess) Done() <-chan struct{} {
	return p.done
}

func (p *fakeProcess) Close() error {
	p.die("")
	return nil
}
