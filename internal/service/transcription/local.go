package transcription

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/model"
	"github.com/Taichi-iskw/voxrefine/internal/service/common"
)

// helperScript builds the model once, then answers one JSON request per
// stdin line with one JSON reply per stdout line
const helperScript = `import json, sys
from faster_whisper import WhisperModel
model = WhisperModel(sys.argv[1], device=sys.argv[2], compute_type=sys.argv[3])
out = sys.stdout
sys.stdout = sys.stderr
def reply(msg):
    out.write(json.dumps(msg, ensure_ascii=False) + "\n")
    out.flush()
reply({"ready": True})
for line in iter(sys.stdin.readline, ""):
    line = line.strip()
    if not line:
        continue
    try:
        req = json.loads(line)
        segments, info = model.transcribe(
            req["path"],
            language=req.get("language") or None,
            beam_size=5,
            vad_filter=False,
            condition_on_previous_text=False,
            word_timestamps=bool(req.get("word_timestamps")),
        )
        segs = [{"id": s.id, "start": s.start, "end": s.end, "text": s.text.strip()} for s in segments]
        reply({"result": {
            "text": " ".join(s["text"] for s in segs).strip(),
            "duration": info.duration,
            "language": info.language,
            "segments": segs,
        }})
    except Exception as e:
        reply({"error": "%s: %s" % (type(e).__name__, e)})
`

type helperRequest struct {
	Path           string `json:"path"`
	Language       string `json:"language"`
	WordTimestamps bool   `json:"word_timestamps"`
}

type helperReply struct {
	Ready  bool                       `json:"ready"`
	Result *model.TranscriptionResult `json:"result"`
	Error  string                     `json:"error"`
}

// LocalOptions configures the local faster-whisper backend
type LocalOptions struct {
	Python      string
	Model       string
	Device      string
	ComputeType string
	Timeout     time.Duration
}

// LocalBackend keeps one faster-whisper helper process holding the model.
// Load starts it; inference calls are serialized over its stdin/stdout.
type LocalBackend struct {
	starter   common.ProcessStarter
	converter AudioConverter
	opts      LocalOptions

	loaded atomic.Bool

	// mu guards helper and holds the model for one call at a time
	mu     sync.Mutex
	helper common.Process
}

// NewLocalBackend creates a LocalBackend. Call Load before use.
func NewLocalBackend(starter common.ProcessStarter, converter AudioConverter, opts LocalOptions) *LocalBackend {
	if opts.Python == "" {
		opts.Python = "python3"
	}
	opts.Python = common.ResolveBinary(opts.Python)
	if opts.Model == "" {
		opts.Model = "medium"
	}
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	if opts.ComputeType == "" {
		opts.ComputeType = "int8"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	return &LocalBackend{
		starter:   starter,
		converter: converter,
		opts:      opts,
	}
}

// Name returns the backend name
func (b *LocalBackend) Name() string {
	return "local:" + b.opts.Model
}

// Load starts the helper and waits until the model is built.
// It is safe to call repeatedly; only the first success does work.
func (b *LocalBackend) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loaded.Load() {
		return nil
	}
	if err := b.startHelper(ctx); err != nil {
		return err
	}
	b.loaded.Store(true)
	return nil
}

// Loaded reports whether Load succeeded
func (b *LocalBackend) Loaded() bool {
	return b.loaded.Load()
}

// Close stops the helper process
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discardHelper()
	return nil
}

// startHelper launches the helper and waits for its ready line. Callers hold mu.
func (b *LocalBackend) startHelper(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	started := time.Now()
	helper, err := b.starter.Start(ctx, b.opts.Python, "-c", helperScript, b.opts.Model, b.opts.Device, b.opts.ComputeType)
	if err != nil {
		return errors.Wrap(err, errors.CodeBackendUnavailable, b.formatError(err, "", ""))
	}

	line, err := helper.Receive(ctx)
	if err != nil {
		_ = helper.Close()
		return errors.Wrap(err, errors.CodeBackendUnavailable, b.formatError(err, "", ""))
	}
	var ready helperReply
	if err := json.Unmarshal(line, &ready); err != nil || !ready.Ready {
		_ = helper.Close()
		return errors.New(errors.CodeBackendUnavailable, fmt.Sprintf("unexpected output from local transcription helper: %.200s", line))
	}

	b.helper = helper
	log.Info().
		Str("model", b.opts.Model).
		Str("device", b.opts.Device).
		Str("compute_type", b.opts.ComputeType).
		Dur("took", time.Since(started)).
		Msg("local transcription model loaded")
	return nil
}

// discardHelper stops the current helper so the next call starts a fresh one. Callers hold mu.
func (b *LocalBackend) discardHelper() {
	if b.helper != nil {
		_ = b.helper.Close()
		b.helper = nil
	}
}

// ensureHelper returns a running helper, restarting one that has exited. Callers hold mu.
func (b *LocalBackend) ensureHelper(ctx context.Context) (common.Process, error) {
	if b.helper != nil {
		select {
		case <-b.helper.Done():
			log.Warn().Str("model", b.opts.Model).Msg("local transcription helper exited, restarting")
			b.discardHelper()
		default:
			return b.helper, nil
		}
	}
	if err := b.startHelper(ctx); err != nil {
		return nil, err
	}
	return b.helper, nil
}

// Transcribe runs local inference on one file
func (b *LocalBackend) Transcribe(ctx context.Context, req Request) (*model.TranscriptionResult, error) {
	if !b.Loaded() {
		return nil, errors.New(errors.CodeBackendUnavailable, "local transcription model is not loaded")
	}

	path, cleanup := req.AudioPath, func() {}
	if b.converter != nil {
		path, cleanup = b.converter.Prepare(ctx, req.AudioPath)
	}
	defer cleanup()

	language := req.Language
	if language == "auto" {
		language = ""
	}
	payload, err := json.Marshal(helperRequest{Path: path, Language: language, WordTimestamps: req.WordTimestamps})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode transcription request")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	helper, err := b.ensureHelper(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	if err := helper.Send(payload); err != nil {
		b.discardHelper()
		return nil, errors.Wrap(err, errors.CodeExternal, b.formatError(err, req.AudioPath, req.Language))
	}
	line, err := helper.Receive(ctx)
	if err != nil {
		b.discardHelper()
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(err, errors.CodeTimeout,
				fmt.Sprintf("local transcription timed out after %s", b.opts.Timeout))
		}
		return nil, errors.Wrap(err, errors.CodeExternal, b.formatError(err, req.AudioPath, req.Language))
	}

	var reply helperReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, errors.Wrap(err, errors.CodeExternal, "malformed output from local transcription")
	}
	if reply.Error != "" {
		return nil, errors.New(errors.CodeExternal, b.formatError(stderrors.New(reply.Error), req.AudioPath, req.Language))
	}
	if reply.Result == nil {
		return nil, errors.New(errors.CodeExternal, "malformed output from local transcription")
	}

	result := reply.Result
	if result.Language == "" {
		result.Language = req.Language
	}
	result.Text = strings.TrimSpace(result.Text)

	return result, nil
}

// formatError provides user-friendly messages for common faster-whisper failures
func (b *LocalBackend) formatError(err error, audioPath, language string) string {
	errMsg := err.Error()

	switch {
	case strings.Contains(errMsg, "executable file not found"):
		return fmt.Sprintf("python interpreter %q not found", b.opts.Python)
	case strings.Contains(errMsg, "No module named"):
		return "faster-whisper is not installed. Please install it: pip install faster-whisper"
	case strings.Contains(errMsg, "CUDA"):
		return fmt.Sprintf("GPU/CUDA error on device '%s'. Try device 'cpu'", b.opts.Device)
	case strings.Contains(errMsg, "out of memory") || strings.Contains(errMsg, "OutOfMemoryError"):
		return fmt.Sprintf("insufficient memory for model '%s'. Try a smaller model (tiny, base, small)", b.opts.Model)
	case strings.Contains(errMsg, "is not a valid language code"):
		return fmt.Sprintf("unsupported language '%s'", language)
	case strings.Contains(errMsg, "Invalid model size"):
		return fmt.Sprintf("unsupported model '%s'. Available models: tiny, base, small, medium, large-v3", b.opts.Model)
	case strings.Contains(errMsg, "No such file"):
		return fmt.Sprintf("audio file not found: %s", filepath.Base(audioPath))
	case strings.Contains(errMsg, "Invalid data found"):
		return fmt.Sprintf("unsupported or corrupted audio: %s", filepath.Ext(audioPath))
	default:
		return fmt.Sprintf("transcription failed with model '%s' - %s", b.opts.Model, errMsg)
	}
}
