package transcription

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"

	"github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// MaxRemoteFileSize is the hosted API's upload ceiling
const MaxRemoteFileSize = 25 * 1024 * 1024

// RemoteOptions configures the hosted transcription backend
type RemoteOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// RemoteBackend calls an OpenAI-compatible transcription endpoint
type RemoteBackend struct {
	client   *openai.Client
	fs       afero.Fs
	resolver DurationResolver
	model    string
	timeout  time.Duration
}

// NewRemoteBackend creates a RemoteBackend from API credentials
func NewRemoteBackend(fs afero.Fs, resolver DurationResolver, opts RemoteOptions) (*RemoteBackend, error) {
	if opts.APIKey == "" {
		return nil, errors.New(errors.CodeBackendUnavailable, "remote transcription requires an API key (OPENAI_API_KEY)")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return NewRemoteBackendWithClient(openai.NewClientWithConfig(cfg), fs, resolver, opts), nil
}

// NewRemoteBackendWithClient creates a RemoteBackend with a custom client (for testing)
func NewRemoteBackendWithClient(client *openai.Client, fs afero.Fs, resolver DurationResolver, opts RemoteOptions) *RemoteBackend {
	if opts.Model == "" {
		opts.Model = openai.Whisper1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	return &RemoteBackend{
		client:   client,
		fs:       fs,
		resolver: resolver,
		model:    opts.Model,
		timeout:  opts.Timeout,
	}
}

// Name returns the backend name
func (b *RemoteBackend) Name() string {
	return "remote:" + b.model
}

// Transcribe uploads the file and maps the verbose response into a TranscriptionResult
func (b *RemoteBackend) Transcribe(ctx context.Context, req Request) (*model.TranscriptionResult, error) {
	info, err := b.fs.Stat(req.AudioPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeFileNotFound, fmt.Sprintf("audio file not found: %s", req.AudioPath))
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to stat audio file")
	}
	if info.Size() > MaxRemoteFileSize {
		return nil, errors.New(errors.CodePayloadTooLarge,
			fmt.Sprintf("audio file too large: %s (limit %s)",
				humanize.IBytes(uint64(info.Size())), humanize.IBytes(MaxRemoteFileSize)))
	}

	f, err := b.fs.Open(req.AudioPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to open audio file")
	}
	defer f.Close()

	log.Info().
		Str("path", req.AudioPath).
		Str("size", humanize.IBytes(uint64(info.Size()))).
		Str("language", req.Language).
		Msg("calling remote transcription")

	granularities := []openai.TranscriptionTimestampGranularity{openai.TranscriptionTimestampGranularitySegment}
	if req.WordTimestamps {
		granularities = append(granularities, openai.TranscriptionTimestampGranularityWord)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.CreateTranscription(callCtx, openai.AudioRequest{
		Model:                  b.model,
		FilePath:               filepath.Base(req.AudioPath),
		Reader:                 f,
		Language:               requestLanguage(req.Language),
		Format:                 openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: granularities,
	})
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(err, errors.CodeTimeout,
				fmt.Sprintf("remote transcription timed out after %s", b.timeout))
		}
		return nil, errors.Wrap(err, errors.CodeExternal, "remote transcription failed")
	}

	result := &model.TranscriptionResult{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Segments: make([]model.Fragment, 0, len(resp.Segments)),
	}
	if result.Language == "" {
		result.Language = req.Language
	}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, model.Fragment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}

	// The response may omit duration
	if b.resolver != nil {
		result.Duration = b.resolver.Resolve(ctx, req.AudioPath)
	}
	if result.Duration <= 0 {
		result.Duration = resp.Duration
	}

	log.Info().Int("text_length", len(result.Text)).Int("segments", len(result.Segments)).Msg("remote transcription succeeded")
	return result, nil
}

func requestLanguage(language string) string {
	if language == "auto" {
		return ""
	}
	return language
}
