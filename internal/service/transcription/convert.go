package transcription

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/service/common"
)

const (
	convertTimeout       = 300 * time.Second
	ffmpegVersionTimeout = 5 * time.Second
)

var convertExtensions = map[string]bool{
	".webm": true,
	".ogg":  true,
	".m4a":  true,
}

var convertMIMEs = []string{"audio/webm", "video/webm", "audio/ogg", "audio/mp4"}

// AudioConverter prepares audio for local inference
type AudioConverter interface {
	// Prepare returns a path suitable for the model and a cleanup func.
	// On any failure it returns the original path.
	Prepare(ctx context.Context, path string) (string, func())
}

// ffmpegConverter converts compressed web containers into 16kHz mono WAV
type ffmpegConverter struct {
	runner common.CmdRunner
	fs     afero.Fs
	ffmpeg string

	checkOnce sync.Once
	available bool
}

// NewFFmpegConverter creates a converter using ffmpeg from the system
func NewFFmpegConverter(runner common.CmdRunner, fs afero.Fs) AudioConverter {
	return &ffmpegConverter{
		runner: runner,
		fs:     fs,
		ffmpeg: common.ResolveBinary("ffmpeg"),
	}
}

func (c *ffmpegConverter) Prepare(ctx context.Context, path string) (string, func()) {
	noop := func() {}
	if !c.needsConversion(path) {
		return path, noop
	}
	if !c.isAvailable(ctx) {
		log.Warn().Str("path", path).Msg("ffmpeg not available, using original audio")
		return path, noop
	}

	dir, err := afero.TempDir(c.fs, "", "voxrefine-convert-")
	if err != nil {
		log.Warn().Err(err).Msg("failed to create conversion directory")
		return path, noop
	}
	cleanup := func() {
		if err := c.fs.RemoveAll(dir); err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("failed to remove conversion directory")
		}
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(dir, base+".wav")

	convertCtx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	_, err = c.runner.Run(convertCtx, c.ffmpeg,
		"-y",
		"-i", path,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		out,
	)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("audio conversion failed, using original audio")
		cleanup()
		return path, noop
	}
	if info, err := c.fs.Stat(out); err != nil || info.Size() == 0 {
		log.Warn().Str("path", path).Msg("audio conversion produced no output, using original audio")
		cleanup()
		return path, noop
	}

	log.Debug().Str("from", path).Str("to", out).Msg("converted audio to wav")
	return out, cleanup
}

func (c *ffmpegConverter) needsConversion(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".wav" {
		return false
	}
	if convertExtensions[ext] {
		return true
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return false
	}
	for _, m := range convertMIMEs {
		if mtype.Is(m) {
			return true
		}
	}
	return false
}

func (c *ffmpegConverter) isAvailable(ctx context.Context) bool {
	c.checkOnce.Do(func() {
		checkCtx, cancel := context.WithTimeout(ctx, ffmpegVersionTimeout)
		defer cancel()
		_, err := c.runner.Run(checkCtx, c.ffmpeg, "-version")
		c.available = err == nil
	})
	return c.available
}
