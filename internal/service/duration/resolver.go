// Package duration determines the length of audio files in arbitrary containers.
package duration

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/service/common"
)

// secondsPerMB assumes a typical compressed voice bitrate
const secondsPerMB = 120.0

const defaultProbeTimeout = 10 * time.Second

// probeFirstExtensions are containers whose compressed streams native readers cannot measure
var probeFirstExtensions = map[string]bool{
	".webm": true,
	".m4a":  true,
	".mp3":  true,
	".aac":  true,
	".ogg":  true,
	".opus": true,
	".mp4":  true,
}

var probeFirstMIMEs = []string{
	"audio/webm",
	"video/webm",
	"audio/mp4",
	"audio/mpeg",
	"audio/aac",
	"audio/ogg",
}

// Resolver finds audio duration with a probe, native metadata and a size heuristic
type Resolver struct {
	runner  common.CmdRunner
	fs      afero.Fs
	ffprobe string
	timeout time.Duration
}

// NewResolver creates a Resolver using ffprobe from the system
func NewResolver(runner common.CmdRunner, fs afero.Fs, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Resolver{
		runner:  runner,
		fs:      fs,
		ffprobe: common.ResolveBinary("ffprobe"),
		timeout: timeout,
	}
}

// Resolve returns the duration of the file in seconds. It never fails:
// when nothing else works it estimates from the file size, and returns 0
// when even the size is unknown.
func (r *Resolver) Resolve(ctx context.Context, path string) float64 {
	if r.probeFirst(path) {
		if d, ok := r.tryProbe(ctx, path); ok {
			return d
		}
		if d, err := readNative(r.fs, path); err == nil {
			return d
		}
		return r.estimate(path)
	}

	d, err := readNative(r.fs, path)
	if err == nil {
		return d
	}
	log.Debug().Err(err).Str("path", path).Msg("native duration read failed, probing")

	if d, ok := r.tryProbe(ctx, path); ok {
		return d
	}
	return r.estimate(path)
}

func (r *Resolver) tryProbe(ctx context.Context, path string) (float64, bool) {
	d, err := r.probe(ctx, path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("duration probe failed")
		return 0, false
	}
	return d, true
}

func (r *Resolver) probeFirst(path string) bool {
	if probeFirstExtensions[strings.ToLower(filepath.Ext(path))] {
		return true
	}

	f, err := r.fs.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return false
	}
	for _, m := range probeFirstMIMEs {
		if mtype.Is(m) {
			return true
		}
	}
	return false
}

// probe asks ffprobe for the container-level duration
func (r *Resolver) probe(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.runner.Run(ctx, r.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	value := strings.TrimSpace(string(out))
	d, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable ffprobe output %q: %w", value, err)
	}
	if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("invalid ffprobe duration %q", value)
	}
	return d, nil
}

// estimate derives an inaccurate duration from the file size
func (r *Resolver) estimate(path string) float64 {
	info, err := r.fs.Stat(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot determine audio duration")
		return 0
	}

	size := info.Size()
	d := float64(size) / (1024 * 1024) * secondsPerMB
	log.Warn().
		Str("path", path).
		Str("size", humanize.IBytes(uint64(size))).
		Float64("duration", d).
		Msg("using size-based duration estimate, may be inaccurate")
	return d
}
