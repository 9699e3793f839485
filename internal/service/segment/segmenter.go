// Package segment splits long transcripts into reading segments.
package segment

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// Default thresholds, in seconds
const (
	DefaultMaxSegmentSeconds = 180.0
	DefaultPauseThreshold    = 2.0
	DefaultMinDuration       = 300.0
)

// minSegmentLength keeps end_time strictly after start_time for zero-length fragments
const minSegmentLength = 0.001

// Segmenter merges timed fragments into segments bounded by duration and silence
type Segmenter struct {
	MaxSegmentSeconds float64
	PauseThreshold    float64
	MinDuration       float64
}

// Option configures a Segmenter
type Option func(*Segmenter)

// WithMaxSegmentSeconds sets the upper bound of a merged segment
func WithMaxSegmentSeconds(s float64) Option {
	return func(seg *Segmenter) {
		if s > 0 {
			seg.MaxSegmentSeconds = s
		}
	}
}

// WithPauseThreshold sets the silence that closes a segment
func WithPauseThreshold(s float64) Option {
	return func(seg *Segmenter) {
		if s > 0 {
			seg.PauseThreshold = s
		}
	}
}

// WithMinDuration sets the audio length below which nothing is segmented
func WithMinDuration(s float64) Option {
	return func(seg *Segmenter) {
		if s >= 0 {
			seg.MinDuration = s
		}
	}
}

// New creates a Segmenter with default thresholds
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		MaxSegmentSeconds: DefaultMaxSegmentSeconds,
		PauseThreshold:    DefaultPauseThreshold,
		MinDuration:       DefaultMinDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig creates a Segmenter from configuration
func NewFromConfig(cfg config.SegmenterConfig) *Segmenter {
	return New(
		WithMaxSegmentSeconds(cfg.MaxSegmentSeconds),
		WithPauseThreshold(cfg.PauseThresholdSeconds),
		WithMinDuration(cfg.MinDurationSeconds),
	)
}

// Segment returns reading segments for result, or nil when the audio is short
// enough to be used as one flat transcript.
func (s *Segmenter) Segment(result *model.TranscriptionResult) []model.Segment {
	if result == nil || result.Duration < s.MinDuration {
		return nil
	}
	if len(result.Segments) > 0 {
		return s.merge(result.Segments)
	}
	return s.slice(result.Text, result.Duration)
}

// merge walks fragments and closes a segment on a long pause or when the next
// fragment would push it past MaxSegmentSeconds.
func (s *Segmenter) merge(fragments []model.Fragment) []model.Segment {
	var (
		out      []model.Segment
		texts    []string
		count    int
		duration float64
		start    = fragments[0].Start
		lastEnd  = fragments[0].Start
	)

	emit := func(end float64) {
		text := strings.TrimSpace(strings.Join(texts, " "))
		if text != "" {
			if end-start < minSegmentLength {
				end = start + minSegmentLength
			}
			out = append(out, model.Segment{
				Index:     len(out),
				StartTime: start,
				EndTime:   end,
				Text:      text,
				Duration:  duration,
				WordCount: utf8.RuneCountInString(text),
			})
		}
		texts = texts[:0]
		count = 0
		duration = 0
	}

	for i, frag := range fragments {
		d := frag.Duration()

		if count > 0 && duration+d > s.MaxSegmentSeconds {
			emit(lastEnd)
			start = frag.Start
		}

		if t := strings.TrimSpace(frag.Text); t != "" {
			texts = append(texts, t)
		}
		count++
		duration += d
		lastEnd = frag.End

		if i < len(fragments)-1 {
			pause := fragments[i+1].Start - frag.End
			if pause > s.PauseThreshold {
				emit(frag.End)
				start = frag.End
			}
		}
	}

	if count > 0 {
		emit(lastEnd)
	}

	return out
}

// slice divides the text into equal character runs over synthetic time windows.
// The timestamps are approximate.
func (s *Segmenter) slice(text string, total float64) []model.Segment {
	n := int(math.Ceil(total / s.MaxSegmentSeconds))
	if n < 1 {
		n = 1
	}

	runes := []rune(text)
	per := len(runes) / n

	out := make([]model.Segment, 0, n)
	for i := 0; i < n; i++ {
		from := i * per
		to := from + per
		if i == n-1 {
			to = len(runes)
		}
		chunk := string(runes[from:to])

		start := float64(i) * s.MaxSegmentSeconds
		end := math.Min(float64(i+1)*s.MaxSegmentSeconds, total)

		out = append(out, model.Segment{
			Index:     i,
			StartTime: start,
			EndTime:   end,
			Text:      chunk,
			Duration:  end - start,
			WordCount: utf8.RuneCountInString(chunk),
		})
	}
	return out
}
