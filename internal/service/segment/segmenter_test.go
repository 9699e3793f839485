package segment

import (
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// evenFragments builds n fragments of length seconds separated by gap, starting at from
func evenFragments(from, length, gap float64, n, firstID int) []model.Fragment {
	out := make([]model.Fragment, 0, n)
	for i := 0; i < n; i++ {
		start := from + float64(i)*(length+gap)
		out = append(out, model.Fragment{
			ID:    firstID + i,
			Start: start,
			End:   start + length,
			Text:  fmt.Sprintf("f%d", firstID+i),
		})
	}
	return out
}

// assertSegmentInvariants checks the properties every merged output must hold
func assertSegmentInvariants(t *testing.T, s *Segmenter, result *model.TranscriptionResult, segments []model.Segment) {
	t.Helper()

	var total float64
	for i, seg := range segments {
		assert.Equal(t, i, seg.Index)
		assert.Greater(t, seg.EndTime, seg.StartTime, "segment %d", i)
		assert.Equal(t, utf8.RuneCountInString(seg.Text), seg.WordCount)
		total += seg.Duration
	}
	assert.LessOrEqual(t, total, result.Duration+1e-9)

	// A segment may only exceed the bound when a single fragment does
	for _, seg := range segments {
		if seg.Duration <= s.MaxSegmentSeconds {
			continue
		}
		var single bool
		for _, f := range result.Segments {
			if f.Duration() > s.MaxSegmentSeconds && f.Duration() == seg.Duration {
				single = true
			}
		}
		assert.True(t, single, "segment %d exceeds max without a single oversized fragment", seg.Index)
	}
}

func TestSegmenter_ShortAudioIsNotSegmented(t *testing.T) {
	s := New()

	tests := []struct {
		name     string
		duration float64
	}{
		{name: "zero", duration: 0},
		{name: "one minute", duration: 60},
		{name: "just under five minutes", duration: 299.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &model.TranscriptionResult{
				Text:     "short",
				Duration: tt.duration,
				Segments: evenFragments(0, 5, 0.5, 10, 0),
			}
			assert.Empty(t, s.Segment(result))
		})
	}

	assert.Nil(t, s.Segment(nil))
}

func TestSegmenter_ClosesAtLongPause(t *testing.T) {
	// 43 fragments of 4s with 1.5s gaps ending at 240s, a 3s silence, then speech until 600s
	before := evenFragments(5.0, 4, 1.5, 43, 0)
	require.Equal(t, 240.0, before[len(before)-1].End)
	after := evenFragments(243, 4, 1.5, 65, 43)

	result := &model.TranscriptionResult{
		Text:     "ten minutes",
		Duration: 600,
		Segments: append(before, after...),
	}

	s := New()
	segments := s.Segment(result)

	require.GreaterOrEqual(t, len(segments), 2)
	assert.Equal(t, 5.0, segments[0].StartTime)
	assert.Equal(t, 240.0, segments[0].EndTime)
	assert.Equal(t, 240.0, segments[1].StartTime)
	assert.Contains(t, segments[0].Text, "f42")
	assert.Contains(t, segments[1].Text, "f43")
	assertSegmentInvariants(t, s, result, segments)
}

func TestSegmenter_ClosesAtDurationLimit(t *testing.T) {
	result := &model.TranscriptionResult{
		Duration: 600,
		Segments: evenFragments(0, 10, 0, 60, 0),
	}

	s := New()
	segments := s.Segment(result)

	require.Len(t, segments, 4)
	for i, want := range []float64{180, 180, 180, 60} {
		assert.Equal(t, want, segments[i].Duration)
	}
	assert.Equal(t, 180.0, segments[1].StartTime)
	assert.Equal(t, 180.0, segments[0].EndTime)
	assert.Equal(t, 600.0, segments[3].EndTime)
	assertSegmentInvariants(t, s, result, segments)
}

func TestSegmenter_OversizedSingleFragment(t *testing.T) {
	result := &model.TranscriptionResult{
		Duration: 400,
		Segments: []model.Fragment{
			{ID: 0, Start: 0, End: 250, Text: "long monologue"},
			{ID: 1, Start: 250, End: 400, Text: "tail"},
		},
	}

	s := New()
	segments := s.Segment(result)

	require.Len(t, segments, 2)
	assert.Equal(t, 250.0, segments[0].Duration)
	assert.Equal(t, "tail", segments[1].Text)
	assertSegmentInvariants(t, s, result, segments)
}

func TestSegmenter_CharacterWordCount(t *testing.T) {
	result := &model.TranscriptionResult{
		Duration: 320,
		Segments: []model.Fragment{
			{ID: 0, Start: 0, End: 80, Text: "今天我们聊"},
			{ID: 1, Start: 80.5, End: 160, Text: "产品设计"},
		},
	}

	segments := New().Segment(result)

	require.Len(t, segments, 1)
	assert.Equal(t, "今天我们聊 产品设计", segments[0].Text)
	assert.Equal(t, 10, segments[0].WordCount)
}

func TestSegmenter_NaiveSlicing(t *testing.T) {
	result := &model.TranscriptionResult{
		Text:     "一二三四五六七八九十",
		Duration: 400,
	}

	s := New()
	segments := s.Segment(result)

	require.Len(t, segments, 3)
	assert.Equal(t, "一二三", segments[0].Text)
	assert.Equal(t, "四五六", segments[1].Text)
	assert.Equal(t, "七八九十", segments[2].Text)

	assert.Equal(t, 0.0, segments[0].StartTime)
	assert.Equal(t, 180.0, segments[1].StartTime)
	assert.Equal(t, 360.0, segments[2].StartTime)
	assert.Equal(t, 400.0, segments[2].EndTime)
	assert.Equal(t, 40.0, segments[2].Duration)
	assert.Equal(t, 4, segments[2].WordCount)
}

func TestSegmenter_Options(t *testing.T) {
	s := NewFromConfig(config.SegmenterConfig{
		MaxSegmentSeconds:     60,
		PauseThresholdSeconds: 1.0,
		MinDurationSeconds:    30,
	})
	assert.Equal(t, 60.0, s.MaxSegmentSeconds)
	assert.Equal(t, 1.0, s.PauseThreshold)
	assert.Equal(t, 30.0, s.MinDuration)

	defaults := NewFromConfig(config.SegmenterConfig{})
	assert.Equal(t, DefaultMaxSegmentSeconds, defaults.MaxSegmentSeconds)
	assert.Equal(t, DefaultPauseThreshold, defaults.PauseThreshold)

	result := &model.TranscriptionResult{
		Duration: 45,
		Segments: []model.Fragment{
			{ID: 0, Start: 0, End: 10, Text: "a"},
			{ID: 1, Start: 11.5, End: 20, Text: "b"},
		},
	}
	segments := s.Segment(result)
	require.Len(t, segments, 2)
	assert.Equal(t, 10.0, segments[1].StartTime)
}
