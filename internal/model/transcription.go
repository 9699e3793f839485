package model

// Fragment is a single backend-native timed unit of transcribed speech
type Fragment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration returns the fragment length, never negative
func (f Fragment) Duration() float64 {
	if f.End < f.Start {
		return 0
	}
	return f.End - f.Start
}

// TranscriptionResult is the backend-agnostic output of a transcription call
type TranscriptionResult struct {
	Text     string     `json:"text"`
	Duration float64    `json:"duration"`
	Language string     `json:"language"`
	Segments []Fragment `json:"segments"`
}

// Segment is a coarser reading unit built from merged fragments
type Segment struct {
	Index     int     `json:"index" db:"segment_index"`
	StartTime float64 `json:"start_time" db:"start_time"`
	EndTime   float64 `json:"end_time" db:"end_time"`
	Text      string  `json:"text" db:"text"`
	Duration  float64 `json:"duration" db:"duration"`
	// WordCount is the character count of Text
	WordCount int `json:"word_count" db:"word_count"`
}
