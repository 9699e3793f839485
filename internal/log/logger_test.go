package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"nonsense", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestSetLevel_FiltersEvents(t *testing.T) {
	var buf bytes.Buffer
	Configure("info", "json")
	SetOutput(&buf)
	defer Configure("info", "json")

	Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	SetLevel("debug")
	Debug().Str("unit", "abc").Msg("visible")
	assert.Contains(t, buf.String(), `"unit":"abc"`)
	assert.Contains(t, buf.String(), `"message":"visible"`)
}
