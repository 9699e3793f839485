package audio

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	apperrors "github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// StatusFormatter defines interface for status output formatting
type StatusFormatter interface {
	Format(status *model.StatusProjection) (string, error)
}

// NewStatusFormatter returns the formatter for the given format name
func NewStatusFormatter(format string) (StatusFormatter, error) {
	switch format {
	case "text", "":
		return &TextStatusFormatter{}, nil
	case "json":
		return &JSONStatusFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}

// TextStatusFormatter formats status as plain text
type TextStatusFormatter struct{}

// Format formats status as plain text
func (f *TextStatusFormatter) Format(status *model.StatusProjection) (string, error) {
	var output strings.Builder

	output.WriteString(fmt.Sprintf("Unit ID: %s\n", status.ID))

	t := status.Transcription
	output.WriteString(fmt.Sprintf("Transcription: %s\n", statusLabel(t.Status)))
	if t.Duration != nil {
		output.WriteString(fmt.Sprintf("  Duration: %s\n", formatSecondsToTime(*t.Duration)))
	}
	if t.Error != nil {
		output.WriteString(fmt.Sprintf("  Error: %s\n", *t.Error))
	}
	if len(t.Segments) > 0 {
		output.WriteString(fmt.Sprintf("  Segments: %s\n", humanize.Comma(int64(len(t.Segments)))))
	}
	if t.RawText != nil {
		output.WriteString("  Raw text:\n")
		output.WriteString(indent(*t.RawText))
	}

	r := status.Refinement
	output.WriteString(fmt.Sprintf("Refinement: %s\n", statusLabel(r.Status)))
	if r.Error != nil {
		output.WriteString(fmt.Sprintf("  Error: %s\n", *r.Error))
	}
	if r.Result != nil {
		provider := r.Result.Provider
		if provider == "" {
			provider = "none (raw text passed through)"
		}
		output.WriteString(fmt.Sprintf("  Provider: %s\n", provider))
		output.WriteString(fmt.Sprintf("  Corrections: %d\n", len(r.Result.Corrections)))
		for _, c := range r.Result.Corrections {
			output.WriteString(fmt.Sprintf("    %s → %s", c.Original, c.Corrected))
			if c.Reason != "" {
				output.WriteString(fmt.Sprintf(" (%s)", c.Reason))
			}
			output.WriteString("\n")
		}
	}
	if r.RefinedContent != nil {
		output.WriteString("  Refined text:\n")
		output.WriteString(indent(*r.RefinedContent))
	}

	if status.UserConfirmed && status.Content != nil {
		output.WriteString("Confirmed content:\n")
		output.WriteString(indent(*status.Content))
	}

	return output.String(), nil
}

// JSONStatusFormatter formats status as JSON
type JSONStatusFormatter struct{}

// Format formats status as JSON
func (f *JSONStatusFormatter) Format(status *model.StatusProjection) (string, error) {
	jsonBytes, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes) + "\n", nil
}

func statusLabel(s model.Status) string {
	switch s {
	case model.StatusCompleted:
		return "✅ completed"
	case model.StatusFailed:
		return "❌ failed"
	case model.StatusProcessing:
		return "⏳ processing"
	default:
		return "🕒 pending"
	}
}

func indent(text string) string {
	var output strings.Builder
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		output.WriteString("    ")
		output.WriteString(line)
		output.WriteString("\n")
	}
	return output.String()
}

// formatSegmentsAsSRT formats transcript segments as SRT subtitles
func formatSegmentsAsSRT(segments []model.Segment) string {
	var output strings.Builder

	for i, segment := range segments {
		output.WriteString(fmt.Sprintf("%d\n", i+1))
		output.WriteString(fmt.Sprintf("%s --> %s\n",
			formatSecondsToSRTTime(segment.StartTime),
			formatSecondsToSRTTime(segment.EndTime)))
		output.WriteString(fmt.Sprintf("%s\n\n", segment.Text))
	}

	return output.String()
}

// formatSecondsToSRTTime converts seconds to SRT timestamp format
func formatSecondsToSRTTime(seconds float64) string {
	return formatClock(seconds, ",")
}

// formatSecondsToTime converts seconds to HH:MM:SS.mmm format
func formatSecondsToTime(seconds float64) string {
	return formatClock(seconds, ".")
}

func formatClock(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds*1000 + 0.5)
	hours := totalMillis / 3600000
	minutes := (totalMillis % 3600000) / 60000
	secs := (totalMillis % 60000) / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, secs, sep, millis)
}

// formatProcessingError provides user-friendly error messages for pipeline failures
func formatProcessingError(err error, subject string) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()

	switch apperrors.CodeOf(err) {
	case apperrors.CodeNotFound:
		return fmt.Errorf("❌ '%s' was not found.\n   • Check the unit ID with 'voxrefine audio status'", subject)
	case apperrors.CodeFileNotFound:
		return fmt.Errorf("❌ Audio file '%s' does not exist.\n   • Check media.uploads_dir in your configuration\n   • References are resolved relative to the uploads directory", subject)
	case apperrors.CodeDependency:
		return fmt.Errorf("❌ Conversation does not exist.\n   • Create one with 'voxrefine conversation create --topic ...'")
	case apperrors.CodeConflict:
		return fmt.Errorf("❌ Cannot do that right now for '%s':\n   %s", subject, errMsg)
	case apperrors.CodeInvalidArg, apperrors.CodeEmptyInput:
		return fmt.Errorf("❌ Invalid input: %s", errMsg)
	case apperrors.CodePayloadTooLarge:
		return fmt.Errorf("❌ Audio file is too large for the remote backend.\n   • Switch transcription.backend to local\n   • Or split the recording")
	case apperrors.CodeBackendUnavailable:
		return fmt.Errorf("❌ Transcription backend is unavailable.\n   • Run 'voxrefine config show' to check the backend settings\n   • %s", errMsg)
	case apperrors.CodeTimeout:
		return fmt.Errorf("❌ Operation timed out for '%s'.\n   • Try again, or run without --wait and use 'voxrefine worker'", subject)
	default:
		return fmt.Errorf("❌ Processing failed for '%s':\n   %s", subject, errMsg)
	}
}
