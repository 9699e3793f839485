package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/model"
	"github.com/Taichi-iskw/voxrefine/internal/service/segment"
)

// NewTranscribeCommand creates the audio transcribe command. It runs the
// transcription and segmentation stages directly, without a database.
func NewTranscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe [FILE]",
		Short: "Transcribe a local file without saving (dry-run)",
		Long:  `Run the configured transcription backend and segmenter on a local file and print the result. Nothing is written to the database.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			language, _ := cmd.Flags().GetString("language")
			format, _ := cmd.Flags().GetString("format")

			switch format {
			case "text", "json", "srt":
			default:
				return fmt.Errorf("unsupported format: %s (supported: text, json, srt)", format)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			return runDryRun(ctx, cmd.OutOrStdout(), args[0], language, format)
		},
	}

	cmd.Flags().StringP("language", "l", "", "Language hint (defaults to transcription.language, 'auto' to detect)")
	cmd.Flags().StringP("format", "f", "text", "Output format: text, json, srt")

	return cmd
}

func runDryRun(ctx context.Context, out io.Writer, audioPath, language, format string) error {
	cfg, err := config.Load(false)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if language == "" {
		language = cfg.Transcription.Language
	}

	service := NewTranscriptionService(ctx, cfg, true)
	defer service.Close()
	segmenter := segment.NewFromConfig(cfg.Segmenter)

	if format == "text" {
		fmt.Fprintf(out, "🎵 Transcribing %s (dry-run mode)...\n", audioPath)
		fmt.Fprintf(out, "Backend: %s\n", cfg.Transcription.Backend)
		fmt.Fprintf(out, "Language: %s\n\n", language)
	}

	result, segments, err := service.TranscribeWithSegments(ctx, audioPath, language, segmenter)
	if err != nil {
		return formatProcessingError(err, audioPath)
	}

	return writeTranscript(out, result, segments, format)
}

func writeTranscript(out io.Writer, result *model.TranscriptionResult, segments []model.Segment, format string) error {
	switch format {
	case "json":
		payload := struct {
			Text     string          `json:"text"`
			Duration float64         `json:"duration"`
			Language string          `json:"language"`
			Segments []model.Segment `json:"segments"`
		}{
			Text:     result.Text,
			Duration: result.Duration,
			Language: result.Language,
			Segments: segments,
		}
		jsonData, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		fmt.Fprintln(out, string(jsonData))

	case "srt":
		fmt.Fprint(out, formatSegmentsAsSRT(segments))

	default:
		fmt.Fprintf(out, "✅ Transcription completed!\n")
		fmt.Fprintf(out, "Detected Language: %s\n", result.Language)
		fmt.Fprintf(out, "Duration: %s\n", formatSecondsToTime(result.Duration))
		fmt.Fprintf(out, "ℹ️  Results not saved to database (dry-run mode)\n\n")
		fmt.Fprintf(out, "Full Text:\n%s\n\n", result.Text)
		fmt.Fprintf(out, "--- Segments (%d) ---\n", len(segments))
		for _, s := range segments {
			fmt.Fprintf(out, "[%s -> %s] %s\n", formatSecondsToTime(s.StartTime), formatSecondsToTime(s.EndTime), s.Text)
		}
	}

	return nil
}
