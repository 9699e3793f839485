package audio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// Processor is the part of the pipeline the audio commands drive
type Processor interface {
	Submit(ctx context.Context, conversationID, audioRef string) (*model.AudioUnit, error)
	Status(ctx context.Context, unitID string) (*model.StatusProjection, error)
	RetryTranscription(ctx context.Context, unitID string) error
	RetryRefinement(ctx context.Context, unitID string) error
	Confirm(ctx context.Context, unitID, content string) error
}

// ProcessorProvider opens a Processor. wait selects inline execution.
type ProcessorProvider func(ctx context.Context, wait bool) (Processor, func(), error)

// NewAudioCmd creates and returns the audio command
func NewAudioCmd(provider ProcessorProvider) *cobra.Command {
	audioCmd := &cobra.Command{
		Use:   "audio",
		Short: "Submit and manage audio units",
		Long:  `Submit voice input for transcription and refinement, inspect progress, retry failed stages and confirm content.`,
	}

	audioCmd.AddCommand(NewSubmitCommand(provider))
	audioCmd.AddCommand(NewStatusCommand(provider))
	audioCmd.AddCommand(NewRetryCommand(provider))
	audioCmd.AddCommand(NewConfirmCommand(provider))
	audioCmd.AddCommand(NewTranscribeCommand())

	return audioCmd
}

// NewSubmitCommand creates the audio submit command
func NewSubmitCommand(provider ProcessorProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit [MEDIA_REF]",
		Short: "Submit stored audio for processing",
		Long: `Create an audio unit for a stored upload. Without --wait the unit stays pending
until 'voxrefine worker' picks it up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, _ := cmd.Flags().GetString("conversation")
			wait, _ := cmd.Flags().GetBool("wait")
			format, _ := cmd.Flags().GetString("format")

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout(wait))
			defer cancel()

			processor, closeFn, err := provider(ctx, wait)
			if err != nil {
				return err
			}
			defer closeFn()

			unit, err := processor.Submit(ctx, conversationID, args[0])
			if err != nil {
				return formatProcessingError(err, args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Audio unit submitted: %s\n", unit.ID)
			return printStatus(cmd, unit.Projection(), format)
		},
	}

	cmd.Flags().StringP("conversation", "c", "", "Conversation ID the audio belongs to")
	cmd.Flags().BoolP("wait", "w", false, "Process inline and wait for the result")
	cmd.Flags().StringP("format", "f", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("conversation")

	return cmd
}

// NewStatusCommand creates the audio status command
func NewStatusCommand(provider ProcessorProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [UNIT_ID]",
		Short: "Show processing status of an audio unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			processor, closeFn, err := provider(ctx, false)
			if err != nil {
				return err
			}
			defer closeFn()

			status, err := processor.Status(ctx, args[0])
			if err != nil {
				return formatProcessingError(err, args[0])
			}
			return printStatus(cmd, status, format)
		},
	}

	cmd.Flags().StringP("format", "f", "text", "Output format: text, json")

	return cmd
}

// NewRetryCommand creates the audio retry command
func NewRetryCommand(provider ProcessorProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [UNIT_ID]",
		Short: "Retry one processing stage",
		Long: `Reset a failed or completed stage to pending and run it again. Retrying
transcription re-runs refinement on success; retrying refinement never re-transcribes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageName, _ := cmd.Flags().GetString("stage")
			wait, _ := cmd.Flags().GetBool("wait")
			format, _ := cmd.Flags().GetString("format")

			stage, ok := model.ParseStage(strings.ToLower(stageName))
			if !ok {
				return fmt.Errorf("unsupported stage: %s (supported: transcription, refinement)", stageName)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout(wait))
			defer cancel()

			processor, closeFn, err := provider(ctx, wait)
			if err != nil {
				return err
			}
			defer closeFn()

			if stage == model.StageRefinement {
				err = processor.RetryRefinement(ctx, args[0])
			} else {
				err = processor.RetryTranscription(ctx, args[0])
			}
			if err != nil {
				return formatProcessingError(err, args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "🔁 Retrying %s for %s\n", stage, args[0])

			status, err := processor.Status(ctx, args[0])
			if err != nil {
				return formatProcessingError(err, args[0])
			}
			return printStatus(cmd, status, format)
		},
	}

	cmd.Flags().StringP("stage", "s", string(model.StageTranscription), "Stage to retry: transcription, refinement")
	cmd.Flags().BoolP("wait", "w", false, "Process inline and wait for the result")
	cmd.Flags().StringP("format", "f", "text", "Output format: text, json")

	return cmd
}

// NewConfirmCommand creates the audio confirm command
func NewConfirmCommand(provider ProcessorProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm [UNIT_ID]",
		Short: "Confirm the final content of an audio unit",
		Long:  `Store user-approved text as the unit's content. Refinement does not need to have completed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, _ := cmd.Flags().GetString("content")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			processor, closeFn, err := provider(ctx, false)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := processor.Confirm(ctx, args[0], content); err != nil {
				return formatProcessingError(err, args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Content confirmed for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().String("content", "", "Confirmed text")
	_ = cmd.MarkFlagRequired("content")

	return cmd
}

func commandTimeout(wait bool) time.Duration {
	if wait {
		return 30 * time.Minute
	}
	return 30 * time.Second
}

func printStatus(cmd *cobra.Command, status *model.StatusProjection, format string) error {
	formatter, err := NewStatusFormatter(format)
	if err != nil {
		return err
	}
	output, err := formatter.Format(status)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}
