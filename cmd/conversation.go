package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/voxrefine/cmd/audio"
	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// conversationCmd represents the conversation command
var conversationCmd = &cobra.Command{
	Use:   "conversation",
	Short: "Conversation operations",
	Long:  `Operations for managing conversations. Audio units belong to a conversation, whose topic and confirmed messages guide refinement.`,
}

// conversationCreateCmd creates a conversation
var conversationCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		rt, err := audio.NewServiceFactory().Open(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		conversation := &model.Conversation{
			ID:        uuid.NewString(),
			Topic:     strings.TrimSpace(topic),
			CreatedAt: time.Now().UTC(),
		}
		if err := rt.Conversations.Create(ctx, conversation); err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✅ Conversation created: %s\n", conversation.ID)
		return nil
	},
}

// conversationGetCmd shows a conversation
var conversationGetCmd = &cobra.Command{
	Use:   "get [CONVERSATION_ID]",
	Short: "Show a conversation and its refinement context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		rt, err := audio.NewServiceFactory().Open(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		conversation, err := rt.Conversations.GetByID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get conversation: %w", err)
		}

		result, err := json.MarshalIndent(conversation, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, string(result))

		if refinementContext := rt.Conversations.ContextFor(ctx, conversation.ID); refinementContext != "" {
			fmt.Fprintf(out, "\nRefinement context:\n%s", refinementContext)
		}
		return nil
	},
}

func init() {
	conversationCreateCmd.Flags().String("topic", "", "Conversation topic used as refinement context")

	conversationCmd.AddCommand(conversationCreateCmd)
	conversationCmd.AddCommand(conversationGetCmd)
	rootCmd.AddCommand(conversationCmd)
}
