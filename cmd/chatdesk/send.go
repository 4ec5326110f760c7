package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
)

func newSendCmd(rt *runtime) *cobra.Command {
	var (
		conversationID string
		modelID        string
	)

	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.setupLogger(false); err != nil {
				return err
			}
			ctx := cmd.Context()

			a, cleanup, err := rt.start(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			ctrl := a.Controller
			if err := ctrl.LoadModels(ctx); err != nil {
				rt.log.Warn("failed to load models", zap.Error(err))
			}
			if modelID != "" {
				if err := ctrl.SelectModel(modelID); err != nil {
					return err
				}
			}
			if conversationID != "" {
				if err := ctrl.SelectConversation(ctx, conversationID); err != nil {
					return fmt.Errorf("failed to open conversation: %w", err)
				}
			}

			if err := ctrl.Send(ctx, strings.Join(args, " ")); err != nil {
				return err
			}

			snap := ctrl.Snapshot()
			reply, ok := lastAssistant(snap.Messages)
			if !ok {
				return fmt.Errorf("no reply received")
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
			if conversationID == "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", snap.ActiveConversationID)
			}
			if reply.Failed {
				return fmt.Errorf("reply failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation to continue; a new one is created when empty")
	cmd.Flags().StringVar(&modelID, "model", "", "Model to generate with")
	return cmd
}

func lastAssistant(msgs []model.Message) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}
