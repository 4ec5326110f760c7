package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/tui"
)

func newTUICmd(rt *runtime) *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal chat view",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.setupLogger(true); err != nil {
				return err
			}
			ctx := cmd.Context()

			a, cleanup, err := rt.start(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Bootstrap(ctx); err != nil {
				rt.log.Warn("initial load failed", zap.Error(err))
			}
			if conversationID != "" {
				if err := a.Controller.SelectConversation(ctx, conversationID); err != nil {
					return fmt.Errorf("failed to open conversation: %w", err)
				}
			}

			m := tui.New(ctx, a.Controller, a.Scroll)
			defer m.Close()

			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("error running program: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation to open on start")
	return cmd
}
