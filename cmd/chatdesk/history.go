package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/pagination"
)

func newHistoryCmd(rt *runtime) *cobra.Command {
	var (
		pageSize int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "Print the full history of a conversation",
		Args:  cobra.ExactArgs(1),
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

			if pageSize <= 0 {
				pageSize = rt.cfg.TitlePageSize
			}

			var pages [][]model.Message
			_, err = a.Pages.Walk(ctx, args[0], pageSize, func(p *pagination.Page) error {
				pages = append(pages, p.Messages)
				return nil
			})
			if err != nil {
				return err
			}

			// Pages arrive newest first.
			var msgs []model.Message
			for i := len(pages) - 1; i >= 0; i-- {
				msgs = append(msgs, pages[i]...)
			}
			return printHistory(cmd.OutOrStdout(), msgs, asJSON)
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Ids fetched per page (defaults to title_page_size)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print messages as JSON lines")
	return cmd
}

func printHistory(w io.Writer, msgs []model.Message, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, m := range msgs {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	}
	for _, m := range msgs {
		if _, err := fmt.Fprintf(w, "[%s] %s\n\n", m.Role, m.Content); err != nil {
			return err
		}
	}
	return nil
}
