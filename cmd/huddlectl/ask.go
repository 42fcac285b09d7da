package main

import (
	"fmt"
	"strings"

	"huddle/internal/advice"
	"huddle/internal/ui"

	"github.com/spf13/cobra"
)

func newAskCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <room-id> [question...]",
		Short: "Ask the meeting assistant about a room's conversation",
		Long: `Ask the server's meeting assistant for advice. The server adds the room's
recent chat as context. Without a question a general facilitation tip is requested.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiFor(g)
			if err != nil {
				return err
			}
			req := advice.Request{
				RoomID: args[0],
				Prompt: strings.TrimSpace(strings.Join(args[1:], " ")),
			}
			if len(req.Prompt) > advice.MaxPromptLength {
				return advice.ErrPromptTooLong
			}

			out := cmd.OutOrStdout()
			stop := ui.Run(cmd.ErrOrStderr(), "Asking the assistant...")
			var resp struct {
				Text string `json:"text"`
			}
			err = api.post(cmd.Context(), "/api/ai", req, &resp)
			stop()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, ui.AdviceBox(resp.Text))
			return nil
		},
	}
}
