package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"huddle/internal/protocol"
	"huddle/internal/ui"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type roomSummary struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
	ChatLength   int    `json:"chatLength"`
}

type roomDetail struct {
	ID           string                   `json:"id"`
	Participants []protocol.PeerInfo      `json:"participants"`
	Chat         []protocol.ChatBroadcast `json:"chat"`
}

type archivedMessage struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

func newRoomsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List live rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiFor(g)
			if err != nil {
				return err
			}
			var resp struct {
				Rooms []roomSummary `json:"rooms"`
			}
			if err := api.get(cmd.Context(), "/api/rooms", &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Rooms) == 0 {
				fmt.Fprintln(out, ui.MutedStyle.Render("No live rooms."))
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Room", "Participants", "Chat"})
			for _, r := range resp.Rooms {
				t.AppendRow(table.Row{r.ID, r.Participants, r.ChatLength})
			}
			t.Render()
			return nil
		},
	}
}

func newRoomCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "room <room-id>",
		Short: "Show who is in a room and its recent chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiFor(g)
			if err != nil {
				return err
			}
			var room roomDetail
			path := "/api/rooms/" + url.PathEscape(args[0]) + "?limit=" + strconv.Itoa(limit)
			if err := api.get(cmd.Context(), path, &room); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.TitleStyle.Render("Room "+room.ID))
			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Name", "Socket"})
			for _, p := range room.Participants {
				t.AppendRow(table.Row{p.Name, p.SocketID})
			}
			t.Render()

			for _, m := range room.Chat {
				fmt.Fprintln(out, ui.ChatLine(clock(m.TS), m.Name, m.Message))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Chat messages to show (max 200)")
	return cmd
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <room-id>",
		Short: "Show archived chat for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiFor(g)
			if err != nil {
				return err
			}
			var resp struct {
				RoomID   string            `json:"roomId"`
				Messages []archivedMessage `json:"messages"`
			}
			path := "/api/rooms/" + url.PathEscape(args[0]) + "/history?limit=" + strconv.Itoa(limit)
			if err := api.get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Messages) == 0 {
				fmt.Fprintln(out, ui.MutedStyle.Render("No archived chat."))
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleRounded)
			t.SetTitle("Room " + resp.RoomID)
			t.AppendHeader(table.Row{"Time", "Name", "Message"})
			for _, m := range resp.Messages {
				t.AppendRow(table.Row{time.UnixMilli(m.TS).UTC().Format("2006-01-02 15:04:05"), m.Name, m.Message})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Messages to show (max 200)")
	return cmd
}

func apiFor(g *globalFlags) (*apiClient, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return newAPIClient(cfg.ServerURL)
}

func clock(ms int64) string {
	return time.UnixMilli(ms).Local().Format("15:04:05")
}
