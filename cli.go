package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"huddle/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RunCLI handles subcommand execution. It returns handled=false when args do
// not name a subcommand so the caller starts the server instead.
func RunCLI(args []string, dbPath string, out io.Writer) (handled bool, err error) {
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(out, "huddle server %s\n", Version)
		return true, nil
	case "rooms":
		return true, cliRooms(dbPath, out)
	case "history":
		return true, cliHistory(args[1:], dbPath, out)
	default:
		return false, nil
	}
}

func cliRooms(dbPath string, out io.Writer) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	rooms, err := st.Rooms(context.Background())
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Fprintln(out, "No archived rooms.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Room", "Messages", "Last message"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.RoomID, r.Messages, formatTS(r.LastTS)})
	}
	t.Render()
	return nil
}

func cliHistory(args []string, dbPath string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: huddle history <room> [limit]")
	}
	roomID := args[0]
	limit := 20
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", args[1])
		}
		limit = n
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	rows, err := st.RecentChat(ctx, roomID, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(out, "No archived chat for room %q.\n", roomID)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Room " + roomID)
	t.AppendHeader(table.Row{"Time", "Name", "Message"})
	for _, r := range rows {
		t.AppendRow(table.Row{formatTS(r.TS), r.SenderName, r.Message})
	}
	advice, err := st.AdviceCount(ctx, roomID)
	if err != nil {
		return err
	}
	t.AppendFooter(table.Row{"", "advice requests", advice})
	t.Render()
	return nil
}

func formatTS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}
