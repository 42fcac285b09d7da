package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"huddle/internal/participant"
	"huddle/internal/peer"
	"huddle/internal/protocol"
	"huddle/internal/ui"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// joinFactory replaces the pion connection factory when set.
var joinFactory peer.Factory

// syncWriter serializes output from the relay loop, the peer observer and stdin.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func newJoinCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "join <room-id>",
		Aliases: []string{"j"},
		Short:   "Join a room as a headless participant",
		Long: `Join a room, negotiate a WebRTC connection with every other participant and
chat from standard input. Remote media is received and discarded.

Commands while joined:
  /peers   list peer connections
  /quit    leave the room`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			return runJoin(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), participant.Options{
				ServerURL: cfg.ServerURL,
				RoomID:    args[0],
				Name:      cfg.Name,
				ICE:       cfg.ICE(),
				Factory:   joinFactory,
			})
		},
	}
}

func runJoin(ctx context.Context, in io.Reader, stdout, stderr io.Writer, opts participant.Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := &syncWriter{w: stdout}
	opts.Observer = func(e peer.Entry) {
		fmt.Fprintln(out, ui.MutedStyle.Render(fmt.Sprintf("%s %s: %s", ui.IconPeer, e.RemoteName, e.State)))
	}

	sp := ui.NewConnectionSpinner(stderr, "Connecting to "+opts.ServerURL+"...")
	sp.Start()
	p, err := participant.Join(ctx, opts)
	sp.Stop()
	if err != nil {
		return err
	}
	defer p.Close()

	ui.PrintSuccess(out, fmt.Sprintf("Joined %s as %s. Type to chat, /peers to list peers, /quit to leave.", opts.RoomID, opts.Name))

	runErr := make(chan error, 1)
	go func() {
		runErr <- p.Run(ctx, func(env protocol.Envelope) { printEvent(out, env) })
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line = strings.TrimSpace(line); line {
			case "":
			case "/quit":
				return nil
			case "/peers":
				printPeers(out, p.Peers().Entries())
			default:
				if err := p.Chat(line); err != nil {
					return err
				}
			}
		}
	}
}

func printEvent(w io.Writer, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypePeers:
		var m protocol.Peers
		if json.Unmarshal(env.Data, &m) != nil {
			return
		}
		names := make([]string, 0, len(m.Peers))
		for _, p := range m.Peers {
			names = append(names, p.Name)
		}
		if len(names) == 0 {
			fmt.Fprintln(w, ui.MutedStyle.Render("You are the first one here."))
			return
		}
		fmt.Fprintln(w, ui.MutedStyle.Render("Already here: "+strings.Join(names, ", ")))
	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		var m protocol.PeerInfo
		if json.Unmarshal(env.Data, &m) != nil {
			return
		}
		verb := "joined"
		if env.Type == protocol.TypeUserLeft {
			verb = "left"
		}
		fmt.Fprintln(w, ui.MutedStyle.Render(fmt.Sprintf("%s %s %s", ui.IconPeer, m.Name, verb)))
	case protocol.TypeChat:
		var m protocol.ChatBroadcast
		if json.Unmarshal(env.Data, &m) != nil {
			return
		}
		fmt.Fprintln(w, ui.ChatLine(clock(m.TS), m.Name, m.Message))
	case protocol.TypeLinkPreview:
		var m protocol.LinkPreview
		if json.Unmarshal(env.Data, &m) != nil {
			return
		}
		title := m.Title
		if title == "" {
			title = m.URL
		}
		fmt.Fprintln(w, ui.MutedStyle.Render(fmt.Sprintf("%s %s", ui.IconLink, title)))
	case protocol.TypeError:
		var m protocol.Error
		if json.Unmarshal(env.Data, &m) != nil {
			return
		}
		ui.PrintWarning(w, m.Error)
	}
}

func printPeers(w io.Writer, entries []peer.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, ui.MutedStyle.Render("No peers."))
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "ID", "State"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.RemoteName, e.RemoteID, e.State.String()})
	}
	t.Render()
}
