package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"huddle/internal/config"
	"huddle/internal/ui"

	"github.com/spf13/cobra"
)

// version is injected at build time with -ldflags.
var version = "0.1.0-dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	server     string
	name       string
	stun       string
	turn       string
	turnUser   string
	turnPass   string
	forceRelay bool
}

func (g *globalFlags) load() (*config.ClientConfig, error) {
	return config.LoadClient(config.ClientOptions{
		ServerURL:  g.server,
		Name:       g.name,
		STUN:       g.stun,
		TURN:       g.turn,
		TURNUser:   g.turnUser,
		TURNPass:   g.turnPass,
		ForceRelay: g.forceRelay,
	})
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "huddlectl",
		Short: "Terminal client for huddle rooms",
		Long: `huddlectl joins huddle video rooms as a headless participant, chats from the
terminal and queries a running huddle server.

Examples:
  huddlectl rooms
  huddlectl join standup --name Alice
  huddlectl ask standup "how do we keep this meeting short?"`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.server, "server", "s", "", "Server URL (env HUDDLE_SERVER)")
	pf.StringVarP(&g.name, "name", "n", "", "Display name (env HUDDLE_NAME)")
	pf.StringVar(&g.stun, "stun", "", "Comma separated STUN servers (env STUN_SERVER)")
	pf.StringVar(&g.turn, "turn", "", "Comma separated TURN servers (env TURN_SERVER)")
	pf.StringVar(&g.turnUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	pf.StringVar(&g.turnPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	pf.BoolVar(&g.forceRelay, "force-relay", false, "Only use TURN relay candidates")

	root.AddCommand(
		newJoinCmd(g),
		newAskCmd(g),
		newRoomsCmd(g),
		newRoomCmd(g),
		newHistoryCmd(g),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(os.Stdin, os.Stdout)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		ui.PrintError(os.Stderr, err.Error())
		return 1
	}
	return 0
}
