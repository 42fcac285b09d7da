// Command huddlectl joins huddle rooms from a terminal and queries a running
// huddle server.
package main

import (
	"log/slog"
	"os"

	"huddle/internal/logging"
)

func main() {
	logging.Init(slog.LevelWarn)
	os.Exit(Execute(os.Args[1:]))
}
