package main

import (
	"context"
	"log/slog"
	"time"

	"huddle/internal/relay"
)

// RunMetrics logs relay stats every interval until ctx is canceled.
func RunMetrics(ctx context.Context, r *relay.Relay, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logMetrics(r)
		}
	}
}

func logMetrics(r *relay.Relay) {
	conns := r.ConnectionCount()
	rooms := r.Registry().Rooms()
	if conns == 0 && len(rooms) == 0 {
		return
	}
	participants, chat := 0, 0
	for _, rm := range rooms {
		participants += rm.Participants
		chat += rm.ChatLength
	}
	slog.Info("metrics",
		"connections", conns,
		"rooms", len(rooms),
		"participants", participants,
		"buffered_chat", chat,
	)
}
