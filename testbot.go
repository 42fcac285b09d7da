package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"huddle/internal/participant"
	"huddle/internal/peer"
	"huddle/internal/protocol"
)

const testBotRetry = 500 * time.Millisecond

// RunTestBot joins roomID as a headless participant that answers every offer
// and discards incoming media. It replies "pong" to chat messages reading
// "!ping". The bot reconnects until ctx is canceled.
func RunTestBot(ctx context.Context, serverURL, roomID, name string) {
	for {
		if err := runTestBotOnce(ctx, serverURL, roomID, name, nil); err != nil {
			slog.Debug("testbot disconnected", "room_id", roomID, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(testBotRetry):
		}
	}
}

func runTestBotOnce(ctx context.Context, serverURL, roomID, name string, factory peer.Factory) error {
	p, err := participant.Join(ctx, participant.Options{
		ServerURL: serverURL,
		RoomID:    roomID,
		Name:      name,
		Factory:   factory,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	slog.Info("testbot joined", "room_id", roomID, "name", name)
	if err := p.Chat("hello from " + name); err != nil {
		return err
	}

	return p.Run(ctx, func(env protocol.Envelope) {
		if env.Type != protocol.TypeChat {
			return
		}
		var msg protocol.ChatBroadcast
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.Name == name {
			return
		}
		if strings.TrimSpace(msg.Message) == "!ping" {
			if err := p.Chat("pong"); err != nil {
				slog.Warn("testbot reply", "err", err)
			}
		}
	})
}
