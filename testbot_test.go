package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"huddle/internal/core"
	"huddle/internal/peer"
	"huddle/internal/protocol"
	"huddle/internal/relay"
	"huddle/internal/signalclient"
	"huddle/internal/ws"

	"github.com/labstack/echo/v4"
)

type nullConn struct{}

func (nullConn) CreateOffer() (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"bot"}`), nil
}

func (nullConn) AcceptOffer(json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"bot"}`), nil
}

func (nullConn) SetAnswer(json.RawMessage) error    { return nil }
func (nullConn) AddCandidate(json.RawMessage) error { return nil }
func (nullConn) Close() error                       { return nil }

func nullFactory(string, peer.Events) (peer.Conn, error) { return nullConn{}, nil }

func TestTestBotGreetsAndAnswersPing(t *testing.T) {
	rl := relay.New(core.NewRegistry(), core.NewSessions())
	e := echo.New()
	ws.NewHandler(rl).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		_ = runTestBotOnce(ctx, srv.URL, "lobby", "bot", nullFactory)
	}()

	human, err := signalclient.Dial(ctx, srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer human.Close()
	if err := human.JoinRoom("lobby", "human"); err != nil {
		t.Fatalf("join: %v", err)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case <-ticker.C:
			if err := human.SendChat("lobby", "human", "!ping"); err != nil {
				t.Fatalf("send chat: %v", err)
			}
		case env, ok := <-human.Incoming():
			if !ok {
				t.Fatal("connection closed before pong")
			}
			if env.Type != protocol.TypeChat {
				continue
			}
			var msg protocol.ChatBroadcast
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				t.Fatalf("decode chat: %v", err)
			}
			if msg.Name == "bot" && msg.Message == "pong" {
				cancel()
				<-botDone
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for pong")
		}
	}
}

func TestLocalURL(t *testing.T) {
	if got := localURL(":8080"); got != "http://127.0.0.1:8080" {
		t.Fatalf("localURL(:8080) = %q", got)
	}
	if got := localURL("0.0.0.0:9000"); got != "http://0.0.0.0:9000" {
		t.Fatalf("localURL(0.0.0.0:9000) = %q", got)
	}
}
