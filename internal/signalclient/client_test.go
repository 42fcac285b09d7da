package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"huddle/internal/core"
	"huddle/internal/peer"
	"huddle/internal/protocol"
	"huddle/internal/relay"
	"huddle/internal/ws"

	"github.com/labstack/echo/v4"
)

var _ peer.Signaler = (*Client)(nil)

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws", false},
		{"https://huddle.example.com/", "wss://huddle.example.com/ws", false},
		{"localhost:8080", "ws://localhost:8080/ws", false},
		{"ws://host/custom", "ws://host/custom", false},
		{"ftp://host", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		got, err := WebSocketURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("WebSocketURL(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("WebSocketURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestClientsNegotiateThroughRelay(t *testing.T) {
	server := startRelay(t)

	alice := dialClient(t, server)
	if err := alice.JoinRoom("r1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	var alicePeers protocol.Peers
	await(t, alice, protocol.TypePeers, &alicePeers)

	bob := dialClient(t, server)
	if err := bob.JoinRoom("r1", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	var bobPeers protocol.Peers
	await(t, bob, protocol.TypePeers, &bobPeers)
	if len(bobPeers.Peers) != 1 || bobPeers.Peers[0].SocketID != alicePeers.SelfID {
		t.Fatalf("unexpected roster %#v", bobPeers)
	}

	desc := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	if err := bob.SendOffer(alicePeers.SelfID, desc, "Bob"); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	var offer protocol.Offer
	await(t, alice, protocol.TypeOffer, &offer)
	if offer.From != bobPeers.SelfID || offer.FromName != "Bob" {
		t.Fatalf("unexpected offer %#v", offer)
	}

	if err := alice.SendCandidate(bobPeers.SelfID, json.RawMessage(`{"candidate":"x"}`)); err != nil {
		t.Fatalf("send candidate: %v", err)
	}
	var cand protocol.ICECandidate
	await(t, bob, protocol.TypeICECandidate, &cand)
	if cand.From != alicePeers.SelfID || string(cand.Candidate) != `{"candidate":"x"}` {
		t.Fatalf("unexpected candidate %#v", cand)
	}

	if err := alice.SendChat("r1", "Alice", "hello"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	var chat protocol.ChatBroadcast
	await(t, bob, protocol.TypeChat, &chat)
	if chat.Message != "hello" || chat.Name != "Alice" {
		t.Fatalf("unexpected chat %#v", chat)
	}
}

func TestCloseEndsIncomingAndRejectsSend(t *testing.T) {
	server := startRelay(t)
	c := dialClient(t, server)

	if err := c.Ping(5); err != nil {
		t.Fatalf("ping: %v", err)
	}
	var pong protocol.Pong
	await(t, c, protocol.TypePong, &pong)
	if pong.TS != 5 {
		t.Fatalf("pong ts = %d", pong.TS)
	}

	c.Close()
	c.Close()
	if err := c.Send(protocol.Envelope{Type: protocol.TypePing}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-c.Incoming():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("incoming channel not closed")
		}
	}
}

func startRelay(t *testing.T) string {
	t.Helper()
	r := relay.New(core.NewRegistry(), core.NewSessions())
	e := echo.New()
	ws.NewHandler(r).Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv.URL
}

func dialClient(t *testing.T, server string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, server)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func await(t *testing.T, c *Client, typ string, v any) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-c.Incoming():
			if !ok {
				t.Fatalf("connection closed waiting for %s: %v", typ, c.Err())
			}
			if env.Type != typ {
				continue
			}
			if err := json.Unmarshal(env.Data, v); err != nil {
				t.Fatalf("decode %s: %v", typ, err)
			}
			return
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}
