package participant

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"huddle/internal/core"
	"huddle/internal/peer"
	"huddle/internal/protocol"
	"huddle/internal/relay"
	"huddle/internal/ws"

	"github.com/labstack/echo/v4"
)

type loopbackConn struct{}

func (loopbackConn) CreateOffer() (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (loopbackConn) AcceptOffer(json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (loopbackConn) SetAnswer(json.RawMessage) error    { return nil }
func (loopbackConn) AddCandidate(json.RawMessage) error { return nil }
func (loopbackConn) Close() error                       { return nil }

func loopbackFactory(string, peer.Events) (peer.Conn, error) {
	return loopbackConn{}, nil
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

func join(t *testing.T, ctx context.Context, server, name string, onEvent func(protocol.Envelope)) *Participant {
	t.Helper()
	p, err := Join(ctx, Options{ServerURL: server, RoomID: "r1", Name: name, Factory: loopbackFactory})
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	t.Cleanup(p.Close)
	go func() { _ = p.Run(ctx, onEvent) }()
	return p
}

func waitConnected(t *testing.T, p *Participant, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entries := p.Peers().Entries()
		connected := 0
		for _, e := range entries {
			if e.State == peer.Connected {
				connected++
			}
		}
		if connected == want && len(entries) == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %d connected peers, have %v", want, p.Peers().Entries())
}

func TestParticipantsNegotiateAndChat(t *testing.T) {
	server := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var chats []protocol.ChatBroadcast
	onEvent := func(env protocol.Envelope) {
		if env.Type != protocol.TypeChat {
			return
		}
		var c protocol.ChatBroadcast
		if json.Unmarshal(env.Data, &c) == nil {
			mu.Lock()
			chats = append(chats, c)
			mu.Unlock()
		}
	}

	alice := join(t, ctx, server, "Alice", onEvent)
	time.Sleep(100 * time.Millisecond)
	bob := join(t, ctx, server, "Bob", nil)

	waitConnected(t, alice, 1)
	waitConnected(t, bob, 1)
	if e := alice.Peers().Entries()[0]; e.RemoteName != "Bob" || e.RemoteID != bob.Peers().SelfID() {
		t.Fatalf("unexpected entry on Alice: %#v", e)
	}

	if err := bob.Chat("hello Alice"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(chats)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(chats) != 1 || chats[0].Name != "Bob" || chats[0].Message != "hello Alice" {
		t.Fatalf("unexpected chats %#v", chats)
	}
}

func TestParticipantLeaveClosesRemoteEntry(t *testing.T) {
	server := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := join(t, ctx, server, "Alice", nil)
	time.Sleep(100 * time.Millisecond)
	bob := join(t, ctx, server, "Bob", nil)
	waitConnected(t, alice, 1)

	bob.Close()
	waitConnected(t, alice, 0)
}

func TestJoinValidatesOptions(t *testing.T) {
	if _, err := Join(context.Background(), Options{ServerURL: "http://127.0.0.1:1", Name: "x"}); err == nil {
		t.Fatal("missing room should fail")
	}
}
