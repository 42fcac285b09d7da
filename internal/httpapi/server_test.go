package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"huddle/internal/advice"
	"huddle/internal/core"
	"huddle/internal/relay"
	"huddle/internal/store"
)

type stubAdvisor struct {
	text string
	err  error
	got  advice.Request
}

func (s *stubAdvisor) Advise(_ context.Context, req advice.Request) (string, error) {
	s.got = req
	return s.text, s.err
}

func newRelay() *relay.Relay {
	return relay.New(core.NewRegistry(), core.NewSessions())
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "huddle.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func getJSON(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func postAdvice(t *testing.T, url string, body string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Post(url+"/api/ai", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /api/ai: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]string{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode advice response: %v", err)
	}
	return resp.StatusCode, out
}

func TestHealthAndRooms(t *testing.T) {
	r := newRelay()
	r.Registry().AddParticipant("r1", "c1", "Alice")
	r.Registry().AddParticipant("r1", "c2", "Bob")
	r.Registry().AddParticipant("r2", "c3", "Cy")
	r.Registry().AppendChat("r1", core.ChatMessage{SenderName: "Alice", Text: "hi", Timestamp: time.UnixMilli(1000)})
	s := r.Open(4)
	defer r.Disconnect(s.ConnID)

	ts := httptest.NewServer(New(r).Echo())
	defer ts.Close()

	var health healthResponse
	getJSON(t, ts.URL+"/health", http.StatusOK, &health)
	if health.Status != "ok" || health.Clients != 1 || health.Rooms != 2 {
		t.Fatalf("unexpected health payload: %#v", health)
	}

	var rooms roomsResponse
	getJSON(t, ts.URL+"/api/rooms", http.StatusOK, &rooms)
	if len(rooms.Rooms) != 2 || rooms.Rooms[0].ID != "r1" || rooms.Rooms[0].Participants != 2 || rooms.Rooms[0].ChatLength != 1 {
		t.Fatalf("unexpected rooms payload: %#v", rooms)
	}

	var room roomResponse
	getJSON(t, ts.URL+"/api/rooms/r1", http.StatusOK, &room)
	if len(room.Participants) != 2 || room.Participants[0].Name != "Alice" || room.Participants[1].SocketID != "c2" {
		t.Fatalf("unexpected participants: %#v", room.Participants)
	}
	if len(room.Chat) != 1 || room.Chat[0].Message != "hi" || room.Chat[0].TS != 1000 {
		t.Fatalf("unexpected chat: %#v", room.Chat)
	}

	getJSON(t, ts.URL+"/api/rooms/missing", http.StatusNotFound, nil)
	getJSON(t, ts.URL+"/api/rooms/r1?limit=abc", http.StatusBadRequest, nil)
}

func TestRoomChatLimit(t *testing.T) {
	r := newRelay()
	r.Registry().AddParticipant("r1", "c1", "Alice")
	for i := 0; i < 250; i++ {
		r.Registry().AppendChat("r1", core.ChatMessage{SenderName: "Alice", Text: "m"})
	}
	ts := httptest.NewServer(New(r).Echo())
	defer ts.Close()

	tests := []struct {
		query string
		want  int
	}{
		{"", defaultChatLimit},
		{"?limit=5", 5},
		{"?limit=1000", core.ChatCapacity},
	}
	for _, tt := range tests {
		var room roomResponse
		getJSON(t, ts.URL+"/api/rooms/r1"+tt.query, http.StatusOK, &room)
		if len(room.Chat) != tt.want {
			t.Fatalf("limit %q: got %d messages, want %d", tt.query, len(room.Chat), tt.want)
		}
	}
}

func TestHistoryFromArchive(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	for i, msg := range []string{"one", "two", "three"} {
		if _, err := st.InsertChat(ctx, store.ChatRow{RoomID: "r1", SenderName: "Alice", Message: msg, TS: int64(100 + i)}); err != nil {
			t.Fatalf("insert chat: %v", err)
		}
	}

	ts := httptest.NewServer(New(newRelay(), WithArchive(st)).Echo())
	defer ts.Close()

	var hist historyResponse
	getJSON(t, ts.URL+"/api/rooms/r1/history?limit=2", http.StatusOK, &hist)
	if hist.RoomID != "r1" || len(hist.Messages) != 2 || hist.Messages[0].Message != "two" || hist.Messages[1].Message != "three" {
		t.Fatalf("unexpected history: %#v", hist)
	}

	plain := httptest.NewServer(New(newRelay()).Echo())
	defer plain.Close()
	getJSON(t, plain.URL+"/api/rooms/r1/history", http.StatusServiceUnavailable, nil)
}

func TestAdviceEndpoint(t *testing.T) {
	st := openStore(t)
	adv := &stubAdvisor{text: "Ask Bob."}
	ts := httptest.NewServer(New(newRelay(), WithAdvisor(adv), WithArchive(st)).Echo())
	defer ts.Close()

	status, body := postAdvice(t, ts.URL, `{"roomId":"r1","prompt":"help","recentChat":[{"name":"Alice","message":"hi"}],"speakers":{"Alice":1}}`)
	if status != http.StatusOK || body["text"] != "Ask Bob." {
		t.Fatalf("unexpected response %d %v", status, body)
	}
	if adv.got.RoomID != "r1" || len(adv.got.RecentChat) != 1 || adv.got.Speakers["Alice"] != 1 {
		t.Fatalf("request not decoded: %#v", adv.got)
	}

	status, body = postAdvice(t, ts.URL, `{not json`)
	if status != http.StatusBadRequest || body["error"] == "" {
		t.Fatalf("expected 400 for malformed body, got %d %v", status, body)
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no credentials", advice.ErrNoCredentials, http.StatusServiceUnavailable},
		{"upstream status", &advice.UpstreamError{Status: 500, Body: "boom"}, http.StatusBadGateway},
		{"malformed", advice.ErrMalformedResponse, http.StatusBadGateway},
		{"too long", advice.ErrPromptTooLong, http.StatusBadRequest},
		{"network", errors.New("dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		adv.err, adv.text = tt.err, ""
		status, body := postAdvice(t, ts.URL, `{"roomId":"r1","prompt":"help"}`)
		if status != tt.want || body["error"] == "" {
			t.Fatalf("%s: got %d %v, want %d with error", tt.name, status, body, tt.want)
		}
	}

	n, err := st.AdviceCount(context.Background(), "r1")
	if err != nil {
		t.Fatalf("advice count: %v", err)
	}
	if n != 1+len(tests) {
		t.Fatalf("archived %d advice rows, want %d", n, 1+len(tests))
	}
}

func TestAdviceWithoutCredentialsEndToEnd(t *testing.T) {
	r := newRelay()
	gw := advice.NewGateway(advice.NewClient("", "", "", time.Second), advice.WithHistory(r.Registry()))
	ts := httptest.NewServer(New(r, WithAdvisor(gw)).Echo())
	defer ts.Close()

	status, body := postAdvice(t, ts.URL, `{"roomId":"r1","prompt":"help","recentChat":[],"speakers":{}}`)
	if status != http.StatusServiceUnavailable || !strings.Contains(body["error"], "API key") {
		t.Fatalf("expected 503 without credentials, got %d %v", status, body)
	}

	offline := advice.NewGateway(advice.NewClient("", "", "", time.Second), advice.WithOffline(true))
	ts2 := httptest.NewServer(New(r, WithAdvisor(offline)).Echo())
	defer ts2.Close()
	status, body = postAdvice(t, ts2.URL, `{"roomId":"r1","prompt":"help","recentChat":[],"speakers":{}}`)
	if status != http.StatusOK || !strings.Contains(body["text"], "no chat yet") || !strings.Contains(body["text"], "no data") {
		t.Fatalf("expected offline advice, got %d %v", status, body)
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>huddle</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	ts := httptest.NewServer(New(newRelay(), WithPublicDir(dir)).Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for index, got %d", resp.StatusCode)
	}
}
