package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"huddle/internal/store"
)

// cliDBWithChat creates a database pre-seeded with chat rows for one room.
func cliDBWithChat(t *testing.T, roomID string, messages ...string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "huddle.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	for i, msg := range messages {
		row := store.ChatRow{RoomID: roomID, SenderName: "Alice", Message: msg, TS: int64(1_700_000_000_000 + i)}
		if _, err := st.InsertChat(context.Background(), row); err != nil {
			t.Fatalf("InsertChat: %v", err)
		}
	}
	return dbPath
}

func TestRunCLINoArgs(t *testing.T) {
	handled, err := RunCLI(nil, "unused.db", &bytes.Buffer{})
	if handled || err != nil {
		t.Fatalf("expected unhandled, got %v %v", handled, err)
	}
	handled, _ = RunCLI([]string{"serve"}, "unused.db", &bytes.Buffer{})
	if handled {
		t.Fatal("unknown subcommand must fall through to the server")
	}
}

func TestRunCLIVersion(t *testing.T) {
	var out bytes.Buffer
	handled, err := RunCLI([]string{"version"}, "unused.db", &out)
	if !handled || err != nil {
		t.Fatalf("version: %v %v", handled, err)
	}
	if !strings.Contains(out.String(), Version) {
		t.Fatalf("output %q missing version", out.String())
	}
}

func TestRunCLIRooms(t *testing.T) {
	dbPath := cliDBWithChat(t, "standup", "one", "two")

	var out bytes.Buffer
	if _, err := RunCLI([]string{"rooms"}, dbPath, &out); err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if !strings.Contains(out.String(), "standup") || !strings.Contains(out.String(), "2") {
		t.Fatalf("unexpected rooms output:\n%s", out.String())
	}

	empty := filepath.Join(t.TempDir(), "empty.db")
	out.Reset()
	if _, err := RunCLI([]string{"rooms"}, empty, &out); err != nil {
		t.Fatalf("rooms on empty db: %v", err)
	}
	if !strings.Contains(out.String(), "No archived rooms") {
		t.Fatalf("unexpected empty output %q", out.String())
	}
}

func TestRunCLIHistory(t *testing.T) {
	dbPath := cliDBWithChat(t, "r1", "first", "second", "third")

	var out bytes.Buffer
	if _, err := RunCLI([]string{"history", "r1", "2"}, dbPath, &out); err != nil {
		t.Fatalf("history: %v", err)
	}
	text := out.String()
	if strings.Contains(text, "first") || !strings.Contains(text, "second") || !strings.Contains(text, "third") {
		t.Fatalf("unexpected history output:\n%s", text)
	}

	if _, err := RunCLI([]string{"history"}, dbPath, &out); err == nil {
		t.Fatal("history without room should fail")
	}
	if _, err := RunCLI([]string{"history", "r1", "zero"}, dbPath, &out); err == nil {
		t.Fatal("invalid limit should fail")
	}
}
