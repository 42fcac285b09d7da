package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "huddle.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("   "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "huddle.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := st.InsertChat(context.Background(), ChatRow{RoomID: "r1", SenderName: "a", Message: "hi", TS: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = st.Close()

	st, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	rows, err := st.RecentChat(context.Background(), "r1", 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected archived row to survive reopen, got %d rows err=%v", len(rows), err)
	}
}

func TestInsertAndRecentChat(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		id, err := st.InsertChat(ctx, ChatRow{
			RoomID:     "r1",
			SenderConn: "c1",
			SenderName: "Alice",
			Message:    string(rune('a' + i - 1)),
			TS:         int64(1000 + i),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if id <= 0 {
			t.Fatalf("expected positive row id, got %d", id)
		}
	}
	if _, err := st.InsertChat(ctx, ChatRow{RoomID: "r2", SenderName: "Bob", Message: "other", TS: 5000}); err != nil {
		t.Fatalf("insert r2: %v", err)
	}

	rows, err := st.RecentChat(ctx, "r1", 3)
	if err != nil {
		t.Fatalf("recent chat: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, want := range []string{"c", "d", "e"} {
		if rows[i].Message != want {
			t.Fatalf("rows[%d]=%q want %q", i, rows[i].Message, want)
		}
	}
}

func TestInsertChatRequiresRoom(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if _, err := st.InsertChat(context.Background(), ChatRow{Message: "x"}); err == nil {
		t.Fatal("expected error for missing room id")
	}
}

func TestAdviceLog(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.InsertAdvice(ctx, AdviceRow{RoomID: "r1", Prompt: "p", Response: "ok", CreatedAt: time.UnixMilli(1)}); err != nil {
		t.Fatalf("insert advice: %v", err)
	}
	if _, err := st.InsertAdvice(ctx, AdviceRow{RoomID: "r1", Prompt: "p", Error: "upstream 500"}); err != nil {
		t.Fatalf("insert failed advice: %v", err)
	}

	n, err := st.AdviceCount(ctx, "r1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 advice rows, got %d", n)
	}
	if n, _ := st.AdviceCount(ctx, "nope"); n != 0 {
		t.Fatalf("expected 0 for unknown room, got %d", n)
	}
}

func TestArchivedRoomsOrderedByActivity(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	inserts := []ChatRow{
		{RoomID: "old", SenderName: "a", Message: "1", TS: 100},
		{RoomID: "new", SenderName: "b", Message: "2", TS: 300},
		{RoomID: "old", SenderName: "a", Message: "3", TS: 200},
	}
	for _, row := range inserts {
		if _, err := st.InsertChat(ctx, row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rooms, err := st.Rooms(ctx)
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %#v", rooms)
	}
	if rooms[0].RoomID != "new" || rooms[1].RoomID != "old" || rooms[1].Messages != 2 || rooms[1].LastTS != 200 {
		t.Fatalf("unexpected archived rooms: %#v", rooms)
	}
}
