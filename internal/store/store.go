package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store archives chat and advice results in SQLite. Live room state is held in
// memory by core.Registry; nothing here is read back into it.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY under
	// concurrent chat archiving.
	db.SetMaxOpenConns(1)

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT NOT NULL,
	sender_conn TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	message TEXT NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, ts);

CREATE TABLE IF NOT EXISTS advice_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	response TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_advice_log_room ON advice_log(room_id, created_at_unix_ms);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}

// ChatRow is an archived chat message.
type ChatRow struct {
	ID         int64
	RoomID     string
	SenderConn string
	SenderName string
	Message    string
	TS         int64
}

// InsertChat archives one chat message and returns its row id.
func (s *Store) InsertChat(ctx context.Context, row ChatRow) (int64, error) {
	if strings.TrimSpace(row.RoomID) == "" {
		return 0, fmt.Errorf("room id is required")
	}
	if row.TS == 0 {
		row.TS = time.Now().UnixMilli()
	}

	const q = `INSERT INTO chat_messages (room_id, sender_conn, sender_name, message, ts) VALUES (?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, q, row.RoomID, row.SenderConn, row.SenderName, row.Message, row.TS)
	if err != nil {
		return 0, fmt.Errorf("insert chat message: %w", err)
	}
	id, _ := result.LastInsertId()
	slog.Debug("chat archived", "msg_id", id, "room_id", row.RoomID, "conn_id", row.SenderConn)
	return id, nil
}

// RecentChat returns the newest archived messages for a room, oldest first.
func (s *Store) RecentChat(ctx context.Context, roomID string, limit int) ([]ChatRow, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, room_id, sender_conn, sender_name, message, ts
FROM chat_messages
WHERE room_id = ?
ORDER BY ts DESC, id DESC
LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, q, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var out []ChatRow
	for rows.Next() {
		var m ChatRow
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderConn, &m.SenderName, &m.Message, &m.TS); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	// Reverse to oldest-first order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	slog.Debug("chat history loaded", "room_id", roomID, "count", len(out))
	return out, nil
}

// AdviceRow is one recorded advisory request.
type AdviceRow struct {
	ID        int64
	RoomID    string
	Prompt    string
	Response  string
	Error     string
	CreatedAt time.Time
}

// InsertAdvice records the outcome of an advisory request.
func (s *Store) InsertAdvice(ctx context.Context, row AdviceRow) (int64, error) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO advice_log (room_id, prompt, response, error, created_at_unix_ms) VALUES (?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, q, row.RoomID, row.Prompt, row.Response, row.Error, row.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert advice: %w", err)
	}
	id, _ := result.LastInsertId()
	slog.Debug("advice archived", "advice_id", id, "room_id", row.RoomID, "failed", row.Error != "")
	return id, nil
}

// AdviceCount returns how many advisory requests were recorded for a room.
func (s *Store) AdviceCount(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM advice_log WHERE room_id = ?`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count advice: %w", err)
	}
	return n, nil
}

// ArchivedRoom summarises the archive for one room.
type ArchivedRoom struct {
	RoomID   string
	Messages int
	LastTS   int64
}

// Rooms lists every room with archived chat, most recently active first.
func (s *Store) Rooms(ctx context.Context) ([]ArchivedRoom, error) {
	const q = `
SELECT room_id, COUNT(*), MAX(ts)
FROM chat_messages
GROUP BY room_id
ORDER BY MAX(ts) DESC, room_id
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query archived rooms: %w", err)
	}
	defer rows.Close()

	var out []ArchivedRoom
	for rows.Next() {
		var r ArchivedRoom
		if err := rows.Scan(&r.RoomID, &r.Messages, &r.LastTS); err != nil {
			return nil, fmt.Errorf("scan archived room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
