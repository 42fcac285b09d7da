package core

import (
	"log/slog"
	"sync"
	"time"

	"huddle/internal/protocol"

	"github.com/google/uuid"
)

// SendTimeout bounds how long a write to one subscriber may block.
const SendTimeout = 50 * time.Millisecond

// Session represents one connected transport session.
type Session struct {
	ConnID string
	Send   chan protocol.Envelope
}

// Sessions maps connection ids to their outbound queues. It is independent of
// the transport that drains each queue.
type Sessions struct {
	mu    sync.RWMutex
	queue map[string]chan protocol.Envelope
}

// NewSessions returns an empty session table.
func NewSessions() *Sessions {
	return &Sessions{queue: make(map[string]chan protocol.Envelope)}
}

// Open registers a new session with a fresh connection id.
func (s *Sessions) Open(sendBuf int) *Session {
	if sendBuf <= 0 {
		sendBuf = 64
	}
	id := uuid.NewString()
	ch := make(chan protocol.Envelope, sendBuf)

	s.mu.Lock()
	s.queue[id] = ch
	count := len(s.queue)
	s.mu.Unlock()

	slog.Debug("session opened", "conn_id", id, "sessions", count)
	return &Session{ConnID: id, Send: ch}
}

// Close unregisters a session and closes its queue. Closing twice is a no-op.
func (s *Sessions) Close(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.queue[connID]
	if !ok {
		return false
	}
	delete(s.queue, connID)
	close(ch)
	slog.Debug("session closed", "conn_id", connID, "sessions", len(s.queue))
	return true
}

// SendTo queues env for one connection. Unknown recipients are absorbed.
func (s *Sessions) SendTo(connID string, env protocol.Envelope) bool {
	s.mu.RLock()
	ch, ok := s.queue[connID]
	s.mu.RUnlock()
	if !ok {
		slog.Debug("send to unknown connection", "conn_id", connID, "type", env.Type)
		return false
	}
	return trySend(ch, env)
}

// Count returns the number of open sessions.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queue)
}

func trySend(ch chan protocol.Envelope, env protocol.Envelope) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	timer := time.NewTimer(SendTimeout)
	defer timer.Stop()

	select {
	case ch <- env:
		return true
	case <-timer.C:
		slog.Debug("trySend timeout", "type", env.Type)
		return false
	}
}
