package core

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ChatCapacity bounds the chat history kept per room. Older entries are evicted first.
const ChatCapacity = 200

// Participant is one connection's membership in a room.
type Participant struct {
	ConnID string
	Name   string
}

// ChatMessage is an immutable chat entry kept in a room's history.
type ChatMessage struct {
	SenderName string
	Text       string
	Timestamp  time.Time
}

// Removed describes a participant taken out of the registry.
type Removed struct {
	RoomID      string
	Participant Participant
	RoomDeleted bool
}

// RoomSummary is a point-in-time view of one room.
type RoomSummary struct {
	ID           string
	Participants int
	ChatLength   int
}

type room struct {
	id           string
	participants []Participant
	chat         chatBuffer
}

func (r *room) indexOf(connID string) int {
	for i, p := range r.participants {
		if p.ConnID == connID {
			return i
		}
	}
	return -1
}

// chatBuffer is a fixed-capacity FIFO ring.
type chatBuffer struct {
	buf   []ChatMessage
	start int
	size  int
}

func newChatBuffer(capacity int) chatBuffer {
	return chatBuffer{buf: make([]ChatMessage, capacity)}
}

func (b *chatBuffer) push(m ChatMessage) (evicted bool) {
	capacity := len(b.buf)
	if b.size < capacity {
		b.buf[(b.start+b.size)%capacity] = m
		b.size++
		return false
	}
	b.buf[b.start] = m
	b.start = (b.start + 1) % capacity
	return true
}

// last returns up to n newest entries, oldest first.
func (b *chatBuffer) last(n int) []ChatMessage {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return []ChatMessage{}
	}
	out := make([]ChatMessage, n)
	capacity := len(b.buf)
	first := b.start + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.buf[(first+i)%capacity]
	}
	return out
}

// Registry is the authoritative in-memory store of room membership and chat history.
// Rooms are created on first join and deleted when their last participant leaves.
// A connection belongs to at most one room at a time.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	members map[string]string // connID → roomID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]*room),
		members: make(map[string]string),
	}
}

// AddParticipant places connID in roomID under name, creating the room if needed.
// Re-adding a connID already in roomID overwrites its name in place. If connID was a
// member of a different room it is moved, and the returned Removed describes the old
// membership.
func (r *Registry) AddParticipant(roomID, connID, name string) (Removed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		moved   Removed
		wasMove bool
	)
	if prev, ok := r.members[connID]; ok && prev != roomID {
		moved, wasMove = r.removeLocked(connID)
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, chat: newChatBuffer(ChatCapacity)}
		r.rooms[roomID] = rm
		slog.Info("room created", "room_id", roomID)
	}

	p := Participant{ConnID: connID, Name: name}
	if i := rm.indexOf(connID); i >= 0 {
		rm.participants[i] = p
	} else {
		rm.participants = append(rm.participants, p)
	}
	r.members[connID] = roomID

	slog.Info("participant added", "room_id", roomID, "conn_id", connID, "name", name, "participants", len(rm.participants))
	return moved, wasMove
}

// ListParticipants returns the room's participants in join order.
// An unknown room yields an empty slice.
func (r *Registry) ListParticipants(roomID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return []Participant{}
	}
	out := make([]Participant, len(rm.participants))
	copy(out, rm.participants)
	return out
}

// RemoveParticipant takes connID out of whichever room holds it. The second return
// value is false when connID was never registered; callers treat that as a no-op.
func (r *Registry) RemoveParticipant(connID string) (Removed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID string) (Removed, bool) {
	roomID, ok := r.members[connID]
	if !ok {
		return Removed{}, false
	}
	delete(r.members, connID)

	rm, ok := r.rooms[roomID]
	if !ok {
		return Removed{}, false
	}
	i := rm.indexOf(connID)
	if i < 0 {
		return Removed{}, false
	}
	p := rm.participants[i]
	rm.participants = append(rm.participants[:i], rm.participants[i+1:]...)

	out := Removed{RoomID: roomID, Participant: p}
	if len(rm.participants) == 0 {
		delete(r.rooms, roomID)
		out.RoomDeleted = true
		slog.Info("room deleted", "room_id", roomID)
	}
	slog.Info("participant removed", "room_id", roomID, "conn_id", connID, "name", p.Name, "remaining", len(rm.participants))
	return out, true
}

// AppendChat adds msg to the room's history, evicting the oldest entry once the
// history holds ChatCapacity messages. Chat for an unknown room is dropped and
// AppendChat reports false.
func (r *Registry) AppendChat(roomID string, msg ChatMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		slog.Debug("chat dropped for unknown room", "room_id", roomID)
		return false
	}
	if rm.chat.push(msg) {
		slog.Debug("chat history evicted oldest", "room_id", roomID)
	}
	return true
}

// RecentChat returns the last n messages in chronological order.
func (r *Registry) RecentChat(roomID string, n int) []ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return []ChatMessage{}
	}
	return rm.chat.last(n)
}

// RoomOf returns the room connID currently belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.members[connID]
	return roomID, ok
}

// Participant looks up connID's membership.
func (r *Registry) Participant(connID string) (string, Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.members[connID]
	if !ok {
		return "", Participant{}, false
	}
	rm := r.rooms[roomID]
	if i := rm.indexOf(connID); i >= 0 {
		return roomID, rm.participants[i], true
	}
	return "", Participant{}, false
}

// Exists reports whether roomID currently has participants.
func (r *Registry) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Rooms returns a snapshot of every live room ordered by id.
func (r *Registry) Rooms() []RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RoomSummary, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, RoomSummary{ID: id, Participants: len(rm.participants), ChatLength: rm.chat.size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
