// Package relay routes signaling and chat between connections in the same room.
//
// The relay never inspects SDP or ICE payloads, performs no glare arbitration and
// gives senders no delivery guarantee: a message addressed to a connection that
// is gone is dropped. All mutable state lives in core.Registry and core.Sessions.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"huddle/internal/core"
	"huddle/internal/linkpreview"
	"huddle/internal/protocol"
	"huddle/internal/store"

	"golang.org/x/time/rate"
)

const archiveTimeout = 5 * time.Second

// Inbound message rate allowed per connection.
const (
	InboundRate  = 20
	InboundBurst = 40
)

// NewLimiter returns the per-connection inbound rate limiter used by every transport.
func NewLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(InboundRate), InboundBurst)
}

// Archive persists chat messages after they have been relayed.
type Archive interface {
	InsertChat(ctx context.Context, row store.ChatRow) (int64, error)
}

// Previewer resolves the first link in a chat message.
type Previewer interface {
	ForText(ctx context.Context, text string) (linkpreview.Preview, error)
}

// Relay is the signaling message router.
type Relay struct {
	registry  *core.Registry
	sessions  *core.Sessions
	archive   Archive
	previewer Previewer
	now       func() time.Time

	bg sync.WaitGroup
}

// Option configures a Relay.
type Option func(*Relay)

// WithArchive stores every relayed chat message.
func WithArchive(a Archive) Option {
	return func(r *Relay) { r.archive = a }
}

// WithPreviewer enables link previews for chat messages.
func WithPreviewer(p Previewer) Option {
	return func(r *Relay) { r.previewer = p }
}

// WithClock overrides the time source used for chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New returns a relay over the given registry and session table.
func New(registry *core.Registry, sessions *core.Sessions, opts ...Option) *Relay {
	r := &Relay{
		registry: registry,
		sessions: sessions,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry exposes the room registry backing this relay.
func (r *Relay) Registry() *core.Registry {
	return r.registry
}

// Open registers a new transport connection.
func (r *Relay) Open(sendBuf int) *core.Session {
	return r.sessions.Open(sendBuf)
}

// ConnectionCount returns the number of open transport connections.
func (r *Relay) ConnectionCount() int {
	return r.sessions.Count()
}

// Wait blocks until background archive and preview work has finished.
func (r *Relay) Wait() {
	r.bg.Wait()
}

// Handle decodes one client envelope and dispatches it. Invalid messages are
// answered with an error event to the sender only.
func (r *Relay) Handle(connID string, env protocol.Envelope) {
	in, err := protocol.Decode(env)
	if err != nil {
		slog.Debug("rejected client message", "conn_id", connID, "type", env.Type, "err", err)
		r.SendError(connID, err.Error())
		return
	}
	r.Dispatch(connID, in)
}

// Dispatch routes a decoded client payload.
func (r *Relay) Dispatch(connID string, in protocol.Inbound) {
	switch m := in.(type) {
	case *protocol.JoinRoom:
		r.Join(connID, *m)
	case *protocol.Offer:
		r.Offer(connID, *m)
	case *protocol.Answer:
		r.Answer(connID, *m)
	case *protocol.ICECandidate:
		r.Candidate(connID, *m)
	case *protocol.Chat:
		r.Chat(connID, *m)
	case *protocol.Ping:
		r.send(connID, protocol.TypePong, protocol.Pong{TS: m.TS})
	}
}

// Join registers connID in a room, replies with the roster of everyone else and
// announces the newcomer to the existing members.
func (r *Relay) Join(connID string, m protocol.JoinRoom) {
	if moved, ok := r.registry.AddParticipant(m.RoomID, connID, m.Name); ok {
		r.announceLeave(moved)
	}

	roster := r.registry.ListParticipants(m.RoomID)
	peers := make([]protocol.PeerInfo, 0, len(roster))
	for _, p := range roster {
		if p.ConnID == connID {
			continue
		}
		peers = append(peers, protocol.PeerInfo{SocketID: p.ConnID, Name: p.Name})
	}

	r.send(connID, protocol.TypePeers, protocol.Peers{SelfID: connID, Peers: peers})
	r.broadcast(m.RoomID, protocol.TypeUserJoined, protocol.PeerInfo{SocketID: connID, Name: m.Name}, connID)
}

// Offer forwards an SDP offer to its addressee.
func (r *Relay) Offer(connID string, m protocol.Offer) {
	to := m.To
	m.To, m.From = "", connID
	if m.FromName == "" {
		if _, p, ok := r.registry.Participant(connID); ok {
			m.FromName = p.Name
		}
	}
	r.forward(connID, to, protocol.TypeOffer, m)
}

// Answer forwards an SDP answer to its addressee.
func (r *Relay) Answer(connID string, m protocol.Answer) {
	to := m.To
	m.To, m.From = "", connID
	r.forward(connID, to, protocol.TypeAnswer, m)
}

// Candidate forwards an ICE candidate to its addressee.
func (r *Relay) Candidate(connID string, m protocol.ICECandidate) {
	to := m.To
	m.To, m.From = "", connID
	r.forward(connID, to, protocol.TypeICECandidate, m)
}

// Chat appends a message to the room history and rebroadcasts it to every
// member, the sender included. Chat for a room the sender is not in is dropped.
func (r *Relay) Chat(connID string, m protocol.Chat) {
	roomID, p, ok := r.registry.Participant(connID)
	if !ok || roomID != m.RoomID {
		slog.Debug("chat dropped", "conn_id", connID, "room_id", m.RoomID, "member_of", roomID)
		return
	}
	name := m.Name
	if name == "" {
		name = p.Name
	}

	now := r.now()
	if !r.registry.AppendChat(roomID, core.ChatMessage{SenderName: name, Text: m.Message, Timestamp: now}) {
		return
	}
	ts := now.UnixMilli()
	r.broadcast(roomID, protocol.TypeChat, protocol.ChatBroadcast{Name: name, Message: m.Message, TS: ts}, "")

	if r.archive != nil {
		row := store.ChatRow{RoomID: roomID, SenderConn: connID, SenderName: name, Message: m.Message, TS: ts}
		r.background(func() {
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			defer cancel()
			if _, err := r.archive.InsertChat(ctx, row); err != nil {
				slog.Warn("archive chat", "room_id", roomID, "err", err)
			}
		})
	}
	if r.previewer != nil && linkpreview.FirstURL(m.Message) != "" {
		r.background(func() { r.preview(roomID, m.Message, ts) })
	}
}

func (r *Relay) preview(roomID, text string, ts int64) {
	ctx, cancel := context.WithTimeout(context.Background(), linkpreview.DefaultTimeout)
	defer cancel()

	p, err := r.previewer.ForText(ctx, text)
	if err != nil {
		if !errors.Is(err, linkpreview.ErrNoURL) {
			slog.Debug("link preview failed", "room_id", roomID, "err", err)
		}
		return
	}
	if p.Empty() {
		return
	}
	r.broadcast(roomID, protocol.TypeLinkPreview, protocol.LinkPreview{
		TS:          ts,
		URL:         p.URL,
		Title:       p.Title,
		Description: p.Description,
		Image:       p.Image,
		SiteName:    p.SiteName,
	}, "")
}

// Disconnect removes connID from its room, tells the remaining members and
// closes the connection's outbound queue. A connection that never joined a
// room is simply closed.
func (r *Relay) Disconnect(connID string) {
	if removed, ok := r.registry.RemoveParticipant(connID); ok {
		r.announceLeave(removed)
	}
	r.sessions.Close(connID)
}

// SendError reports a rejected message to one connection.
func (r *Relay) SendError(connID, msg string) {
	r.send(connID, protocol.TypeError, protocol.Error{Error: msg})
}

func (r *Relay) announceLeave(removed core.Removed) {
	if removed.RoomDeleted {
		return
	}
	r.broadcast(removed.RoomID, protocol.TypeUserLeft, protocol.PeerInfo{
		SocketID: removed.Participant.ConnID,
		Name:     removed.Participant.Name,
	}, "")
}

func (r *Relay) forward(from, to, typ string, payload any) {
	if to == from {
		slog.Debug("signal addressed to sender dropped", "conn_id", from, "type", typ)
		return
	}
	env, err := protocol.Encode(typ, payload)
	if err != nil {
		slog.Error("encode signal", "type", typ, "err", err)
		return
	}
	if !r.sessions.SendTo(to, env) {
		slog.Debug("signal not delivered", "type", typ, "from", from, "to", to)
		return
	}
	slog.Debug("signal relayed", "type", typ, "from", from, "to", to)
}

func (r *Relay) send(connID, typ string, payload any) bool {
	env, err := protocol.Encode(typ, payload)
	if err != nil {
		slog.Error("encode message", "type", typ, "err", err)
		return false
	}
	return r.sessions.SendTo(connID, env)
}

func (r *Relay) broadcast(roomID, typ string, payload any, exceptConnID string) {
	env, err := protocol.Encode(typ, payload)
	if err != nil {
		slog.Error("encode broadcast", "type", typ, "err", err)
		return
	}
	members := r.registry.ListParticipants(roomID)
	sent := 0
	for _, p := range members {
		if p.ConnID == exceptConnID {
			continue
		}
		if r.sessions.SendTo(p.ConnID, env) {
			sent++
		}
	}
	slog.Debug("broadcast", "type", typ, "room_id", roomID, "recipients", sent, "members", len(members))
}

func (r *Relay) background(fn func()) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		fn()
	}()
}
