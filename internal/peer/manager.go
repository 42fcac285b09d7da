// Package peer owns one media connection per remote participant and drives the
// offer/answer/ICE exchange for each of them.
//
// The newer joiner offers to everyone already in the room. Simultaneous offers
// are settled by connection id: the lexicographically smaller id is the polite
// side and answers, the larger id ignores the incoming offer. ICE candidates
// that arrive before a remote description is applied are buffered per remote
// and replayed once it is.
package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"huddle/internal/protocol"

	pion "github.com/pion/webrtc/v4"
)

// MaxOrphanCandidates bounds the buffered candidates kept per remote.
const MaxOrphanCandidates = 32

// State is the negotiation state of one remote entry.
type State int

const (
	Idle State = iota
	OfferSent
	OfferReceived
	Connected
	Closed
	Failed
)

var stateNames = [...]string{"idle", "offer-sent", "offer-received", "connected", "closed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Signaler delivers negotiation messages to a remote participant.
type Signaler interface {
	SendOffer(to string, description json.RawMessage, fromName string) error
	SendAnswer(to string, description json.RawMessage) error
	SendCandidate(to string, candidate json.RawMessage) error
}

// Entry is the manager's view of one remote participant.
type Entry struct {
	RemoteID   string
	RemoteName string
	State      State

	conn      Conn
	gen       uint64
	remoteSet bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRenderer sets the surface remote tracks are attached to.
func WithRenderer(r Renderer) Option {
	return func(m *Manager) { m.renderer = r }
}

// WithObserver registers fn to be called on every state transition. fn runs
// with the manager locked and must not call back into it.
func WithObserver(fn func(Entry)) Option {
	return func(m *Manager) { m.observe = fn }
}

// Manager tracks every remote participant in the current room.
type Manager struct {
	selfName string
	signaler Signaler
	factory  Factory
	renderer Renderer
	observe  func(Entry)

	mu      sync.Mutex
	selfID  string
	gen     uint64
	closed  bool
	entries map[string]*Entry
	orphans map[string][]json.RawMessage
}

// NewManager returns a manager that announces itself to remotes as selfName.
func NewManager(selfName string, sig Signaler, factory Factory, opts ...Option) *Manager {
	m := &Manager{
		selfName: selfName,
		signaler: sig,
		factory:  factory,
		renderer: DiscardRenderer{},
		entries:  make(map[string]*Entry),
		orphans:  make(map[string][]json.RawMessage),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SelfID returns the connection id the relay assigned to this client.
func (m *Manager) SelfID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfID
}

// Get returns a snapshot of the entry for remoteID.
func (m *Manager) Get(remoteID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[remoteID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns a snapshot of all entries ordered by remote id.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out
}

// Handle routes one relay message. Messages that are not about peers are ignored.
func (m *Manager) Handle(env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypePeers:
		var p protocol.Peers
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m.HandlePeers(p)
	case protocol.TypeUserJoined:
		var p protocol.PeerInfo
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m.HandleUserJoined(p)
	case protocol.TypeUserLeft:
		var p protocol.PeerInfo
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m.HandleUserLeft(p)
	case protocol.TypeOffer:
		var o protocol.Offer
		if err := json.Unmarshal(env.Data, &o); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m.HandleOffer(o)
	case protocol.TypeAnswer:
		var a protocol.Answer
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m.HandleAnswer(a)
	case protocol.TypeICECandidate:
		var c protocol.ICECandidate
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m.HandleCandidate(c)
	}
	return nil
}

// HandlePeers processes the roster received after joining: this client is the
// newer joiner and offers to every listed participant.
func (m *Manager) HandlePeers(p protocol.Peers) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if p.SelfID != "" {
		m.selfID = p.SelfID
	}

	var errs []error
	for _, info := range p.Peers {
		if info.SocketID == "" || info.SocketID == m.selfID {
			continue
		}
		if e, ok := m.entries[info.SocketID]; ok && e.State != Idle {
			continue
		}
		if err := m.offerLocked(info.SocketID, info.Name); err != nil {
			slog.Warn("offer to peer failed", "remote_id", info.SocketID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleUserJoined prepares an idle entry for a newcomer, who will offer.
func (m *Manager) HandleUserJoined(p protocol.PeerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if p.SocketID == "" || p.SocketID == m.selfID {
		return nil
	}
	if e, ok := m.entries[p.SocketID]; ok {
		if p.Name != "" {
			e.RemoteName = p.Name
		}
		return nil
	}
	m.newEntryLocked(p.SocketID, p.Name)
	return nil
}

// HandleOffer answers an offer from a remote participant.
func (m *Manager) HandleOffer(o protocol.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	remoteID := o.From
	if remoteID == "" {
		return newError("handle offer", "", fmt.Errorf("%w: missing sender", ErrUnexpectedSignal))
	}

	e := m.entries[remoteID]
	switch {
	case e == nil:
		e = m.newEntryLocked(remoteID, o.FromName)
	case e.State == OfferSent:
		if !m.politeLocked(remoteID) {
			slog.Info("glare: ignoring remote offer", "remote_id", remoteID, "self_id", m.selfID)
			return nil
		}
		slog.Info("glare: discarding local offer and answering", "remote_id", remoteID, "self_id", m.selfID)
		m.dropConnLocked(e)
	}
	if o.FromName != "" {
		e.RemoteName = o.FromName
	}

	if e.conn == nil {
		if err := m.connectLocked(e); err != nil {
			m.teardownLocked(e, Failed)
			return err
		}
	}
	answer, err := e.conn.AcceptOffer(o.Description)
	if err != nil {
		m.teardownLocked(e, Failed)
		return newError("accept offer", remoteID, err)
	}
	e.remoteSet = true
	m.setStateLocked(e, OfferReceived)

	if err := m.signaler.SendAnswer(remoteID, answer); err != nil {
		m.teardownLocked(e, Failed)
		return newError("send answer", remoteID, err)
	}
	m.replayLocked(e)
	m.setStateLocked(e, Connected)
	return nil
}

// HandleAnswer applies the answer to an offer this client sent.
func (m *Manager) HandleAnswer(a protocol.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e := m.entries[a.From]
	if e == nil {
		return newError("handle answer", a.From, ErrUnknownPeer)
	}
	if e.State != OfferSent || e.conn == nil {
		return newError("handle answer", a.From, fmt.Errorf("%w: %s", ErrUnexpectedSignal, e.State))
	}
	if err := e.conn.SetAnswer(a.Description); err != nil {
		m.teardownLocked(e, Failed)
		return newError("apply answer", a.From, err)
	}
	e.remoteSet = true
	m.replayLocked(e)
	m.setStateLocked(e, Connected)
	return nil
}

// HandleCandidate applies a remote ICE candidate, or buffers it until the
// matching remote description has been applied.
func (m *Manager) HandleCandidate(c protocol.ICECandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if c.From == "" {
		return newError("handle candidate", "", fmt.Errorf("%w: missing sender", ErrUnexpectedSignal))
	}

	e := m.entries[c.From]
	if e == nil || !e.remoteSet || e.conn == nil {
		m.bufferLocked(c.From, c.Candidate)
		return nil
	}
	if err := e.conn.AddCandidate(c.Candidate); err != nil {
		slog.Debug("add candidate failed", "remote_id", c.From, "err", err)
		return newError("add candidate", c.From, err)
	}
	return nil
}

// HandleUserLeft closes the entry for a participant who left the room without
// waiting for the transport to notice.
func (m *Manager) HandleUserLeft(p protocol.PeerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orphans, p.SocketID)
	if e, ok := m.entries[p.SocketID]; ok {
		m.teardownLocked(e, Closed)
	}
	return nil
}

// Close tears down every entry. Later signals return ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, e := range m.entries {
		m.teardownLocked(e, Closed)
	}
	m.orphans = make(map[string][]json.RawMessage)
}

func (m *Manager) offerLocked(remoteID, name string) error {
	e := m.entries[remoteID]
	if e == nil {
		e = m.newEntryLocked(remoteID, name)
	}
	if err := m.connectLocked(e); err != nil {
		m.teardownLocked(e, Failed)
		return err
	}
	offer, err := e.conn.CreateOffer()
	if err != nil {
		m.teardownLocked(e, Failed)
		return newError("create offer", remoteID, err)
	}
	if err := m.signaler.SendOffer(remoteID, offer, m.selfName); err != nil {
		m.teardownLocked(e, Failed)
		return newError("send offer", remoteID, err)
	}
	m.setStateLocked(e, OfferSent)
	return nil
}

func (m *Manager) newEntryLocked(remoteID, name string) *Entry {
	e := &Entry{RemoteID: remoteID, RemoteName: name, State: Idle}
	m.entries[remoteID] = e
	m.notifyLocked(e)
	return e
}

func (m *Manager) connectLocked(e *Entry) error {
	m.dropConnLocked(e)
	m.gen++
	gen := m.gen
	conn, err := m.factory(e.RemoteID, m.events(e.RemoteID, gen))
	if err != nil {
		return newError("create connection", e.RemoteID, err)
	}
	e.conn = conn
	e.gen = gen
	return nil
}

func (m *Manager) dropConnLocked(e *Entry) {
	if e.conn == nil {
		return
	}
	if err := e.conn.Close(); err != nil {
		slog.Debug("close connection", "remote_id", e.RemoteID, "err", err)
	}
	e.conn = nil
	e.remoteSet = false
}

func (m *Manager) politeLocked(remoteID string) bool {
	return m.selfID < remoteID
}

func (m *Manager) bufferLocked(remoteID string, candidate json.RawMessage) {
	q := append(m.orphans[remoteID], candidate)
	if len(q) > MaxOrphanCandidates {
		q = append(q[:0:0], q[len(q)-MaxOrphanCandidates:]...)
	}
	m.orphans[remoteID] = q
	slog.Debug("candidate buffered", "remote_id", remoteID, "buffered", len(q))
}

func (m *Manager) replayLocked(e *Entry) {
	pending := m.orphans[e.RemoteID]
	delete(m.orphans, e.RemoteID)
	for _, c := range pending {
		if err := e.conn.AddCandidate(c); err != nil {
			slog.Debug("replay candidate failed", "remote_id", e.RemoteID, "err", err)
		}
	}
	if len(pending) > 0 {
		slog.Debug("buffered candidates replayed", "remote_id", e.RemoteID, "count", len(pending))
	}
}

func (m *Manager) setStateLocked(e *Entry, s State) {
	if e.State == s {
		return
	}
	slog.Debug("peer state", "remote_id", e.RemoteID, "from", e.State.String(), "to", s.String())
	e.State = s
	m.notifyLocked(e)
}

func (m *Manager) notifyLocked(e *Entry) {
	if m.observe != nil {
		m.observe(*e)
	}
}

func (m *Manager) teardownLocked(e *Entry, final State) {
	m.setStateLocked(e, final)
	m.dropConnLocked(e)
	if m.renderer != nil {
		m.renderer.Detach(e.RemoteID)
	}
	if m.entries[e.RemoteID] == e {
		delete(m.entries, e.RemoteID)
	}
	delete(m.orphans, e.RemoteID)
	slog.Info("peer removed", "remote_id", e.RemoteID, "name", e.RemoteName, "state", final.String())
}

// current returns the live entry for remoteID if gen still identifies its connection.
func (m *Manager) current(remoteID string, gen uint64) *Entry {
	e := m.entries[remoteID]
	if e == nil || e.gen != gen || e.conn == nil {
		return nil
	}
	return e
}

func (m *Manager) events(remoteID string, gen uint64) Events {
	return Events{
		Candidate: func(candidate json.RawMessage) {
			m.mu.Lock()
			live := m.current(remoteID, gen) != nil
			m.mu.Unlock()
			if !live {
				return
			}
			if err := m.signaler.SendCandidate(remoteID, candidate); err != nil {
				slog.Debug("send candidate failed", "remote_id", remoteID, "err", err)
			}
		},
		State: func(state pion.PeerConnectionState) {
			m.mu.Lock()
			defer m.mu.Unlock()
			e := m.current(remoteID, gen)
			if e == nil {
				return
			}
			slog.Debug("transport state", "remote_id", remoteID, "state", state.String())
			switch state {
			case pion.PeerConnectionStateFailed, pion.PeerConnectionStateDisconnected:
				m.teardownLocked(e, Failed)
			case pion.PeerConnectionStateConnected:
				m.setStateLocked(e, Connected)
			}
		},
		Track: func(track *pion.TrackRemote) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.current(remoteID, gen) == nil || m.renderer == nil {
				return
			}
			m.renderer.Attach(remoteID, track)
		},
	}
}
