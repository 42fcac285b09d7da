// Package participant runs a headless room member: a signaling connection plus
// the peer manager that negotiates media with everyone else in the room.
package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"huddle/internal/peer"
	"huddle/internal/protocol"
	"huddle/internal/signalclient"
)

// Options describe who joins which room.
type Options struct {
	ServerURL string
	RoomID    string
	Name      string
	ICE       peer.ICEConfig

	// Factory overrides the pion connection factory built from ICE.
	Factory  peer.Factory
	Renderer peer.Renderer
	// Observer sees every peer state transition.
	Observer func(peer.Entry)
}

// Participant is one joined room member.
type Participant struct {
	opts   Options
	client *signalclient.Client
	peers  *peer.Manager
}

// Join dials the relay and asks to join the room.
func Join(ctx context.Context, opts Options) (*Participant, error) {
	if opts.RoomID == "" || opts.Name == "" {
		return nil, errors.New("room and name are required")
	}
	client, err := signalclient.Dial(ctx, opts.ServerURL)
	if err != nil {
		return nil, err
	}

	factory := opts.Factory
	if factory == nil {
		factory = peer.PionFactory(opts.ICE)
	}
	var mopts []peer.Option
	if opts.Renderer != nil {
		mopts = append(mopts, peer.WithRenderer(opts.Renderer))
	}
	if opts.Observer != nil {
		mopts = append(mopts, peer.WithObserver(opts.Observer))
	}

	p := &Participant{
		opts:   opts,
		client: client,
		peers:  peer.NewManager(opts.Name, client, factory, mopts...),
	}
	if err := client.JoinRoom(opts.RoomID, opts.Name); err != nil {
		p.Close()
		return nil, fmt.Errorf("join room: %w", err)
	}
	slog.Info("joining room", "room_id", opts.RoomID, "name", opts.Name)
	return p, nil
}

// Peers exposes the peer manager.
func (p *Participant) Peers() *peer.Manager {
	return p.peers
}

// Chat posts a message to the room.
func (p *Participant) Chat(message string) error {
	return p.client.SendChat(p.opts.RoomID, p.opts.Name, message)
}

// Run feeds relay messages to the peer manager until ctx ends or the
// connection drops. onEvent, if set, sees every message after the manager.
func (p *Participant) Run(ctx context.Context, onEvent func(protocol.Envelope)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-p.client.Incoming():
			if !ok {
				if err := p.client.Err(); err != nil {
					return fmt.Errorf("signaling connection lost: %w", err)
				}
				return errors.New("signaling connection closed")
			}
			if err := p.peers.Handle(env); err != nil {
				slog.Warn("peer negotiation", "type", env.Type, "err", err)
			}
			if onEvent != nil {
				onEvent(env)
			}
		}
	}
}

// Close tears down every peer connection and the signaling connection.
func (p *Participant) Close() {
	p.peers.Close()
	p.client.Close()
}
