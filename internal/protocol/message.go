package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event names used by the signaling protocol.
const (
	TypeJoinRoom     = "join-room"
	TypePeers        = "peers"
	TypeUserJoined   = "user-joined"
	TypeUserLeft     = "user-left"
	TypeOffer        = "webrtc-offer"
	TypeAnswer       = "webrtc-answer"
	TypeICECandidate = "webrtc-ice-candidate"
	TypeChat         = "chat"
	TypeLinkPreview  = "link-preview"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// Wire limits.
const (
	MaxNameLength = 50  // bytes, room ids and display names
	MaxChatLength = 500 // bytes, one chat message body
)

var (
	// ErrUnknownType is returned for envelopes whose type is not a client event.
	ErrUnknownType = errors.New("unsupported message type")
	// ErrMissingField is returned when a required payload field is absent or blank.
	ErrMissingField = errors.New("missing required field")
	// ErrTooLong is returned when a field exceeds its wire limit.
	ErrTooLong = errors.New("field too long")
)

// Envelope is the JSON frame exchanged over every transport.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PeerInfo identifies one participant in roster and presence events.
type PeerInfo struct {
	SocketID string `json:"socketId"`
	Name     string `json:"name"`
}

// Peers is sent to a joining client only.
type Peers struct {
	SelfID string     `json:"selfId"`
	Peers  []PeerInfo `json:"peers"`
}

// JoinRoom asks the relay to place the sender in a room.
type JoinRoom struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// Offer carries an opaque SDP offer. Inbound frames address To, relayed frames carry From.
type Offer struct {
	To          string          `json:"to,omitempty"`
	From        string          `json:"from,omitempty"`
	Description json.RawMessage `json:"description"`
	FromName    string          `json:"fromName,omitempty"`
}

// Answer carries an opaque SDP answer.
type Answer struct {
	To          string          `json:"to,omitempty"`
	From        string          `json:"from,omitempty"`
	Description json.RawMessage `json:"description"`
}

// ICECandidate carries one opaque ICE candidate.
type ICECandidate struct {
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

// Chat is a chat message sent by a client.
type Chat struct {
	RoomID  string `json:"roomId"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ChatBroadcast is the room-wide rebroadcast of a chat message.
type ChatBroadcast struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

// LinkPreview describes the first link found in a chat message.
type LinkPreview struct {
	TS          int64  `json:"ts"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
}

// Ping and Pong carry a client timestamp in Unix ms.
type Ping struct {
	TS int64 `json:"ts"`
}

type Pong struct {
	TS int64 `json:"ts"`
}

// Error reports a rejected client message to its sender.
type Error struct {
	Error string `json:"error"`
}

// Inbound is the closed set of client-to-server payloads.
type Inbound interface {
	inbound()
}

func (*JoinRoom) inbound()     {}
func (*Offer) inbound()        {}
func (*Answer) inbound()       {}
func (*ICECandidate) inbound() {}
func (*Chat) inbound()         {}
func (*Ping) inbound()         {}

// Encode wraps payload v in an envelope of the given type.
func Encode(typ string, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Envelope{Type: typ, Data: data}, nil
}

// Decode parses and validates a client envelope into its typed payload.
func Decode(env Envelope) (Inbound, error) {
	var in Inbound
	switch env.Type {
	case TypeJoinRoom:
		in = &JoinRoom{}
	case TypeOffer:
		in = &Offer{}
	case TypeAnswer:
		in = &Answer{}
	case TypeICECandidate:
		in = &ICECandidate{}
	case TypeChat:
		in = &Chat{}
	case TypePing:
		in = &Ping{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, in); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	if err := validate(in); err != nil {
		return nil, fmt.Errorf("%s: %w", env.Type, err)
	}
	return in, nil
}

func validate(in Inbound) error {
	switch m := in.(type) {
	case *JoinRoom:
		m.RoomID = strings.TrimSpace(m.RoomID)
		m.Name = strings.TrimSpace(m.Name)
		if err := requireName("roomId", m.RoomID); err != nil {
			return err
		}
		return requireName("name", m.Name)
	case *Offer:
		if err := requireString("to", m.To); err != nil {
			return err
		}
		m.From = ""
		if len(m.FromName) > MaxNameLength {
			return fmt.Errorf("%w: fromName", ErrTooLong)
		}
		return requireObject("description", m.Description)
	case *Answer:
		if err := requireString("to", m.To); err != nil {
			return err
		}
		m.From = ""
		return requireObject("description", m.Description)
	case *ICECandidate:
		if err := requireString("to", m.To); err != nil {
			return err
		}
		m.From = ""
		return requireObject("candidate", m.Candidate)
	case *Chat:
		m.RoomID = strings.TrimSpace(m.RoomID)
		m.Name = strings.TrimSpace(m.Name)
		if err := requireName("roomId", m.RoomID); err != nil {
			return err
		}
		if len(m.Name) > MaxNameLength {
			return fmt.Errorf("%w: name", ErrTooLong)
		}
		if err := requireString("message", m.Message); err != nil {
			return err
		}
		if len(m.Message) > MaxChatLength {
			return fmt.Errorf("%w: message exceeds %d bytes", ErrTooLong, MaxChatLength)
		}
	}
	return nil
}

func requireString(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return nil
}

func requireName(field, v string) error {
	if err := requireString(field, v); err != nil {
		return err
	}
	if len(v) > MaxNameLength {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLong, field, MaxNameLength)
	}
	return nil
}

func requireObject(field string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: %s must be an object", ErrMissingField, field)
	}
	return nil
}
