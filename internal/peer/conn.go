package peer

import (
	"encoding/json"
	"fmt"

	pion "github.com/pion/webrtc/v4"
)

// Conn is one negotiated media connection to a remote participant. SDP and ICE
// payloads cross this boundary as opaque JSON objects.
type Conn interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	SetAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	Close() error
}

// Events are the callbacks a Conn reports on. They may fire on any goroutine.
type Events struct {
	Candidate func(candidate json.RawMessage)
	State     func(state pion.PeerConnectionState)
	Track     func(track *pion.TrackRemote)
}

// Factory creates the connection used for one remote participant.
type Factory func(remoteID string, ev Events) (Conn, error)

// ICEConfig lists the STUN and TURN servers offered to ICE.
type ICEConfig struct {
	STUN       []string
	TURN       []string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

func (c ICEConfig) servers() []pion.ICEServer {
	var servers []pion.ICEServer
	if len(c.STUN) > 0 {
		servers = append(servers, pion.ICEServer{URLs: c.STUN})
	}
	if len(c.TURN) > 0 {
		servers = append(servers, pion.ICEServer{
			URLs:       c.TURN,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// PionFactory builds receive-only audio/video connections with pion/webrtc.
func PionFactory(cfg ICEConfig) Factory {
	return func(remoteID string, ev Events) (Conn, error) {
		policy := pion.ICETransportPolicyAll
		if cfg.ForceRelay && len(cfg.TURN) > 0 {
			policy = pion.ICETransportPolicyRelay
		}
		pc, err := pion.NewPeerConnection(pion.Configuration{
			ICEServers:         cfg.servers(),
			ICETransportPolicy: policy,
		})
		if err != nil {
			return nil, newError("create peer connection", remoteID, err)
		}

		for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
				Direction: pion.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, newError("add "+kind.String()+" transceiver", remoteID, err)
			}
		}

		pc.OnICECandidate(func(c *pion.ICECandidate) {
			if c == nil || ev.Candidate == nil {
				return
			}
			raw, err := json.Marshal(c.ToJSON())
			if err != nil {
				return
			}
			ev.Candidate(raw)
		})
		if ev.State != nil {
			pc.OnConnectionStateChange(ev.State)
		}
		if ev.Track != nil {
			pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
				ev.Track(track)
			})
		}

		return &pionConn{pc: pc}, nil
	}
}

type pionConn struct {
	pc *pion.PeerConnection
}

func (c *pionConn) CreateOffer() (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *pionConn) AcceptOffer(raw json.RawMessage) (json.RawMessage, error) {
	offer, err := parseDescription(raw, pion.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *pionConn) SetAnswer(raw json.RawMessage) error {
	answer, err := parseDescription(raw, pion.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *pionConn) AddCandidate(raw json.RawMessage) error {
	var ice pion.ICECandidateInit
	if err := json.Unmarshal(raw, &ice); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	if err := c.pc.AddICECandidate(ice); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

func parseDescription(raw json.RawMessage, want pion.SDPType) (pion.SessionDescription, error) {
	var desc pion.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, fmt.Errorf("parse session description: %w", err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedSignal, desc.Type, want)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("parse session description: empty sdp")
	}
	return desc, nil
}
