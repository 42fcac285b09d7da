// Package signalclient is a WebSocket client for the huddle relay.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"huddle/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 32
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("signaling client closed")

// Client manages one WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	incoming chan protocol.Envelope
	outgoing chan protocol.Envelope
	done     chan struct{}

	closeOnce sync.Once
	writerEnd chan struct{}

	mu      sync.Mutex
	readErr error
}

// WebSocketURL turns a server base URL such as http://host:8080 into the
// relay endpoint ws://host:8080/ws.
func WebSocketURL(server string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL: missing host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Dial connects to the relay at server.
func Dial(ctx context.Context, server string) (*Client, error) {
	wsURL, err := WebSocketURL(server)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:      conn,
		incoming:  make(chan protocol.Envelope, queueSize),
		outgoing:  make(chan protocol.Envelope, queueSize),
		done:      make(chan struct{}),
		writerEnd: make(chan struct{}),
	}
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerEnd)
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.conn.Close()
			return
		}
	}
}

// Incoming returns relay messages in arrival order. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan protocol.Envelope {
	return c.incoming
}

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Send queues an envelope for the relay.
func (c *Client) Send(env protocol.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.writerEnd:
		return ErrClosed
	default:
	}

	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.writerEnd:
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("send %s: queue full", env.Type)
	}
}

// Close ends the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.writerEnd
	})
}

func (c *Client) send(typ string, payload any) error {
	env, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}
	return c.Send(env)
}

// JoinRoom asks the relay to place this connection in roomID.
func (c *Client) JoinRoom(roomID, name string) error {
	return c.send(protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: roomID, Name: name})
}

// SendOffer relays an SDP offer to a remote participant.
func (c *Client) SendOffer(to string, description json.RawMessage, fromName string) error {
	return c.send(protocol.TypeOffer, protocol.Offer{To: to, Description: description, FromName: fromName})
}

// SendAnswer relays an SDP answer to a remote participant.
func (c *Client) SendAnswer(to string, description json.RawMessage) error {
	return c.send(protocol.TypeAnswer, protocol.Answer{To: to, Description: description})
}

// SendCandidate relays one ICE candidate to a remote participant.
func (c *Client) SendCandidate(to string, candidate json.RawMessage) error {
	return c.send(protocol.TypeICECandidate, protocol.ICECandidate{To: to, Candidate: candidate})
}

// SendChat posts a chat message to the room.
func (c *Client) SendChat(roomID, name, message string) error {
	return c.send(protocol.TypeChat, protocol.Chat{RoomID: roomID, Name: name, Message: message})
}

// Ping asks the relay to echo ts back in a pong.
func (c *Client) Ping(ts int64) error {
	return c.send(protocol.TypePing, protocol.Ping{TS: ts})
}
