package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"huddle/internal/protocol"
	"huddle/internal/relay"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // SDP blobs fit comfortably
	sendBuffer     = 64
)

// Handler owns the websocket transport for the relay.
type Handler struct {
	relay    *relay.Relay
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to r.
func NewHandler(r *relay.Relay) *Handler {
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	session := h.relay.Open(sendBuffer)
	log := slog.With("conn_id", session.ConnID, "remote", conn.RemoteAddr().String())
	log.Info("websocket connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(conn, session.Send)
	}()

	defer func() {
		h.relay.Disconnect(session.ConnID)
		<-writerDone
		_ = conn.Close()
		log.Info("websocket disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := relay.NewLimiter()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug("invalid json", "err", err)
			h.relay.SendError(session.ConnID, "invalid json")
			continue
		}

		if !limiter.Allow() {
			log.Debug("rate limited", "type", env.Type)
			h.relay.SendError(session.ConnID, "rate limit exceeded")
			continue
		}
		h.relay.Handle(session.ConnID, env)
	}
}

// writePump drains the session queue until the relay closes it, sending
// keepalive pings in between.
func writePump(conn *websocket.Conn, send <-chan protocol.Envelope) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				_ = conn.Close()
				drain(send)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(send)
				return
			}
		}
	}
}

func drain(send <-chan protocol.Envelope) {
	for range send {
	}
}
