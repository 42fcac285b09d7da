// Package wt serves the relay protocol over WebTransport. A client opens one
// bidirectional control stream and exchanges newline-delimited JSON envelopes
// on it.
package wt

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"huddle/internal/protocol"
	"huddle/internal/relay"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

const (
	maxLineSize = 64 * 1024
	sendBuffer  = 64
)

// Server is the WebTransport listener for the relay.
type Server struct {
	addr      string
	tlsConfig *tls.Config
	relay     *relay.Relay
	wt        *webtransport.Server
}

// NewServer returns a listener for addr that routes every session's control
// stream through r. tlsConfig must carry the certificate browsers pin.
func NewServer(addr string, tlsConfig *tls.Config, r *relay.Relay) *Server {
	return &Server{addr: addr, tlsConfig: tlsConfig, relay: r}
}

// Run starts the WebTransport server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	s.wt = &webtransport.Server{
		H3: &http3.Server{
			Addr:      s.addr,
			TLSConfig: s.tlsConfig,
			Handler:   mux,
		},
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	webtransport.ConfigureHTTP3Server(s.wt.H3)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.wt.Upgrade(w, r)
		if err != nil {
			slog.Warn("webtransport upgrade failed", "remote", r.RemoteAddr, "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.serveSession(ctx, sess)
	})

	slog.Info("webtransport listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		s.wt.Close()
	}()

	err := s.wt.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) serveSession(ctx context.Context, sess *webtransport.Session) {
	defer sess.CloseWithError(0, "bye")

	stream, err := sess.AcceptStream(ctx)
	if err != nil {
		slog.Debug("accept control stream", "err", err)
		return
	}

	session := s.relay.Open(sendBuffer)
	log := slog.With("conn_id", session.ConnID, "transport", "webtransport")
	log.Info("webtransport connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := writeLoop(stream, session.Send); err != nil {
			log.Debug("control stream write", "err", err)
			sess.CloseWithError(0, "write failed")
			for range session.Send {
			}
		}
	}()
	defer func() {
		s.relay.Disconnect(session.ConnID)
		<-writerDone
		_ = stream.Close()
		log.Info("webtransport disconnected")
	}()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	limiter := relay.NewLimiter()
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.relay.SendError(session.ConnID, "invalid json")
			continue
		}
		if !limiter.Allow() {
			log.Debug("rate limited", "type", env.Type)
			s.relay.SendError(session.ConnID, "rate limit exceeded")
			continue
		}
		s.relay.Handle(session.ConnID, env)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		log.Debug("control stream read", "err", err)
	}
}

// writeLoop writes queued envelopes as JSON lines until the queue closes.
func writeLoop(w io.Writer, send <-chan protocol.Envelope) error {
	for env := range send {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}
