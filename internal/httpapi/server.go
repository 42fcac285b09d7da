package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"huddle/internal/advice"
	"huddle/internal/protocol"
	"huddle/internal/relay"
	"huddle/internal/store"
	"huddle/internal/ws"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	defaultChatLimit = 50
	maxChatLimit     = 200
	archiveTimeout   = 5 * time.Second
)

// Archive is the persistent chat and advice log.
type Archive interface {
	RecentChat(ctx context.Context, roomID string, limit int) ([]store.ChatRow, error)
	InsertAdvice(ctx context.Context, row store.AdviceRow) (int64, error)
}

// Advisor answers advice requests.
type Advisor interface {
	Advise(ctx context.Context, req advice.Request) (string, error)
}

// Server is the Echo application.
type Server struct {
	echo    *echo.Echo
	relay   *relay.Relay
	archive Archive
	advisor Advisor
	public  string
}

// Option configures a Server.
type Option func(*Server)

// WithArchive serves archived history and records advice results.
func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithAdvisor enables POST /api/ai.
func WithAdvisor(a Advisor) Option {
	return func(s *Server) { s.advisor = a }
}

// WithPublicDir serves static files from dir at /.
func WithPublicDir(dir string) Option {
	return func(s *Server) { s.public = dir }
}

// New constructs an Echo app with websocket + REST routes.
func New(r *relay.Relay, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("err", v.Error.Error()))
			}
			slog.LogAttrs(context.Background(), level, "http request", attrs...)
			return nil
		},
	}))

	s := &Server{echo: e, relay: r}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/rooms", s.handleRooms)
	s.echo.GET("/api/rooms/:id", s.handleRoom)
	s.echo.GET("/api/rooms/:id/history", s.handleHistory)
	s.echo.POST("/api/ai", s.handleAdvice)
	ws.NewHandler(s.relay).Register(s.echo)
	if s.public != "" {
		s.echo.Static("/", s.public)
	}
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Rooms   int    `json:"rooms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Clients: s.relay.ConnectionCount(),
		Rooms:   s.relay.Registry().RoomCount(),
	})
}

// RoomSummary is one row of GET /api/rooms.
type RoomSummary struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
	ChatLength   int    `json:"chatLength"`
}

type roomsResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}

func (s *Server) handleRooms(c echo.Context) error {
	summaries := s.relay.Registry().Rooms()
	out := make([]RoomSummary, 0, len(summaries))
	for _, r := range summaries {
		out = append(out, RoomSummary{ID: r.ID, Participants: r.Participants, ChatLength: r.ChatLength})
	}
	return c.JSON(http.StatusOK, roomsResponse{Rooms: out})
}

type roomResponse struct {
	ID           string                   `json:"id"`
	Participants []protocol.PeerInfo      `json:"participants"`
	Chat         []protocol.ChatBroadcast `json:"chat"`
}

func (s *Server) handleRoom(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	registry := s.relay.Registry()
	if !registry.Exists(id) {
		return jsonError(c, http.StatusNotFound, "room not found")
	}

	participants := registry.ListParticipants(id)
	resp := roomResponse{
		ID:           id,
		Participants: make([]protocol.PeerInfo, 0, len(participants)),
		Chat:         []protocol.ChatBroadcast{},
	}
	for _, p := range participants {
		resp.Participants = append(resp.Participants, protocol.PeerInfo{SocketID: p.ConnID, Name: p.Name})
	}
	for _, m := range registry.RecentChat(id, limit) {
		resp.Chat = append(resp.Chat, protocol.ChatBroadcast{Name: m.SenderName, Message: m.Text, TS: m.Timestamp.UnixMilli()})
	}
	return c.JSON(http.StatusOK, resp)
}

// ArchivedMessage is one row of GET /api/rooms/:id/history.
type ArchivedMessage struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

type historyResponse struct {
	RoomID   string            `json:"roomId"`
	Messages []ArchivedMessage `json:"messages"`
}

func (s *Server) handleHistory(c echo.Context) error {
	if s.archive == nil {
		return jsonError(c, http.StatusServiceUnavailable, "chat archive is not configured")
	}
	id := strings.TrimSpace(c.Param("id"))
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	rows, err := s.archive.RecentChat(c.Request().Context(), id, limit)
	if err != nil {
		slog.Error("read chat archive", "room_id", id, "err", err)
		return jsonError(c, http.StatusInternalServerError, "read chat archive")
	}
	resp := historyResponse{RoomID: id, Messages: make([]ArchivedMessage, 0, len(rows))}
	for _, r := range rows {
		resp.Messages = append(resp.Messages, ArchivedMessage{ID: r.ID, Name: r.SenderName, Message: r.Message, TS: r.TS})
	}
	return c.JSON(http.StatusOK, resp)
}

type adviceResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleAdvice(c echo.Context) error {
	if s.advisor == nil {
		return jsonError(c, http.StatusServiceUnavailable, "advice is not configured")
	}

	var req advice.Request
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}

	text, err := s.advisor.Advise(c.Request().Context(), req)
	s.recordAdvice(req, text, err)

	var upstream *advice.UpstreamError
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, adviceResponse{Text: text})
	case errors.Is(err, advice.ErrPromptTooLong):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, advice.ErrNoCredentials):
		return jsonError(c, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &upstream), errors.Is(err, advice.ErrMalformedResponse):
		return jsonError(c, http.StatusBadGateway, err.Error())
	default:
		return jsonError(c, http.StatusBadGateway, "advice request failed: "+err.Error())
	}
}

func (s *Server) recordAdvice(req advice.Request, text string, adviseErr error) {
	if s.archive == nil {
		return
	}
	row := store.AdviceRow{RoomID: req.RoomID, Prompt: req.Prompt, Response: text}
	if adviseErr != nil {
		row.Error = adviseErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if _, err := s.archive.InsertAdvice(ctx, row); err != nil {
		slog.Warn("archive advice", "room_id", req.RoomID, "err", err)
	}
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultChatLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxChatLimit {
		n = maxChatLimit
	}
	return n, nil
}
