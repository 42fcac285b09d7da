// Package advice turns a room's recent chat into an advisory question for an
// OpenAI-compatible completions endpoint.
package advice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"huddle/internal/core"
)

// MaxPromptLength bounds the user question in bytes.
const MaxPromptLength = 2000

// DefaultQuestion is asked when a request carries no question.
const DefaultQuestion = "How can the group keep this discussion balanced and productive?"

// SystemPrompt frames every upstream request.
const SystemPrompt = "You are a discussion coach for a small group video call. " +
	"Use the recent chat and the participation counts to give short, practical advice. " +
	"Point out quiet participants by name when it helps. Reply in 2 to 4 sentences."

// ErrPromptTooLong is returned for questions longer than MaxPromptLength.
var ErrPromptTooLong = errors.New("prompt too long")

// Request is the body of an advice request.
type Request struct {
	RoomID     string         `json:"roomId"`
	Prompt     string         `json:"prompt"`
	RecentChat []ChatEntry    `json:"recentChat"`
	Speakers   map[string]int `json:"speakers"`
}

// History supplies a room's buffered chat when a request brings none.
type History interface {
	Exists(roomID string) bool
	RecentChat(roomID string, n int) []core.ChatMessage
}

// Completer produces the advisory text for a rendered prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Gateway answers advice requests.
type Gateway struct {
	completer Completer
	history   History
	offline   bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHistory fills empty request context from a room's live chat buffer.
func WithHistory(h History) Option {
	return func(g *Gateway) { g.history = h }
}

// WithOffline answers locally instead of failing when no credentials exist.
func WithOffline(offline bool) Option {
	return func(g *Gateway) { g.offline = offline }
}

// NewGateway returns a gateway backed by c.
func NewGateway(c Completer, opts ...Option) *Gateway {
	g := &Gateway{completer: c}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prepare normalises a request: it trims the question, applies the default
// question and fills chat context from the room history when none was sent.
func (g *Gateway) Prepare(req Request) (Request, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		req.Prompt = DefaultQuestion
	}
	if len(req.Prompt) > MaxPromptLength {
		return req, fmt.Errorf("%w: %d bytes, max %d", ErrPromptTooLong, len(req.Prompt), MaxPromptLength)
	}

	if len(req.RecentChat) == 0 && req.RoomID != "" && g.history != nil && g.history.Exists(req.RoomID) {
		req.RecentChat = FromHistory(g.history.RecentChat(req.RoomID, ContextSize))
		if len(req.Speakers) == 0 && len(req.RecentChat) > 0 {
			req.Speakers = CountSpeakers(req.RecentChat)
		}
	}
	if len(req.RecentChat) > ContextSize {
		req.RecentChat = req.RecentChat[len(req.RecentChat)-ContextSize:]
	}
	return req, nil
}

// Advise returns advisory text for req. It makes a single upstream call with
// no retry.
func (g *Gateway) Advise(ctx context.Context, req Request) (string, error) {
	req, err := g.Prepare(req)
	if err != nil {
		return "", err
	}
	prompt := BuildPrompt(req.Prompt, req.RecentChat, req.Speakers)

	text, err := g.completer.Complete(ctx, SystemPrompt, prompt)
	if errors.Is(err, ErrNoCredentials) && g.offline {
		slog.Debug("advice answered offline", "room_id", req.RoomID)
		return Offline(req), nil
	}
	if err != nil {
		slog.Warn("advice request failed", "room_id", req.RoomID, "err", err)
		return "", err
	}
	slog.Info("advice returned", "room_id", req.RoomID, "context_messages", len(req.RecentChat), "chars", len(text))
	return text, nil
}

// Offline builds deterministic advice from the request context alone.
func Offline(req Request) string {
	ranked := RankSpeakers(req.Speakers)

	var tip string
	switch {
	case len(ranked) == 0:
		tip = "Nobody has written in the chat yet. Start with a short round where everyone shares one thought."
	case len(ranked) == 1:
		tip = fmt.Sprintf("Only %s has written so far. Invite the others to respond before moving on.", ranked[0].Name)
	default:
		top, quiet := ranked[0], ranked[len(ranked)-1]
		if top.Messages >= 2*quiet.Messages {
			tip = fmt.Sprintf("%s is carrying most of the conversation. Ask %s for their view next.", top.Name, quiet.Name)
		} else {
			tip = "Participation looks balanced. Summarise the main points and agree on a next step."
		}
	}

	return "Advisor is offline; suggestion based on the room context.\n\n" +
		BuildPrompt(req.Prompt, req.RecentChat, req.Speakers) +
		"\nSuggestion: " + tip
}
