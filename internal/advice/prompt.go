package advice

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"huddle/internal/core"
)

// ContextSize is the number of chat entries included in a prompt.
const ContextSize = 40

const (
	noChatPlaceholder = "(no chat yet)"
	noDataPlaceholder = "(no data)"
)

// ChatEntry is one chat line supplied as advisory context.
type ChatEntry struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	TS      int64  `json:"ts,omitempty"`
}

// Speaker is one row of the participation histogram.
type Speaker struct {
	Name     string
	Messages int
}

// FromHistory converts registry chat into prompt entries.
func FromHistory(history []core.ChatMessage) []ChatEntry {
	out := make([]ChatEntry, 0, len(history))
	for _, m := range history {
		out = append(out, ChatEntry{Name: m.SenderName, Message: m.Text, TS: m.Timestamp.UnixMilli()})
	}
	return out
}

// CountSpeakers builds a per-sender message count from chat entries.
func CountSpeakers(chat []ChatEntry) map[string]int {
	counts := make(map[string]int)
	for _, c := range chat {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = "anonymous"
		}
		counts[name]++
	}
	return counts
}

// RankSpeakers orders a histogram by message count, most active first, with
// ties broken by name.
func RankSpeakers(speakers map[string]int) []Speaker {
	out := make([]Speaker, 0, len(speakers))
	for name, n := range speakers {
		out = append(out, Speaker{Name: name, Messages: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Messages != out[j].Messages {
			return out[i].Messages > out[j].Messages
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// BuildPrompt renders the user message sent upstream. Both context sections
// are always present; empty ones carry a placeholder.
func BuildPrompt(prompt string, chat []ChatEntry, speakers map[string]int) string {
	if len(chat) > ContextSize {
		chat = chat[len(chat)-ContextSize:]
	}

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(prompt))
	b.WriteString("\n\nRecent chat:\n")
	if len(chat) == 0 {
		b.WriteString(noChatPlaceholder)
		b.WriteString("\n")
	}
	for _, c := range chat {
		if c.TS > 0 {
			fmt.Fprintf(&b, "[%s] ", time.UnixMilli(c.TS).UTC().Format("15:04:05"))
		}
		fmt.Fprintf(&b, "%s: %s\n", c.Name, c.Message)
	}

	b.WriteString("\nParticipation (messages per speaker):\n")
	ranked := RankSpeakers(speakers)
	if len(ranked) == 0 {
		b.WriteString(noDataPlaceholder)
		b.WriteString("\n")
	}
	for _, s := range ranked {
		fmt.Fprintf(&b, "- %s: %d\n", s.Name, s.Messages)
	}
	return b.String()
}
