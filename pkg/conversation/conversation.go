// Package conversation holds stateless helpers for preparing message
// history before it is handed to the model.
package conversation

import (
	"fmt"
	"strings"
)

// Role labels a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of client-supplied history. ID is opaque and
// client-assigned; ordering is positional.
type Message struct {
	ID       string         `json:"id"`
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TrimConfig bounds the history sent to the model.
type TrimConfig struct {
	// MaxMessages keeps at most this many non-system messages from the tail.
	MaxMessages int
	// MaxTokens keeps the tail of the conversation within this approximate
	// token budget (4 chars ≈ 1 token).
	MaxTokens int
}

// DefaultTrimConfig matches the service defaults.
func DefaultTrimConfig() TrimConfig {
	return TrimConfig{MaxMessages: 30, MaxTokens: 8000}
}

// charsPerToken is the approximation used for budget trimming.
const charsPerToken = 4

// EstimateTokens approximates the token count of a string.
func EstimateTokens(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// PrepareForLLM returns the history with system messages preserved, the
// conversation trimmed to MaxMessages from the tail, then further trimmed
// to MaxTokens from the tail. The input is never mutated.
func PrepareForLLM(history []Message, cfg TrimConfig) []Message {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultTrimConfig().MaxMessages
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultTrimConfig().MaxTokens
	}

	var system, rest []Message
	for _, m := range history {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	if len(rest) > cfg.MaxMessages {
		rest = rest[len(rest)-cfg.MaxMessages:]
	}

	// Token budget: walk from the tail and keep what fits.
	budget := cfg.MaxTokens
	for _, m := range system {
		budget -= EstimateTokens(m.Content)
	}
	keepFrom := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := EstimateTokens(rest[i].Content)
		if cost > budget {
			break
		}
		budget -= cost
		keepFrom = i
	}
	rest = rest[keepFrom:]

	out := make([]Message, 0, len(system)+len(rest))
	out = append(out, system...)
	out = append(out, rest...)
	return out
}

// FormatAsContext flattens the last n turns into a plain-text transcript.
func FormatAsContext(history []Message, n int) string {
	if n <= 0 || n > len(history) {
		n = len(history)
	}
	var sb strings.Builder
	for _, m := range history[len(history)-n:] {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// LastUserMessage returns the most recent user message, or nil.
func LastUserMessage(history []Message) *Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return &history[i]
		}
	}
	return nil
}

// LastAssistantMessage returns the most recent assistant message, or nil.
func LastAssistantMessage(history []Message) *Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleAssistant {
			return &history[i]
		}
	}
	return nil
}

// DeduplicateByID drops messages whose ID was already seen, keeping the
// first occurrence. Messages without an ID are always kept.
func DeduplicateByID(history []Message) []Message {
	seen := make(map[string]bool, len(history))
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if m.ID != "" {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		out = append(out, m)
	}
	return out
}
