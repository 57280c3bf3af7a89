package agent

import (
	"github.com/parleyhq/parley/pkg/conversation"
	"github.com/parleyhq/parley/pkg/llm"
)

// Style names a conversation style selected by the client.
type Style string

const (
	StyleBalanced Style = "balanced"
	StyleCreative Style = "creative"
	StylePrecise  Style = "precise"
)

// Temperature maps a style to a sampling temperature.
// Unknown or empty styles behave as balanced.
func (s Style) Temperature() float64 {
	switch s {
	case StyleCreative:
		return 0.9
	case StylePrecise:
		return 0.2
	default:
		return 0.7
	}
}

// Valid reports whether s is one of the accepted styles or empty.
func (s Style) Valid() bool {
	switch s {
	case "", StyleBalanced, StyleCreative, StylePrecise:
		return true
	}
	return false
}

// Context carries everything an agent needs for one turn. It is passed by
// pointer for efficiency but agents treat it as read-only except for the
// phase-result fields, which the orchestrator threads between agents.
type Context struct {
	TraceID  string
	UserID   string
	ThreadID string

	// History is the client-supplied message history, most recent last.
	History []conversation.Message

	// Per-request generation knobs.
	Style        Style
	MaxTokens    int
	Temperature  *float64
	SystemPrompt string

	Metadata map[string]any

	// Phase results threaded between agents by the orchestrator.
	Plan     *ExecutionPlan
	Findings *SearchResults
	Ranking  *RankingResult
}

// Query returns the most recent user message content, the turn's effective
// query.
func (c *Context) Query() string {
	if m := conversation.LastUserMessage(c.History); m != nil {
		return m.Content
	}
	return ""
}

// LLMOptions resolves the generation options for this turn. An explicit
// temperature wins over the style-derived one.
func (c *Context) LLMOptions() llm.Options {
	opts := llm.Options{
		MaxTokens:    c.MaxTokens,
		Temperature:  c.Temperature,
		SystemPrompt: c.SystemPrompt,
	}
	if opts.Temperature == nil {
		t := c.Style.Temperature()
		opts.Temperature = &t
	}
	return opts
}

// LLMMessages converts the trimmed history into provider messages.
func (c *Context) LLMMessages() []llm.Message {
	prepared := conversation.PrepareForLLM(c.History, conversation.DefaultTrimConfig())
	out := make([]llm.Message, 0, len(prepared))
	for _, m := range prepared {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out
}
