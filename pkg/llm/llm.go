// Package llm provides a unified streaming/completion façade over multiple
// chat-model providers.
//
// One Client is created at startup from configuration and shared by every
// agent in the process; all state beyond configuration is per-call. Errors
// from the upstream provider are delivered in-band as ErrorChunk values so
// a stream always ends by closing its channel.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role labels one side of the conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation sent to the provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single Stream or Complete call.
// The zero value means provider defaults.
type Options struct {
	// MaxTokens bounds the number of generated tokens. 0 = provider default.
	MaxTokens int
	// Temperature is the sampling temperature in [0,1]. nil = provider default.
	Temperature *float64
	// SystemPrompt overrides the default system prompt when non-empty.
	SystemPrompt string
	// Timeout bounds the whole call. 0 = the provider's default timeout.
	Timeout time.Duration
	// JSONMode constrains the provider to emit a single JSON object.
	// Honored by Complete only.
	JSONMode bool
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeError ChunkType = "error"
)

// TextChunk is a piece of the model's text response, in emission order.
type TextChunk struct{ Content string }

// ErrorChunk signals a terminal upstream failure. It is the last chunk
// before the channel closes.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType  { return ChunkTypeText }
func (c *ErrorChunk) chunkType() ChunkType { return ChunkTypeError }

// Err converts the chunk into an error carrying the matching sentinel, so
// stream consumers classify in-band failures the same way as call errors.
func (c *ErrorChunk) Err() error {
	if c.Code == "TIMEOUT" {
		return fmt.Errorf("%w: %s", ErrTimeout, c.Message)
	}
	if c.Code != "" {
		return fmt.Errorf("%w: %s: %s", ErrUpstream, c.Code, c.Message)
	}
	return fmt.Errorf("%w: %s", ErrUpstream, c.Message)
}

// Client is the unified provider façade. A single shared instance per
// process is expected.
type Client interface {
	// Stream sends the conversation and returns a channel of chunks.
	// The channel is closed when the stream completes; on upstream error a
	// single ErrorChunk is delivered and the channel closes.
	Stream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, error)

	// Complete sends the conversation and returns the full response text.
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)

	// Close releases provider resources.
	Close() error
}

// ErrTimeout is returned (wrapped) by Complete and surfaced as an
// ErrorChunk by Stream when no terminal item arrives within the call
// timeout.
var ErrTimeout = errors.New("llm: call timed out")

// ErrUpstream wraps non-timeout provider failures, letting callers map
// them to their upstream error code without string matching.
var ErrUpstream = errors.New("llm: upstream provider error")

// IsUpstream reports whether err is a provider-side failure.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstream)
}

// IsTimeout reports whether err represents a call timeout, including a
// bare context deadline from the transport.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Default per-call timeouts. Remote completion calls get 30s; the local
// provider is slower and gets 60s for completions.
const (
	DefaultCompleteTimeout = 30 * time.Second
	OllamaCompleteTimeout  = 60 * time.Second
	DefaultStreamTimeout   = 90 * time.Second
)

// withSystemPrompt prepends or replaces the system message according to
// opts.SystemPrompt. The input slice is never mutated.
func withSystemPrompt(messages []Message, opts Options) []Message {
	if opts.SystemPrompt == "" {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: opts.SystemPrompt})
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue // replaced by the override
		}
		out = append(out, m)
	}
	return out
}

// callTimeout resolves the effective timeout for one call.
func callTimeout(opts Options, fallback time.Duration) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return fallback
}

// splitTokens splits text into word-level tokens that reassemble exactly,
// used by the mock provider and by tests.
func splitTokens(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	tokens := make([]string, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			tokens[i] = w + " "
		} else {
			tokens[i] = w
		}
	}
	return tokens
}

// lastUserContent returns the content of the most recent user message.
func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func systemContent(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

// upstreamError converts a transport-level failure into the error shape
// callers report to the stream.
func upstreamError(provider string, err error) error {
	if IsTimeout(err) {
		return fmt.Errorf("%s: %w", provider, ErrTimeout)
	}
	return fmt.Errorf("%s: %w: %v", provider, ErrUpstream, err)
}
