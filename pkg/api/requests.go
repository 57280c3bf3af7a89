package api

import (
	"fmt"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/conversation"
)

// maxMessageChars bounds a single history message on the way in.
const maxMessageChars = 100_000

// StreamChatRequest is the HTTP request body for POST /chat/stream.
type StreamChatRequest struct {
	ThreadID          string                 `json:"thread_id"`
	UserID            string                 `json:"user_id"`
	AgentType         string                 `json:"agent_type,omitempty"`
	Messages          []conversation.Message `json:"messages"`
	ConversationStyle string                 `json:"conversation_style,omitempty"`
	MaxTokens         int                    `json:"max_tokens,omitempty"`
	Temperature       *float64               `json:"temperature,omitempty"`
	SystemPrompt      string                 `json:"system_prompt,omitempty"`
}

// Validate checks the request before any stream state is created.
func (r *StreamChatRequest) Validate() error {
	if r.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}

	hasUser := false
	for i, m := range r.Messages {
		switch m.Role {
		case conversation.RoleUser, conversation.RoleAssistant, conversation.RoleSystem:
		default:
			return fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
		if len(m.Content) > maxMessageChars {
			return fmt.Errorf("messages[%d]: content exceeds maximum length of 100,000 characters", i)
		}
		if m.Role == conversation.RoleUser {
			hasUser = true
		}
	}
	if !hasUser {
		return fmt.Errorf("at least one user message is required")
	}

	if !agent.Style(r.ConversationStyle).Valid() {
		return fmt.Errorf("unknown conversation_style %q", r.ConversationStyle)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	return nil
}

// StopChatRequest is the HTTP request body for POST /chat/stop.
type StopChatRequest struct {
	ThreadID string `json:"thread_id"`
}

// UpdateThreadRequest is the HTTP request body for PATCH /chat/threads/:id.
type UpdateThreadRequest struct {
	Title        *string        `json:"title,omitempty"`
	IsBookmarked *bool          `json:"is_bookmarked,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BookmarkThreadRequest is the optional body for the bookmark endpoint.
// Without a body the bookmark state is toggled.
type BookmarkThreadRequest struct {
	Bookmarked *bool `json:"bookmarked,omitempty"`
}
