package api

import "github.com/parleyhq/parley/pkg/chatstore"

// AgentsResponse is the HTTP response for GET /chat/agents.
type AgentsResponse struct {
	Agents []string `json:"agents"`
}

// StopChatResponse is the HTTP response for POST /chat/stop.
type StopChatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ChatStatusResponse is the HTTP response for GET /chat/status.
type ChatStatusResponse struct {
	ActiveStreams      int  `json:"active_streams"`
	RedisEnabled       bool `json:"redis_enabled"`
	PersistenceEnabled bool `json:"persistence_enabled"`
}

// ThreadResponse carries a thread together with its current etag, returned
// by mutating thread endpoints.
type ThreadResponse struct {
	Thread *chatstore.Thread `json:"thread"`
	ETag   string            `json:"etag"`
}

// BookmarkResponse is the HTTP response for the bookmark endpoint.
type BookmarkResponse struct {
	Thread       *chatstore.Thread `json:"thread"`
	IsBookmarked bool              `json:"is_bookmarked"`
}

// SuccessResponse acknowledges a delete.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// CountResponse is the HTTP response for the message count endpoint.
type CountResponse struct {
	Count int `json:"count"`
}
