// Package chatstore persists chat threads and messages behind a pluggable
// Store interface. Three backends ship: in-memory (tests, demos), SQLite
// (single-file embedded), and Azure Cosmos DB (managed, partitioned by
// user id). All backends honor the same optimistic-concurrency contract:
// every write produces a fresh etag and bumps the version by one.
package chatstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	ErrNotFound = errors.New("chatstore: not found")
	ErrConflict = errors.New("chatstore: etag mismatch")
	ErrBadToken = errors.New("chatstore: invalid continuation token")
)

// Roles stored on messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Thread is a persisted conversation container. UserID is the partition
// key; a thread is only reachable through its owner.
type Thread struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Title          string         `json:"title,omitempty"`
	IsBookmarked   bool           `json:"is_bookmarked"`
	IsDeleted      bool           `json:"is_deleted"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastModifiedAt time.Time      `json:"last_modified_at"`
	ETag           string         `json:"etag"`
	Version        int            `json:"version"`
}

// Message is a persisted chat message, co-partitioned with its thread.
type Message struct {
	ID             string         `json:"id"`
	ThreadID       string         `json:"thread_id"`
	UserID         string         `json:"user_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	IsDeleted      bool           `json:"is_deleted"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastModifiedAt time.Time      `json:"last_modified_at"`
	ETag           string         `json:"etag"`
	Version        int            `json:"version"`
}

// UpdateOptions controls optimistic concurrency on writes.
type UpdateOptions struct {
	// IfMatch makes the write conditional on the current etag when non-empty.
	IfMatch string
	// RetryOnConflict re-reads and re-applies the update once after an etag
	// mismatch.
	RetryOnConflict bool
}

// UpdateResult reports a conditional write's outcome. On conflict, Item
// holds the current stored state so the caller can surface it.
type UpdateResult[T any] struct {
	Item     *T
	Conflict bool
}

// ThreadUpdates names the mutable thread fields. Nil fields are untouched.
type ThreadUpdates struct {
	Title        *string
	IsBookmarked *bool
	TraceID      *string
	Metadata     map[string]any
}

// MessageUpdates names the mutable message fields.
type MessageUpdates struct {
	Content  *string
	Metadata map[string]any
}

// Sort columns for thread listings.
const (
	SortByLastModified = "last_modified_at"
	SortByCreated      = "created_at"
	SortByTitle        = "title"
)

// Thread listing limits.
const (
	DefaultThreadLimit = 20
	MaxThreadLimit     = 50
)

// Message listing limits.
const (
	DefaultMessageLimit = 30
	MaxMessageLimit     = 100
)

// ListThreadsOptions filters and pages a thread listing.
type ListThreadsOptions struct {
	UserID            string
	IncludeDeleted    bool
	IsBookmarked      *bool
	SortBy            string // defaults to last_modified_at
	SortOrder         string // "asc" or "desc", defaults to desc
	Limit             int    // capped at MaxThreadLimit, default DefaultThreadLimit
	ContinuationToken string
}

// ListMessagesOptions pages a message listing, always sorted by created_at
// ascending with id as the tie-break.
type ListMessagesOptions struct {
	Limit             int // capped at MaxMessageLimit, default DefaultMessageLimit
	ContinuationToken string
	Role              string // optional filter
	IncludeDeleted    bool
}

// Page is one page of a listing with an opaque continuation token.
type Page[T any] struct {
	Items             []T    `json:"items"`
	ContinuationToken string `json:"continuation_token,omitempty"`
	HasMore           bool   `json:"has_more"`
	TotalCount        *int   `json:"total_count,omitempty"`
}

// Store is the persistence contract. All operations scope access by the
// owning user; a thread owned by someone else behaves as missing.
type Store interface {
	// CreateThread persists t, allocating an id when absent. Version starts
	// at 1.
	CreateThread(ctx context.Context, t *Thread) (*Thread, error)

	// GetThread returns the thread or ErrNotFound. Soft-deleted threads are
	// hidden unless includeDeleted.
	GetThread(ctx context.Context, userID, id string, includeDeleted bool) (*Thread, error)

	// FindThreadOwner returns the owning user_id of a thread regardless of
	// partition, or ErrNotFound. It exists solely so the HTTP layer can
	// distinguish ownership mismatch (403) from a missing thread (404); it
	// never returns thread content.
	FindThreadOwner(ctx context.Context, id string) (string, error)

	// UpdateThread applies updates under the optimistic-concurrency options.
	UpdateThread(ctx context.Context, userID, id string, updates ThreadUpdates, opts UpdateOptions) (*UpdateResult[Thread], error)

	// DeleteThread soft-deletes the thread.
	DeleteThread(ctx context.Context, userID, id string, opts UpdateOptions) (*UpdateResult[Thread], error)

	// RestoreThread clears the soft-delete flag.
	RestoreThread(ctx context.Context, userID, id string, opts UpdateOptions) (*UpdateResult[Thread], error)

	// HardDeleteThread removes the thread and cascades to its messages.
	HardDeleteThread(ctx context.Context, userID, id string) error

	// ListThreads pages the user's threads.
	ListThreads(ctx context.Context, opts ListThreadsOptions) (*Page[Thread], error)

	// UpsertMessage inserts or replaces the message by id, bumping the
	// version on replace, and touches the parent thread's last_modified_at.
	UpsertMessage(ctx context.Context, m *Message) (*Message, error)

	// BulkUpsertMessages upserts a batch in order.
	BulkUpsertMessages(ctx context.Context, msgs []*Message) ([]*Message, error)

	// GetMessages pages the thread's messages by created_at ascending.
	GetMessages(ctx context.Context, userID, threadID string, opts ListMessagesOptions) (*Page[Message], error)

	// GetLastMessage returns the newest message or ErrNotFound.
	GetLastMessage(ctx context.Context, userID, threadID string) (*Message, error)

	// CountMessages counts the thread's non-deleted messages.
	CountMessages(ctx context.Context, userID, threadID string) (int, error)

	// UpdateMessage applies updates to one message.
	UpdateMessage(ctx context.Context, userID, threadID, id string, updates MessageUpdates, opts UpdateOptions) (*UpdateResult[Message], error)

	// DeleteMessage soft-deletes one message.
	DeleteMessage(ctx context.Context, userID, threadID, id string) error

	// HardDeleteMessage removes one message.
	HardDeleteMessage(ctx context.Context, userID, threadID, id string) error

	// BulkDeleteMessages soft-deletes all of a thread's messages, returning
	// the count.
	BulkDeleteMessages(ctx context.Context, userID, threadID string) (int, error)

	// PurgeDeletedThreads hard-deletes threads (and their messages) that
	// were soft-deleted before the cutoff, across all users. Returns the
	// number of threads removed. Idempotent; safe to run from multiple
	// instances.
	PurgeDeletedThreads(ctx context.Context, cutoff time.Time) (int, error)

	// GetThreadVersion reads the thread's version counter.
	GetThreadVersion(ctx context.Context, userID, id string) (int, error)

	// IncrementThreadVersion bumps the version counter without other
	// changes, for cache invalidation. Returns the new version.
	IncrementThreadVersion(ctx context.Context, userID, id string) (int, error)

	// IsHealthy reports whether the backend can serve requests.
	IsHealthy(ctx context.Context) bool

	// Close releases backend resources.
	Close() error
}
