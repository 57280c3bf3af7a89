package chatstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process backend. It implements the full contract
// including etags and versions, so the HTTP layer behaves identically
// across backends.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]*Thread            // key: userID + "/" + threadID
	messages map[string]map[string]*Message // key: thread key → message id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]*Thread),
		messages: make(map[string]map[string]*Message),
	}
}

func threadKey(userID, id string) string { return userID + "/" + id }

// newThreadID allocates a time-ordered thread id.
func newThreadID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func cloneThread(t *Thread) *Thread {
	out := *t
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func cloneMessage(m *Message) *Message {
	out := *m
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func (s *MemoryStore) CreateThread(ctx context.Context, t *Thread) (*Thread, error) {
	if t.UserID == "" {
		return nil, fmt.Errorf("chatstore: thread user_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneThread(t)
	if stored.ID == "" {
		stored.ID = newThreadID()
	}
	if existing, ok := s.threads[threadKey(stored.UserID, stored.ID)]; ok {
		return cloneThread(existing), nil
	}

	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.LastModifiedAt = now
	stored.Version = 1
	stored.ETag = newETag()
	stored.IsDeleted = false
	s.threads[threadKey(stored.UserID, stored.ID)] = stored
	return cloneThread(stored), nil
}

func (s *MemoryStore) GetThread(ctx context.Context, userID, id string, includeDeleted bool) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadKey(userID, id)]
	if !ok || (t.IsDeleted && !includeDeleted) {
		return nil, ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *MemoryStore) FindThreadOwner(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.threads {
		if t.ID == id {
			return t.UserID, nil
		}
	}
	return "", ErrNotFound
}

// mutateThread applies fn to the stored thread under the concurrency
// options, bumping etag and version on success.
func (s *MemoryStore) mutateThread(userID, id string, opts UpdateOptions, includeDeleted bool, fn func(*Thread)) (*UpdateResult[Thread], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; ; attempt++ {
		t, ok := s.threads[threadKey(userID, id)]
		if !ok || (t.IsDeleted && !includeDeleted) {
			return nil, ErrNotFound
		}
		if opts.IfMatch != "" && opts.IfMatch != t.ETag {
			if opts.RetryOnConflict && attempt == 0 {
				// Single silent retry: re-read and re-apply against the
				// current state.
				opts.IfMatch = t.ETag
				continue
			}
			return &UpdateResult[Thread]{Item: cloneThread(t), Conflict: true}, nil
		}

		fn(t)
		t.Version++
		t.ETag = newETag()
		t.LastModifiedAt = time.Now().UTC()
		return &UpdateResult[Thread]{Item: cloneThread(t)}, nil
	}
}

func (s *MemoryStore) UpdateThread(ctx context.Context, userID, id string, updates ThreadUpdates, opts UpdateOptions) (*UpdateResult[Thread], error) {
	return s.mutateThread(userID, id, opts, false, func(t *Thread) {
		if updates.Title != nil {
			t.Title = *updates.Title
		}
		if updates.IsBookmarked != nil {
			t.IsBookmarked = *updates.IsBookmarked
		}
		if updates.TraceID != nil {
			t.TraceID = *updates.TraceID
		}
		if updates.Metadata != nil {
			t.Metadata = updates.Metadata
		}
	})
}

func (s *MemoryStore) DeleteThread(ctx context.Context, userID, id string, opts UpdateOptions) (*UpdateResult[Thread], error) {
	return s.mutateThread(userID, id, opts, false, func(t *Thread) {
		t.IsDeleted = true
	})
}

func (s *MemoryStore) RestoreThread(ctx context.Context, userID, id string, opts UpdateOptions) (*UpdateResult[Thread], error) {
	return s.mutateThread(userID, id, opts, true, func(t *Thread) {
		t.IsDeleted = false
	})
}

func (s *MemoryStore) HardDeleteThread(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := threadKey(userID, id)
	if _, ok := s.threads[key]; !ok {
		return ErrNotFound
	}
	delete(s.threads, key)
	delete(s.messages, key)
	return nil
}

func (s *MemoryStore) ListThreads(ctx context.Context, opts ListThreadsOptions) (*Page[Thread], error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("chatstore: list threads requires user_id")
	}
	offset, err := decodeOffsetToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(opts.Limit, DefaultThreadLimit, MaxThreadLimit)

	s.mu.RLock()
	var all []*Thread
	for _, t := range s.threads {
		if t.UserID != opts.UserID {
			continue
		}
		if t.IsDeleted && !opts.IncludeDeleted {
			continue
		}
		if opts.IsBookmarked != nil && t.IsBookmarked != *opts.IsBookmarked {
			continue
		}
		all = append(all, t)
	}
	s.mu.RUnlock()

	sortThreads(all, opts.SortBy, opts.SortOrder)

	total := len(all)
	page := &Page[Thread]{Items: []Thread{}, TotalCount: &total}
	if offset < len(all) {
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		for _, t := range all[offset:end] {
			page.Items = append(page.Items, *cloneThread(t))
		}
		if end < len(all) {
			page.HasMore = true
			page.ContinuationToken = encodeOffsetToken(end)
		}
	}
	return page, nil
}

func sortThreads(threads []*Thread, sortBy, sortOrder string) {
	desc := !strings.EqualFold(sortOrder, "asc")
	less := func(a, b *Thread) bool {
		switch sortBy {
		case SortByCreated:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case SortByTitle:
			if a.Title != b.Title {
				return a.Title < b.Title
			}
		default: // last_modified_at
			if !a.LastModifiedAt.Equal(b.LastModifiedAt) {
				return a.LastModifiedAt.Before(b.LastModifiedAt)
			}
		}
		return a.ID < b.ID
	}
	sort.SliceStable(threads, func(i, j int) bool {
		if desc {
			return less(threads[j], threads[i])
		}
		return less(threads[i], threads[j])
	})
}

func (s *MemoryStore) UpsertMessage(ctx context.Context, m *Message) (*Message, error) {
	if m.ID == "" || m.ThreadID == "" || m.UserID == "" {
		return nil, fmt.Errorf("chatstore: message id, thread_id and user_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertMessageLocked(m)
}

func (s *MemoryStore) upsertMessageLocked(m *Message) (*Message, error) {
	key := threadKey(m.UserID, m.ThreadID)
	thread, ok := s.threads[key]
	if !ok {
		return nil, ErrNotFound
	}

	byID := s.messages[key]
	if byID == nil {
		byID = make(map[string]*Message)
		s.messages[key] = byID
	}

	now := time.Now().UTC()
	stored := cloneMessage(m)
	if prev, ok := byID[m.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
		stored.Version = prev.Version + 1
	} else {
		stored.CreatedAt = now
		stored.Version = 1
	}
	stored.LastModifiedAt = now
	stored.ETag = newETag()
	byID[m.ID] = stored

	// A message write is a thread write too.
	thread.LastModifiedAt = now
	thread.Version++
	thread.ETag = newETag()

	return cloneMessage(stored), nil
}

func (s *MemoryStore) BulkUpsertMessages(ctx context.Context, msgs []*Message) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		stored, err := s.upsertMessageLocked(m)
		if err != nil {
			return out, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// orderedMessages returns the thread's messages sorted by created_at
// ascending with id as the tie-break.
func (s *MemoryStore) orderedMessages(userID, threadID string, includeDeleted bool, role string) []*Message {
	key := threadKey(userID, threadID)
	var out []*Message
	for _, m := range s.messages[key] {
		if m.IsDeleted && !includeDeleted {
			continue
		}
		if role != "" && m.Role != role {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) GetMessages(ctx context.Context, userID, threadID string, opts ListMessagesOptions) (*Page[Message], error) {
	offset, err := decodeOffsetToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(opts.Limit, DefaultMessageLimit, MaxMessageLimit)

	s.mu.RLock()
	if _, ok := s.threads[threadKey(userID, threadID)]; !ok {
		s.mu.RUnlock()
		return nil, ErrNotFound
	}
	all := s.orderedMessages(userID, threadID, opts.IncludeDeleted, opts.Role)
	s.mu.RUnlock()

	total := len(all)
	page := &Page[Message]{Items: []Message{}, TotalCount: &total}
	if offset < len(all) {
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		for _, m := range all[offset:end] {
			page.Items = append(page.Items, *cloneMessage(m))
		}
		if end < len(all) {
			page.HasMore = true
			page.ContinuationToken = encodeOffsetToken(end)
		}
	}
	return page, nil
}

func (s *MemoryStore) GetLastMessage(ctx context.Context, userID, threadID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.orderedMessages(userID, threadID, false, "")
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	return cloneMessage(all[len(all)-1]), nil
}

func (s *MemoryStore) CountMessages(ctx context.Context, userID, threadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orderedMessages(userID, threadID, false, "")), nil
}

func (s *MemoryStore) UpdateMessage(ctx context.Context, userID, threadID, id string, updates MessageUpdates, opts UpdateOptions) (*UpdateResult[Message], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.messages[threadKey(userID, threadID)]
	m, ok := byID[id]
	if !ok || m.IsDeleted {
		return nil, ErrNotFound
	}
	if opts.IfMatch != "" && opts.IfMatch != m.ETag {
		return &UpdateResult[Message]{Item: cloneMessage(m), Conflict: true}, nil
	}

	if updates.Content != nil {
		m.Content = *updates.Content
	}
	if updates.Metadata != nil {
		m.Metadata = updates.Metadata
	}
	m.Version++
	m.ETag = newETag()
	m.LastModifiedAt = time.Now().UTC()
	return &UpdateResult[Message]{Item: cloneMessage(m)}, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, userID, threadID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.messages[threadKey(userID, threadID)]
	m, ok := byID[id]
	if !ok || m.IsDeleted {
		return ErrNotFound
	}
	m.IsDeleted = true
	m.Version++
	m.ETag = newETag()
	m.LastModifiedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) HardDeleteMessage(ctx context.Context, userID, threadID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.messages[threadKey(userID, threadID)]
	if _, ok := byID[id]; !ok {
		return ErrNotFound
	}
	delete(byID, id)
	return nil
}

func (s *MemoryStore) BulkDeleteMessages(ctx context.Context, userID, threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, m := range s.messages[threadKey(userID, threadID)] {
		if m.IsDeleted {
			continue
		}
		m.IsDeleted = true
		m.Version++
		m.ETag = newETag()
		m.LastModifiedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) PurgeDeletedThreads(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, t := range s.threads {
		if t.IsDeleted && t.LastModifiedAt.Before(cutoff) {
			delete(s.threads, key)
			delete(s.messages, key)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) GetThreadVersion(ctx context.Context, userID, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadKey(userID, id)]
	if !ok {
		return 0, ErrNotFound
	}
	return t.Version, nil
}

func (s *MemoryStore) IncrementThreadVersion(ctx context.Context, userID, id string) (int, error) {
	res, err := s.mutateThread(userID, id, UpdateOptions{}, true, func(*Thread) {})
	if err != nil {
		return 0, err
	}
	return res.Item.Version, nil
}

func (s *MemoryStore) IsHealthy(ctx context.Context) bool { return true }

func (s *MemoryStore) Close() error { return nil }
