package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
)

// CosmosConfig configures the managed document-store backend. One container
// holds both threads and messages, partitioned by /user_id, discriminated
// by a doc_type field.
type CosmosConfig struct {
	Endpoint  string
	Key       string
	Database  string
	Container string
	// ConsistencyLevel overrides the account default for reads and queries:
	// strong, bounded_staleness, session, eventual or consistent_prefix.
	// Empty uses the account default.
	ConsistencyLevel string
}

// CosmosStore is the Azure Cosmos DB backend. Every operation runs under
// the partition key user_id; there are no cross-partition scans.
type CosmosStore struct {
	container   *azcosmos.ContainerClient
	consistency *azcosmos.ConsistencyLevel
}

// NewCosmosStore connects to the configured database and container.
func NewCosmosStore(cfg CosmosConfig) (*CosmosStore, error) {
	level, err := parseConsistencyLevel(cfg.ConsistencyLevel)
	if err != nil {
		return nil, err
	}
	cred, err := azcosmos.NewKeyCredential(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("cosmos credential: %w", err)
	}
	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("cosmos client: %w", err)
	}
	container, err := client.NewContainer(cfg.Database, cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("cosmos container %s/%s: %w", cfg.Database, cfg.Container, err)
	}
	return &CosmosStore{container: container, consistency: level}, nil
}

// parseConsistencyLevel maps the configured name onto the SDK level.
// The SDK exposes consistency per request, not per client, so the parsed
// level is attached to every read and query the store issues.
func parseConsistencyLevel(s string) (*azcosmos.ConsistencyLevel, error) {
	var level azcosmos.ConsistencyLevel
	switch strings.ToLower(s) {
	case "":
		return nil, nil
	case "strong":
		level = azcosmos.ConsistencyLevelStrong
	case "bounded_staleness", "boundedstaleness":
		level = azcosmos.ConsistencyLevelBoundedStaleness
	case "session":
		level = azcosmos.ConsistencyLevelSession
	case "eventual":
		level = azcosmos.ConsistencyLevelEventual
	case "consistent_prefix", "consistentprefix":
		level = azcosmos.ConsistencyLevelConsistentPrefix
	default:
		return nil, fmt.Errorf("cosmos: unknown consistency level %q", s)
	}
	return &level, nil
}

// readOptions carries the configured read consistency, nil for the default.
func (s *CosmosStore) readOptions() *azcosmos.ItemOptions {
	if s.consistency == nil {
		return nil
	}
	return &azcosmos.ItemOptions{ConsistencyLevel: s.consistency}
}

// Document ids are prefixed by type so a thread and a message can never
// collide inside the shared container.
func threadDocID(id string) string  { return "thread_" + id }
func messageDocID(threadID, id string) string { return "message_" + threadID + "_" + id }

type cosmosThreadDoc struct {
	DocID   string `json:"id"`
	DocType string `json:"doc_type"`

	ThreadID       string         `json:"thread_id"`
	UserID         string         `json:"user_id"`
	Title          string         `json:"title,omitempty"`
	IsBookmarked   bool           `json:"is_bookmarked"`
	IsDeleted      bool           `json:"is_deleted"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastModifiedAt time.Time      `json:"last_modified_at"`
	// ETag is the backend's own _etag system property. Never written by us;
	// Cosmos assigns a fresh value on every write.
	ETag    string `json:"_etag,omitempty"`
	Version int    `json:"version"`
}

type cosmosMessageDoc struct {
	DocID   string `json:"id"`
	DocType string `json:"doc_type"`

	MessageID      string         `json:"message_id"`
	ThreadID       string         `json:"thread_id"`
	UserID         string         `json:"user_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	IsDeleted      bool           `json:"is_deleted"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastModifiedAt time.Time      `json:"last_modified_at"`
	ETag           string         `json:"_etag,omitempty"`
	Version        int            `json:"version"`
}

func toThreadDoc(t *Thread) *cosmosThreadDoc {
	return &cosmosThreadDoc{
		DocID: threadDocID(t.ID), DocType: "thread",
		ThreadID: t.ID, UserID: t.UserID, Title: t.Title,
		IsBookmarked: t.IsBookmarked, IsDeleted: t.IsDeleted,
		Metadata: t.Metadata, TraceID: t.TraceID,
		CreatedAt: t.CreatedAt, LastModifiedAt: t.LastModifiedAt,
		Version: t.Version,
	}
}

func (d *cosmosThreadDoc) thread() *Thread {
	return &Thread{
		ID: d.ThreadID, UserID: d.UserID, Title: d.Title,
		IsBookmarked: d.IsBookmarked, IsDeleted: d.IsDeleted,
		Metadata: d.Metadata, TraceID: d.TraceID,
		CreatedAt: d.CreatedAt, LastModifiedAt: d.LastModifiedAt,
		ETag: d.ETag, Version: d.Version,
	}
}

func toMessageDoc(m *Message) *cosmosMessageDoc {
	return &cosmosMessageDoc{
		DocID: messageDocID(m.ThreadID, m.ID), DocType: "message",
		MessageID: m.ID, ThreadID: m.ThreadID, UserID: m.UserID,
		Role: m.Role, Content: m.Content, IsDeleted: m.IsDeleted,
		Metadata: m.Metadata, CreatedAt: m.CreatedAt,
		LastModifiedAt: m.LastModifiedAt, Version: m.Version,
	}
}

func (d *cosmosMessageDoc) message() *Message {
	return &Message{
		ID: d.MessageID, ThreadID: d.ThreadID, UserID: d.UserID,
		Role: d.Role, Content: d.Content, IsDeleted: d.IsDeleted,
		Metadata: d.Metadata, CreatedAt: d.CreatedAt,
		LastModifiedAt: d.LastModifiedAt, ETag: d.ETag, Version: d.Version,
	}
}

func isCosmosNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func isCosmosPreconditionFailed(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusPreconditionFailed
}

// readThreadDoc reads a thread with its native etag for guarded replaces.
// The native etag is also the one surfaced on the entity.
func (s *CosmosStore) readThreadDoc(ctx context.Context, userID, id string) (*cosmosThreadDoc, azcore.ETag, error) {
	pk := azcosmos.NewPartitionKeyString(userID)
	resp, err := s.container.ReadItem(ctx, pk, threadDocID(id), s.readOptions())
	if err != nil {
		if isCosmosNotFound(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("read thread: %w", err)
	}
	var doc cosmosThreadDoc
	if err := json.Unmarshal(resp.Value, &doc); err != nil {
		return nil, "", fmt.Errorf("decode thread: %w", err)
	}
	doc.ETag = string(resp.ETag)
	return &doc, resp.ETag, nil
}

func (s *CosmosStore) CreateThread(ctx context.Context, t *Thread) (*Thread, error) {
	if t.UserID == "" {
		return nil, fmt.Errorf("chatstore: thread user_id is required")
	}
	stored := *t
	if stored.ID == "" {
		stored.ID = newThreadID()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.LastModifiedAt = now
	stored.Version = 1
	stored.IsDeleted = false

	raw, err := json.Marshal(toThreadDoc(&stored))
	if err != nil {
		return nil, err
	}
	pk := azcosmos.NewPartitionKeyString(stored.UserID)
	resp, err := s.container.CreateItem(ctx, pk, raw, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
			// Already exists: create-or-get semantics.
			doc, _, err := s.readThreadDoc(ctx, stored.UserID, stored.ID)
			if err != nil {
				return nil, err
			}
			return doc.thread(), nil
		}
		return nil, fmt.Errorf("create thread: %w", err)
	}
	stored.ETag = string(resp.ETag)
	return &stored, nil
}

func (s *CosmosStore) GetThread(ctx context.Context, userID, id string, includeDeleted bool) (*Thread, error) {
	doc, _, err := s.readThreadDoc(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if doc.IsDeleted && !includeDeleted {
		return nil, ErrNotFound
	}
	return doc.thread(), nil
}

func (s *CosmosStore) FindThreadOwner(ctx context.Context, id string) (string, error) {
	// Cross-partition query: an empty partition key fans the lookup out to
	// all partitions. Used only for the ownership check, never for reads.
	pager := s.container.NewQueryItemsPager(
		`SELECT VALUE c.user_id FROM c WHERE c.doc_type = 'thread' AND c.thread_id = @thread_id`,
		azcosmos.NewPartitionKey(), &azcosmos.QueryOptions{
			ConsistencyLevel: s.consistency,
			QueryParameters: []azcosmos.QueryParameter{{Name: "@thread_id", Value: id}},
		})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("find thread owner: %w", err)
		}
		for _, raw := range page.Items {
			var userID string
			if err := json.Unmarshal(raw, &userID); err != nil {
				return "", err
			}
			return userID, nil
		}
	}
	return "", ErrNotFound
}

// mutateThread applies fn guarded by the backend's native etag. The etag the
// contract exposes is that same native value, so IfMatch checks and the
// server-side precondition agree.
func (s *CosmosStore) mutateThread(ctx context.Context, userID, id string, opts UpdateOptions, includeDeleted bool, fn func(*Thread)) (*UpdateResult[Thread], error) {
	for attempt := 0; ; attempt++ {
		doc, nativeETag, err := s.readThreadDoc(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if doc.IsDeleted && !includeDeleted {
			return nil, ErrNotFound
		}
		t := doc.thread()
		if opts.IfMatch != "" && opts.IfMatch != t.ETag {
			if opts.RetryOnConflict && attempt == 0 {
				opts.IfMatch = ""
				continue
			}
			return &UpdateResult[Thread]{Item: t, Conflict: true}, nil
		}

		fn(t)
		t.Version++
		t.LastModifiedAt = time.Now().UTC()

		raw, err := json.Marshal(toThreadDoc(t))
		if err != nil {
			return nil, err
		}
		pk := azcosmos.NewPartitionKeyString(userID)
		resp, err := s.container.ReplaceItem(ctx, pk, threadDocID(id), raw, &azcosmos.ItemOptions{
			IfMatchEtag: &nativeETag,
		})
		if err != nil {
			if isCosmosPreconditionFailed(err) && attempt < 2 {
				continue
			}
			return nil, fmt.Errorf("replace thread: %w", err)
		}
		t.ETag = string(resp.ETag)
		return &UpdateResult[Thread]{Item: t}, nil
	}
}

func (s *CosmosStore) UpdateThread(ctx context.Context, userID, id string, updates ThreadUpdates, opts UpdateOptions) (*UpdateResult[Thread], error) {
	return s.mutateThread(ctx, userID, id, opts, false, func(t *Thread) {
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

func (s *CosmosStore) DeleteThread(ctx context.Context, userID, id string, opts UpdateOptions) (*UpdateResult[Thread], error) {
	return s.mutateThread(ctx, userID, id, opts, false, func(t *Thread) { t.IsDeleted = true })
}

func (s *CosmosStore) RestoreThread(ctx context.Context, userID, id string, opts UpdateOptions) (*UpdateResult[Thread], error) {
	return s.mutateThread(ctx, userID, id, opts, true, func(t *Thread) { t.IsDeleted = false })
}

func (s *CosmosStore) HardDeleteThread(ctx context.Context, userID, id string) error {
	pk := azcosmos.NewPartitionKeyString(userID)
	if _, err := s.container.DeleteItem(ctx, pk, threadDocID(id), nil); err != nil {
		if isCosmosNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete thread: %w", err)
	}

	// Cascade within the partition.
	ids, err := s.messageDocIDs(ctx, userID, id)
	if err != nil {
		return err
	}
	for _, docID := range ids {
		if _, err := s.container.DeleteItem(ctx, pk, docID, nil); err != nil && !isCosmosNotFound(err) {
			return fmt.Errorf("cascade delete message: %w", err)
		}
	}
	return nil
}

func (s *CosmosStore) messageDocIDs(ctx context.Context, userID, threadID string) ([]string, error) {
	pk := azcosmos.NewPartitionKeyString(userID)
	pager := s.container.NewQueryItemsPager(
		`SELECT VALUE c.id FROM c WHERE c.doc_type = 'message' AND c.thread_id = @thread_id`,
		pk, &azcosmos.QueryOptions{
			ConsistencyLevel: s.consistency,
			QueryParameters: []azcosmos.QueryParameter{{Name: "@thread_id", Value: threadID}},
		})

	var ids []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query message ids: %w", err)
		}
		for _, raw := range page.Items {
			var id string
			if err := json.Unmarshal(raw, &id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *CosmosStore) ListThreads(ctx context.Context, opts ListThreadsOptions) (*Page[Thread], error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("chatstore: list threads requires user_id")
	}
	native, err := decodeNativeToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(opts.Limit, DefaultThreadLimit, MaxThreadLimit)

	where := []string{"c.doc_type = 'thread'"}
	params := []azcosmos.QueryParameter{}
	if !opts.IncludeDeleted {
		where = append(where, "c.is_deleted = false")
	}
	if opts.IsBookmarked != nil {
		where = append(where, "c.is_bookmarked = @bookmarked")
		params = append(params, azcosmos.QueryParameter{Name: "@bookmarked", Value: *opts.IsBookmarked})
	}

	column := "c.last_modified_at"
	switch opts.SortBy {
	case SortByCreated:
		column = "c.created_at"
	case SortByTitle:
		column = "c.title"
	}
	direction := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		direction = "ASC"
	}

	query := fmt.Sprintf("SELECT * FROM c WHERE %s ORDER BY %s %s",
		strings.Join(where, " AND "), column, direction)

	qopts := &azcosmos.QueryOptions{
		PageSizeHint:     int32(limit),
		QueryParameters:  params,
		ConsistencyLevel: s.consistency,
	}
	if native != "" {
		qopts.ContinuationToken = &native
	}

	pk := azcosmos.NewPartitionKeyString(opts.UserID)
	pager := s.container.NewQueryItemsPager(query, pk, qopts)
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	page := &Page[Thread]{Items: []Thread{}}
	for _, raw := range resp.Items {
		var doc cosmosThreadDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode thread: %w", err)
		}
		page.Items = append(page.Items, *doc.thread())
	}
	if resp.ContinuationToken != nil && *resp.ContinuationToken != "" {
		page.HasMore = true
		page.ContinuationToken = encodeNativeToken(*resp.ContinuationToken)
	}
	return page, nil
}

func (s *CosmosStore) UpsertMessage(ctx context.Context, m *Message) (*Message, error) {
	if m.ID == "" || m.ThreadID == "" || m.UserID == "" {
		return nil, fmt.Errorf("chatstore: message id, thread_id and user_id are required")
	}
	if _, _, err := s.readThreadDoc(ctx, m.UserID, m.ThreadID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored := *m
	stored.LastModifiedAt = now

	prev, _, err := s.getMessageDoc(ctx, m.UserID, m.ThreadID, m.ID)
	switch {
	case err == nil:
		stored.CreatedAt = prev.CreatedAt
		stored.Version = prev.Version + 1
	case errors.Is(err, ErrNotFound):
		stored.CreatedAt = now
		stored.Version = 1
	default:
		return nil, err
	}

	raw, err := json.Marshal(toMessageDoc(&stored))
	if err != nil {
		return nil, err
	}
	pk := azcosmos.NewPartitionKeyString(stored.UserID)
	resp, err := s.container.UpsertItem(ctx, pk, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert message: %w", err)
	}
	stored.ETag = string(resp.ETag)

	if _, err := s.mutateThread(ctx, m.UserID, m.ThreadID, UpdateOptions{}, true, func(*Thread) {}); err != nil {
		return nil, fmt.Errorf("touch thread: %w", err)
	}
	return &stored, nil
}

func (s *CosmosStore) BulkUpsertMessages(ctx context.Context, msgs []*Message) ([]*Message, error) {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		stored, err := s.UpsertMessage(ctx, m)
		if err != nil {
			return out, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *CosmosStore) getMessageDoc(ctx context.Context, userID, threadID, id string) (*cosmosMessageDoc, azcore.ETag, error) {
	pk := azcosmos.NewPartitionKeyString(userID)
	resp, err := s.container.ReadItem(ctx, pk, messageDocID(threadID, id), s.readOptions())
	if err != nil {
		if isCosmosNotFound(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("read message: %w", err)
	}
	var doc cosmosMessageDoc
	if err := json.Unmarshal(resp.Value, &doc); err != nil {
		return nil, "", fmt.Errorf("decode message: %w", err)
	}
	doc.ETag = string(resp.ETag)
	return &doc, resp.ETag, nil
}

func (s *CosmosStore) GetMessages(ctx context.Context, userID, threadID string, opts ListMessagesOptions) (*Page[Message], error) {
	native, err := decodeNativeToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(opts.Limit, DefaultMessageLimit, MaxMessageLimit)
	if _, _, err := s.readThreadDoc(ctx, userID, threadID); err != nil {
		return nil, err
	}

	where := []string{"c.doc_type = 'message'", "c.thread_id = @thread_id"}
	params := []azcosmos.QueryParameter{{Name: "@thread_id", Value: threadID}}
	if !opts.IncludeDeleted {
		where = append(where, "c.is_deleted = false")
	}
	if opts.Role != "" {
		where = append(where, "c.role = @role")
		params = append(params, azcosmos.QueryParameter{Name: "@role", Value: opts.Role})
	}

	query := fmt.Sprintf(
		"SELECT * FROM c WHERE %s ORDER BY c.created_at ASC, c.id ASC",
		strings.Join(where, " AND "))

	qopts := &azcosmos.QueryOptions{PageSizeHint: int32(limit), QueryParameters: params, ConsistencyLevel: s.consistency}
	if native != "" {
		qopts.ContinuationToken = &native
	}

	pk := azcosmos.NewPartitionKeyString(userID)
	pager := s.container.NewQueryItemsPager(query, pk, qopts)
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	page := &Page[Message]{Items: []Message{}}
	for _, raw := range resp.Items {
		var doc cosmosMessageDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		page.Items = append(page.Items, *doc.message())
	}
	if resp.ContinuationToken != nil && *resp.ContinuationToken != "" {
		page.HasMore = true
		page.ContinuationToken = encodeNativeToken(*resp.ContinuationToken)
	}
	return page, nil
}

func (s *CosmosStore) GetLastMessage(ctx context.Context, userID, threadID string) (*Message, error) {
	pk := azcosmos.NewPartitionKeyString(userID)
	pager := s.container.NewQueryItemsPager(
		`SELECT * FROM c WHERE c.doc_type = 'message' AND c.thread_id = @thread_id AND c.is_deleted = false
		 ORDER BY c.created_at DESC, c.id DESC OFFSET 0 LIMIT 1`,
		pk, &azcosmos.QueryOptions{
			ConsistencyLevel: s.consistency,
			QueryParameters: []azcosmos.QueryParameter{{Name: "@thread_id", Value: threadID}},
		})
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, ErrNotFound
	}
	var doc cosmosMessageDoc
	if err := json.Unmarshal(resp.Items[0], &doc); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return doc.message(), nil
}

func (s *CosmosStore) CountMessages(ctx context.Context, userID, threadID string) (int, error) {
	pk := azcosmos.NewPartitionKeyString(userID)
	pager := s.container.NewQueryItemsPager(
		`SELECT VALUE COUNT(1) FROM c WHERE c.doc_type = 'message' AND c.thread_id = @thread_id AND c.is_deleted = false`,
		pk, &azcosmos.QueryOptions{
			ConsistencyLevel: s.consistency,
			QueryParameters: []azcosmos.QueryParameter{{Name: "@thread_id", Value: threadID}},
		})
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(resp.Items[0], &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *CosmosStore) UpdateMessage(ctx context.Context, userID, threadID, id string, updates MessageUpdates, opts UpdateOptions) (*UpdateResult[Message], error) {
	doc, nativeETag, err := s.getMessageDoc(ctx, userID, threadID, id)
	if err != nil {
		return nil, err
	}
	m := doc.message()
	if m.IsDeleted {
		return nil, ErrNotFound
	}
	if opts.IfMatch != "" && opts.IfMatch != m.ETag {
		return &UpdateResult[Message]{Item: m, Conflict: true}, nil
	}

	if updates.Content != nil {
		m.Content = *updates.Content
	}
	if updates.Metadata != nil {
		m.Metadata = updates.Metadata
	}
	m.Version++
	m.LastModifiedAt = time.Now().UTC()

	raw, err := json.Marshal(toMessageDoc(m))
	if err != nil {
		return nil, err
	}
	pk := azcosmos.NewPartitionKeyString(userID)
	resp, err := s.container.ReplaceItem(ctx, pk, messageDocID(threadID, id), raw, &azcosmos.ItemOptions{
		IfMatchEtag: &nativeETag,
	})
	if err != nil {
		if isCosmosPreconditionFailed(err) {
			return &UpdateResult[Message]{Item: m, Conflict: true}, nil
		}
		return nil, fmt.Errorf("replace message: %w", err)
	}
	m.ETag = string(resp.ETag)
	return &UpdateResult[Message]{Item: m}, nil
}

func (s *CosmosStore) DeleteMessage(ctx context.Context, userID, threadID, id string) error {
	doc, nativeETag, err := s.getMessageDoc(ctx, userID, threadID, id)
	if err != nil {
		return err
	}
	if doc.IsDeleted {
		return ErrNotFound
	}
	m := doc.message()
	m.IsDeleted = true
	m.Version++
	m.LastModifiedAt = time.Now().UTC()

	raw, err := json.Marshal(toMessageDoc(m))
	if err != nil {
		return err
	}
	pk := azcosmos.NewPartitionKeyString(userID)
	if _, err := s.container.ReplaceItem(ctx, pk, messageDocID(threadID, id), raw, &azcosmos.ItemOptions{
		IfMatchEtag: &nativeETag,
	}); err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	return nil
}

func (s *CosmosStore) HardDeleteMessage(ctx context.Context, userID, threadID, id string) error {
	pk := azcosmos.NewPartitionKeyString(userID)
	if _, err := s.container.DeleteItem(ctx, pk, messageDocID(threadID, id), nil); err != nil {
		if isCosmosNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("hard delete message: %w", err)
	}
	return nil
}

func (s *CosmosStore) BulkDeleteMessages(ctx context.Context, userID, threadID string) (int, error) {
	ids, err := s.messageDocIDs(ctx, userID, threadID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, docID := range ids {
		// docID is "message_<thread>_<id>"; strip the prefix back off.
		msgID := strings.TrimPrefix(docID, "message_"+threadID+"_")
		if err := s.DeleteMessage(ctx, userID, threadID, msgID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *CosmosStore) PurgeDeletedThreads(ctx context.Context, cutoff time.Time) (int, error) {
	// Cross-partition scan for expired soft deletes, then partition-scoped
	// hard deletes.
	pager := s.container.NewQueryItemsPager(
		`SELECT c.user_id, c.thread_id FROM c
		 WHERE c.doc_type = 'thread' AND c.is_deleted = true AND c.last_modified_at < @cutoff`,
		azcosmos.NewPartitionKey(), &azcosmos.QueryOptions{
			ConsistencyLevel: s.consistency,
			QueryParameters: []azcosmos.QueryParameter{
				{Name: "@cutoff", Value: cutoff.UTC().Format(time.RFC3339Nano)},
			},
		})

	type ref struct {
		UserID   string `json:"user_id"`
		ThreadID string `json:"thread_id"`
	}
	var refs []ref
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("purge scan: %w", err)
		}
		for _, raw := range page.Items {
			var r ref
			if err := json.Unmarshal(raw, &r); err != nil {
				return 0, err
			}
			refs = append(refs, r)
		}
	}

	count := 0
	for _, r := range refs {
		if err := s.HardDeleteThread(ctx, r.UserID, r.ThreadID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *CosmosStore) GetThreadVersion(ctx context.Context, userID, id string) (int, error) {
	doc, _, err := s.readThreadDoc(ctx, userID, id)
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

func (s *CosmosStore) IncrementThreadVersion(ctx context.Context, userID, id string) (int, error) {
	res, err := s.mutateThread(ctx, userID, id, UpdateOptions{}, true, func(*Thread) {})
	if err != nil {
		return 0, err
	}
	return res.Item.Version, nil
}

func (s *CosmosStore) IsHealthy(ctx context.Context) bool {
	// A point read against a well-known missing id exercises auth and
	// connectivity without touching data.
	pk := azcosmos.NewPartitionKeyString("healthcheck")
	_, err := s.container.ReadItem(ctx, pk, "healthcheck", s.readOptions())
	return err == nil || isCosmosNotFound(err)
}

func (s *CosmosStore) Close() error { return nil }
