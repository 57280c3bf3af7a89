package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // cgo-free driver, registered as "sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	id               TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	is_bookmarked    INTEGER NOT NULL DEFAULT 0,
	is_deleted       INTEGER NOT NULL DEFAULT 0,
	metadata         TEXT NOT NULL DEFAULT '{}',
	trace_id         TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	last_modified_at TEXT NOT NULL,
	etag             TEXT NOT NULL,
	version          INTEGER NOT NULL,
	PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS messages (
	id               TEXT NOT NULL,
	thread_id        TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	role             TEXT NOT NULL,
	content          TEXT NOT NULL,
	is_deleted       INTEGER NOT NULL DEFAULT 0,
	metadata         TEXT NOT NULL DEFAULT '{}',
	created_at       TEXT NOT NULL,
	last_modified_at TEXT NOT NULL,
	etag             TEXT NOT NULL,
	version          INTEGER NOT NULL,
	PRIMARY KEY (user_id, thread_id, id)
);

CREATE INDEX IF NOT EXISTS idx_threads_user_modified
	ON threads (user_id, last_modified_at);
CREATE INDEX IF NOT EXISTS idx_messages_thread_created
	ON messages (user_id, thread_id, created_at, id);
`

// SQLiteStore is the single-file embedded backend for demos and local
// development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and bootstraps
// the schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// The driver is not safe for concurrent writers on one connection pool
	// without serialization; a single connection keeps SQLITE_BUSY away.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap sqlite schema: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func marshalMetadata(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func unmarshalMetadata(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func scanThread(row interface{ Scan(...any) error }) (*Thread, error) {
	var t Thread
	var meta, created, modified string
	var bookmarked, deleted int
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &bookmarked, &deleted,
		&meta, &t.TraceID, &created, &modified, &t.ETag, &t.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.IsBookmarked = bookmarked != 0
	t.IsDeleted = deleted != 0
	t.Metadata = unmarshalMetadata(meta)
	t.CreatedAt = parseTime(created)
	t.LastModifiedAt = parseTime(modified)
	return &t, nil
}

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var meta, created, modified string
	var deleted int
	err := row.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content,
		&deleted, &meta, &created, &modified, &m.ETag, &m.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.IsDeleted = deleted != 0
	m.Metadata = unmarshalMetadata(meta)
	m.CreatedAt = parseTime(created)
	m.LastModifiedAt = parseTime(modified)
	return &m, nil
}

const threadColumns = `id, user_id, title, is_bookmarked, is_deleted, metadata, trace_id, created_at, last_modified_at, etag, version`
const messageColumns = `id, thread_id, user_id, role, content, is_deleted, metadata, created_at, last_modified_at, etag, version`

func (s *SQLiteStore) CreateThread(ctx context.Context, t *Thread) (*Thread, error) {
	if t.UserID == "" {
		return nil, fmt.Errorf("chatstore: thread user_id is required")
	}
	id := t.ID
	if id == "" {
		id = newThreadID()
	}

	if existing, err := s.GetThread(ctx, t.UserID, id, true); err == nil {
		return existing, nil
	}

	now := time.Now().UTC()
	stored := *t
	stored.ID = id
	stored.CreatedAt = now
	stored.LastModifiedAt = now
	stored.Version = 1
	stored.ETag = newETag()
	stored.IsDeleted = false

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (`+threadColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		stored.ID, stored.UserID, stored.Title, boolInt(stored.IsBookmarked), 0,
		marshalMetadata(stored.Metadata), stored.TraceID,
		formatTime(now), formatTime(now), stored.ETag, stored.Version)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return &stored, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) GetThread(ctx context.Context, userID, id string, includeDeleted bool) (*Thread, error) {
	q := `SELECT ` + threadColumns + ` FROM threads WHERE user_id = ? AND id = ?`
	if !includeDeleted {
		q += ` AND is_deleted = 0`
	}
	return scanThread(s.db.QueryRowContext(ctx, q, userID, id))
}

func (s *SQLiteStore) FindThreadOwner(ctx context.Context, id string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM threads WHERE id = ? LIMIT 1`, id).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find thread owner: %w", err)
	}
	return userID, nil
}

// mutateThread re-reads, applies fn, and writes back guarded by the etag of
// the row it read, so concurrent writers serialize on the version bump.
func (s *SQLiteStore) mutateThread(ctx context.Context, userID, id string, opts UpdateOptions, includeDeleted bool, fn func(*Thread)) (*UpdateResult[Thread], error) {
	for attempt := 0; ; attempt++ {
		t, err := s.GetThread(ctx, userID, id, includeDeleted)
		if err != nil {
			return nil, err
		}
		if opts.IfMatch != "" && opts.IfMatch != t.ETag {
			if opts.RetryOnConflict && attempt == 0 {
				opts.IfMatch = ""
				continue
			}
			return &UpdateResult[Thread]{Item: t, Conflict: true}, nil
		}

		prevETag := t.ETag
		fn(t)
		t.Version++
		t.ETag = newETag()
		t.LastModifiedAt = time.Now().UTC()

		res, err := s.db.ExecContext(ctx,
			`UPDATE threads SET title=?, is_bookmarked=?, is_deleted=?, metadata=?, trace_id=?,
				last_modified_at=?, etag=?, version=?
			 WHERE user_id=? AND id=? AND etag=?`,
			t.Title, boolInt(t.IsBookmarked), boolInt(t.IsDeleted),
			marshalMetadata(t.Metadata), t.TraceID,
			formatTime(t.LastModifiedAt), t.ETag, t.Version,
			userID, id, prevETag)
		if err != nil {
			return nil, fmt.Errorf("update thread: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Lost an internal race; retry once more unless the caller pinned
			// an etag.
			if opts.IfMatch == "" && attempt < 2 {
				continue
			}
			current, err := s.GetThread(ctx, userID, id, true)
			if err != nil {
				return nil, err
			}
			return &UpdateResult[Thread]{Item: current, Conflict: true}, nil
		}
		return &UpdateResult[Thread]{Item: t}, nil
	}
}

func (s *SQLiteStore) UpdateThread(ctx context.Context, userID, id string, updates ThreadUpdates, opts UpdateOptions) (*UpdateResult[Thread], error) {
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

func (s *SQLiteStore) DeleteThread(ctx context.Context, userID, id string, opts UpdateOptions) (*UpdateResult[Thread], error) {
	return s.mutateThread(ctx, userID, id, opts, false, func(t *Thread) { t.IsDeleted = true })
}

func (s *SQLiteStore) RestoreThread(ctx context.Context, userID, id string, opts UpdateOptions) (*UpdateResult[Thread], error) {
	return s.mutateThread(ctx, userID, id, opts, true, func(t *Thread) { t.IsDeleted = false })
}

func (s *SQLiteStore) HardDeleteThread(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE user_id=? AND id=?`, userID, id)
	if err != nil {
		return fmt.Errorf("hard delete thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE user_id=? AND thread_id=?`, userID, id)
	if err != nil {
		return fmt.Errorf("cascade delete messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListThreads(ctx context.Context, opts ListThreadsOptions) (*Page[Thread], error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("chatstore: list threads requires user_id")
	}
	offset, err := decodeOffsetToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(opts.Limit, DefaultThreadLimit, MaxThreadLimit)

	where := []string{"user_id = ?"}
	args := []any{opts.UserID}
	if !opts.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if opts.IsBookmarked != nil {
		where = append(where, "is_bookmarked = ?")
		args = append(args, boolInt(*opts.IsBookmarked))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM threads WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count threads: %w", err)
	}

	column := SortByLastModified
	switch opts.SortBy {
	case SortByCreated:
		column = "created_at"
	case SortByTitle:
		column = "title"
	}
	direction := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		direction = "ASC"
	}

	// Fetch one extra row to learn whether another page exists.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE `+whereClause+
			` ORDER BY `+column+` `+direction+`, id `+direction+` LIMIT ? OFFSET ?`,
		append(args, limit+1, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	page := &Page[Thread]{Items: []Thread{}, TotalCount: &total}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.HasMore = true
		page.ContinuationToken = encodeOffsetToken(offset + limit)
	}
	return page, nil
}

func (s *SQLiteStore) UpsertMessage(ctx context.Context, m *Message) (*Message, error) {
	if m.ID == "" || m.ThreadID == "" || m.UserID == "" {
		return nil, fmt.Errorf("chatstore: message id, thread_id and user_id are required")
	}
	if _, err := s.GetThread(ctx, m.UserID, m.ThreadID, true); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored := *m
	stored.LastModifiedAt = now
	stored.ETag = newETag()

	prev, err := s.getMessage(ctx, m.UserID, m.ThreadID, m.ID, true)
	switch {
	case err == nil:
		stored.CreatedAt = prev.CreatedAt
		stored.Version = prev.Version + 1
		_, err = s.db.ExecContext(ctx,
			`UPDATE messages SET role=?, content=?, is_deleted=?, metadata=?, last_modified_at=?, etag=?, version=?
			 WHERE user_id=? AND thread_id=? AND id=?`,
			stored.Role, stored.Content, boolInt(stored.IsDeleted), marshalMetadata(stored.Metadata),
			formatTime(now), stored.ETag, stored.Version,
			stored.UserID, stored.ThreadID, stored.ID)
	case errors.Is(err, ErrNotFound):
		stored.CreatedAt = now
		stored.Version = 1
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO messages (`+messageColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			stored.ID, stored.ThreadID, stored.UserID, stored.Role, stored.Content,
			boolInt(stored.IsDeleted), marshalMetadata(stored.Metadata),
			formatTime(now), formatTime(now), stored.ETag, stored.Version)
	default:
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("upsert message: %w", err)
	}

	if _, err := s.mutateThread(ctx, m.UserID, m.ThreadID, UpdateOptions{}, true, func(*Thread) {}); err != nil {
		return nil, fmt.Errorf("touch thread: %w", err)
	}
	return &stored, nil
}

func (s *SQLiteStore) BulkUpsertMessages(ctx context.Context, msgs []*Message) ([]*Message, error) {
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

func (s *SQLiteStore) getMessage(ctx context.Context, userID, threadID, id string, includeDeleted bool) (*Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE user_id=? AND thread_id=? AND id=?`
	if !includeDeleted {
		q += ` AND is_deleted = 0`
	}
	return scanMessage(s.db.QueryRowContext(ctx, q, userID, threadID, id))
}

func (s *SQLiteStore) GetMessages(ctx context.Context, userID, threadID string, opts ListMessagesOptions) (*Page[Message], error) {
	offset, err := decodeOffsetToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(opts.Limit, DefaultMessageLimit, MaxMessageLimit)
	if _, err := s.GetThread(ctx, userID, threadID, true); err != nil {
		return nil, err
	}

	where := []string{"user_id = ?", "thread_id = ?"}
	args := []any{userID, threadID}
	if !opts.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if opts.Role != "" {
		where = append(where, "role = ?")
		args = append(args, opts.Role)
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE `+whereClause+
			` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		append(args, limit+1, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	page := &Page[Message]{Items: []Message{}, TotalCount: &total}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.HasMore = true
		page.ContinuationToken = encodeOffsetToken(offset + limit)
	}
	return page, nil
}

func (s *SQLiteStore) GetLastMessage(ctx context.Context, userID, threadID string) (*Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE user_id=? AND thread_id=? AND is_deleted=0
		 ORDER BY created_at DESC, id DESC LIMIT 1`, userID, threadID))
}

func (s *SQLiteStore) CountMessages(ctx context.Context, userID, threadID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id=? AND thread_id=? AND is_deleted=0`,
		userID, threadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, userID, threadID, id string, updates MessageUpdates, opts UpdateOptions) (*UpdateResult[Message], error) {
	m, err := s.getMessage(ctx, userID, threadID, id, false)
	if err != nil {
		return nil, err
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
	prevETag := m.ETag
	m.Version++
	m.ETag = newETag()
	m.LastModifiedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content=?, metadata=?, last_modified_at=?, etag=?, version=?
		 WHERE user_id=? AND thread_id=? AND id=? AND etag=?`,
		m.Content, marshalMetadata(m.Metadata), formatTime(m.LastModifiedAt), m.ETag, m.Version,
		userID, threadID, id, prevETag)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := s.getMessage(ctx, userID, threadID, id, true)
		if err != nil {
			return nil, err
		}
		return &UpdateResult[Message]{Item: current, Conflict: true}, nil
	}
	return &UpdateResult[Message]{Item: m}, nil
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, userID, threadID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted=1, version=version+1, etag=?, last_modified_at=?
		 WHERE user_id=? AND thread_id=? AND id=? AND is_deleted=0`,
		newETag(), formatTime(time.Now().UTC()), userID, threadID, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) HardDeleteMessage(ctx context.Context, userID, threadID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id=? AND thread_id=? AND id=?`, userID, threadID, id)
	if err != nil {
		return fmt.Errorf("hard delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) BulkDeleteMessages(ctx context.Context, userID, threadID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted=1, version=version+1, etag=?, last_modified_at=?
		 WHERE user_id=? AND thread_id=? AND is_deleted=0`,
		newETag(), formatTime(time.Now().UTC()), userID, threadID)
	if err != nil {
		return 0, fmt.Errorf("bulk delete messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) PurgeDeletedThreads(ctx context.Context, cutoff time.Time) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE (user_id, thread_id) IN
			(SELECT user_id, id FROM threads WHERE is_deleted=1 AND last_modified_at < ?)`,
		formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM threads WHERE is_deleted=1 AND last_modified_at < ?`,
		formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge threads: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) GetThreadVersion(ctx context.Context, userID, id string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM threads WHERE user_id=? AND id=?`, userID, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("thread version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) IncrementThreadVersion(ctx context.Context, userID, id string) (int, error) {
	res, err := s.mutateThread(ctx, userID, id, UpdateOptions{}, true, func(*Thread) {})
	if err != nil {
		return 0, err
	}
	return res.Item.Version, nil
}

func (s *SQLiteStore) IsHealthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
