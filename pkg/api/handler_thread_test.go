package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/chatstore"
)

func seedThread(t *testing.T, store chatstore.Store, userID, id, title string) *chatstore.Thread {
	t.Helper()
	thread, err := store.CreateThread(context.Background(), &chatstore.Thread{
		ID: id, UserID: userID, Title: title,
	})
	require.NoError(t, err)
	return thread
}

func asUser(userID string) map[string]string {
	return map[string]string{userIDHeader: userID}
}

func TestGetThreadOwnership(t *testing.T) {
	s, store := newTestServer(t, 0)
	seedThread(t, store, "U1", "T1", "quarterly planning")

	t.Run("owner sees the thread", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1", nil, asUser("U1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "quarterly planning")
	})

	t.Run("other user gets 403 without content", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1", nil, asUser("U2"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.NotContains(t, rec.Body.String(), "quarterly planning")
	})

	t.Run("missing thread is 404", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/nope", nil, asUser("U1"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing user header is 400", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateThreadETag(t *testing.T) {
	s, store := newTestServer(t, 0)
	thread := seedThread(t, store, "U1", "T1", "before")

	headers := asUser("U1")
	headers["If-Match"] = thread.ETag
	rec := doJSON(t, s, http.MethodPatch, "/api/v1/chat/threads/T1",
		map[string]any{"title": "after"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ThreadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "after", resp.Thread.Title)
	assert.NotEqual(t, thread.ETag, resp.ETag)

	// Same stale etag again conflicts.
	rec = doJSON(t, s, http.MethodPatch, "/api/v1/chat/threads/T1",
		map[string]any{"title": "stale write"}, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestThreadSoftDeleteRestorePermanent(t *testing.T) {
	s, store := newTestServer(t, 0)
	seedThread(t, store, "U1", "T1", "doomed")

	rec := doJSON(t, s, http.MethodDelete, "/api/v1/chat/threads/T1", nil, asUser("U1"))
	require.Equal(t, http.StatusOK, rec.Code)

	// Soft-deleted threads read as missing.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1", nil, asUser("U1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/chat/threads/T1/restore", nil, asUser("U1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1", nil, asUser("U1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/chat/threads/T1/permanent", nil, asUser("U1"))
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := store.GetThread(context.Background(), "U1", "T1", true)
	assert.ErrorIs(t, err, chatstore.ErrNotFound)
}

func TestBookmarkThread(t *testing.T) {
	s, store := newTestServer(t, 0)
	seedThread(t, store, "U1", "T1", "worth keeping")

	// No body: toggles on.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/chat/threads/T1/bookmark", nil, asUser("U1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp BookmarkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsBookmarked)

	// Explicit body wins over the toggle.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/chat/threads/T1/bookmark",
		map[string]any{"bookmarked": true}, asUser("U1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsBookmarked)

	// No body again: toggles off.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/chat/threads/T1/bookmark", nil, asUser("U1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsBookmarked)
}

func TestListThreadsPaginationEndpoint(t *testing.T) {
	s, store := newTestServer(t, 0)
	for i := 0; i < 55; i++ {
		seedThread(t, store, "U3", fmt.Sprintf("T-%03d", i), fmt.Sprintf("thread %d", i))
	}

	seen := map[string]bool{}
	token := ""
	pages := 0
	for {
		path := "/api/v1/chat/threads?user_id=U3&limit=20"
		if token != "" {
			path += "&continuation_token=" + token
		}
		rec := doJSON(t, s, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page chatstore.Page[chatstore.Thread]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		pages++
		for _, th := range page.Items {
			assert.False(t, seen[th.ID], "duplicate thread %s across pages", th.ID)
			seen[th.ID] = true
		}
		if !page.HasMore {
			assert.Empty(t, page.ContinuationToken)
			break
		}
		token = page.ContinuationToken
	}
	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 55)
}

func TestListThreadsValidationEndpoint(t *testing.T) {
	s, _ := newTestServer(t, 0)

	t.Run("missing user_id", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed continuation token", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads?user_id=U1&continuation_token=%21%21", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads?user_id=U1&limit=many", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMessageEndpoints(t *testing.T) {
	s, store := newTestServer(t, 0)
	seedThread(t, store, "U1", "T1", "messages")

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		role := chatstore.RoleUser
		if i%2 == 1 {
			role = chatstore.RoleAssistant
		}
		_, err := store.UpsertMessage(ctx, &chatstore.Message{
			ID: fmt.Sprintf("m-%d", i), ThreadID: "T1", UserID: "U1",
			Role: role, Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	t.Run("list", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1/messages", nil, asUser("U1"))
		require.Equal(t, http.StatusOK, rec.Code)

		var page chatstore.Page[chatstore.Message]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		require.Len(t, page.Items, 5)
		assert.Equal(t, "m-0", page.Items[0].ID)
	})

	t.Run("role filter", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1/messages?role=assistant", nil, asUser("U1"))
		require.Equal(t, http.StatusOK, rec.Code)

		var page chatstore.Page[chatstore.Message]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Len(t, page.Items, 2)
	})

	t.Run("last", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1/messages/last", nil, asUser("U1"))
		require.Equal(t, http.StatusOK, rec.Code)

		var msg chatstore.Message
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
		assert.Equal(t, "m-4", msg.ID)
	})

	t.Run("count", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1/messages/count", nil, asUser("U1"))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CountResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 5, resp.Count)
	})

	t.Run("other user forbidden", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T1/messages", nil, asUser("U2"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("last on empty thread", func(t *testing.T) {
		seedThread(t, store, "U1", "T-empty", "")
		rec := doJSON(t, s, http.MethodGet, "/api/v1/chat/threads/T-empty/messages/last", nil, asUser("U1"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
