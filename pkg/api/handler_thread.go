package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/chatstore"
)

// userIDHeader carries the requesting user's identity, set by the
// authenticating proxy in front of the service.
const userIDHeader = "X-User-Id"

func requireUserID(c *echo.Context) (string, error) {
	userID := c.Request().Header.Get(userIDHeader)
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "X-User-Id header is required")
	}
	return userID, nil
}

func requireThreadID(c *echo.Context) (string, error) {
	id := c.Param("id")
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "thread id is required")
	}
	return id, nil
}

// checkOwnership distinguishes "thread owned by someone else" (403) from
// "thread does not exist" (404) after a partition-scoped read missed. The
// 403 response never carries thread content.
func (s *Server) checkOwnership(ctx context.Context, userID, threadID string) *echo.HTTPError {
	owner, err := s.store.FindThreadOwner(ctx, threadID)
	if err == nil && owner != userID {
		return echo.NewHTTPError(http.StatusForbidden, "thread belongs to another user")
	}
	return echo.NewHTTPError(http.StatusNotFound, "thread not found")
}

// getOwnedThread reads the thread under the caller's partition, translating
// a miss into 403 or 404.
func (s *Server) getOwnedThread(c *echo.Context, includeDeleted bool) (*chatstore.Thread, string, error) {
	userID, err := requireUserID(c)
	if err != nil {
		return nil, "", err
	}
	threadID, err := requireThreadID(c)
	if err != nil {
		return nil, "", err
	}

	t, err := s.store.GetThread(c.Request().Context(), userID, threadID, includeDeleted)
	if err != nil {
		if errors.Is(err, chatstore.ErrNotFound) {
			return nil, "", s.checkOwnership(c.Request().Context(), userID, threadID)
		}
		return nil, "", mapStoreError(err)
	}
	return t, userID, nil
}

func updateOptions(c *echo.Context) chatstore.UpdateOptions {
	return chatstore.UpdateOptions{IfMatch: c.Request().Header.Get("If-Match")}
}

// listThreadsHandler handles GET /api/v1/chat/threads.
func (s *Server) listThreadsHandler(c *echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id query parameter is required")
	}

	opts := chatstore.ListThreadsOptions{
		UserID:            userID,
		ContinuationToken: c.QueryParam("continuation_token"),
		SortBy:            c.QueryParam("sort_by"),
		SortOrder:         c.QueryParam("sort_order"),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		opts.Limit = n
	}
	if v := c.QueryParam("is_bookmarked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid is_bookmarked")
		}
		opts.IsBookmarked = &b
	}
	if v := c.QueryParam("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid include_deleted")
		}
		opts.IncludeDeleted = b
	}

	page, err := s.store.ListThreads(c.Request().Context(), opts)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// getThreadHandler handles GET /api/v1/chat/threads/:id.
func (s *Server) getThreadHandler(c *echo.Context) error {
	t, _, err := s.getOwnedThread(c, false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// updateThreadHandler handles PATCH /api/v1/chat/threads/:id.
func (s *Server) updateThreadHandler(c *echo.Context) error {
	_, userID, err := s.getOwnedThread(c, false)
	if err != nil {
		return err
	}

	var req UpdateThreadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := s.store.UpdateThread(c.Request().Context(), userID, c.Param("id"), chatstore.ThreadUpdates{
		Title:        req.Title,
		IsBookmarked: req.IsBookmarked,
		Metadata:     req.Metadata,
	}, updateOptions(c))
	if err != nil {
		return mapStoreError(err)
	}
	if res.Conflict {
		return echo.NewHTTPError(http.StatusConflict, "etag mismatch")
	}
	return c.JSON(http.StatusOK, &ThreadResponse{Thread: res.Item, ETag: res.Item.ETag})
}

// deleteThreadHandler handles DELETE /api/v1/chat/threads/:id (soft).
func (s *Server) deleteThreadHandler(c *echo.Context) error {
	_, userID, err := s.getOwnedThread(c, false)
	if err != nil {
		return err
	}

	res, err := s.store.DeleteThread(c.Request().Context(), userID, c.Param("id"), updateOptions(c))
	if err != nil {
		return mapStoreError(err)
	}
	if res.Conflict {
		return echo.NewHTTPError(http.StatusConflict, "etag mismatch")
	}
	return c.JSON(http.StatusOK, &SuccessResponse{Success: true})
}

// restoreThreadHandler handles POST /api/v1/chat/threads/:id/restore.
func (s *Server) restoreThreadHandler(c *echo.Context) error {
	_, userID, err := s.getOwnedThread(c, true)
	if err != nil {
		return err
	}

	res, err := s.store.RestoreThread(c.Request().Context(), userID, c.Param("id"), updateOptions(c))
	if err != nil {
		return mapStoreError(err)
	}
	if res.Conflict {
		return echo.NewHTTPError(http.StatusConflict, "etag mismatch")
	}
	return c.JSON(http.StatusOK, &ThreadResponse{Thread: res.Item, ETag: res.Item.ETag})
}

// permanentDeleteThreadHandler handles DELETE /api/v1/chat/threads/:id/permanent.
func (s *Server) permanentDeleteThreadHandler(c *echo.Context) error {
	_, userID, err := s.getOwnedThread(c, true)
	if err != nil {
		return err
	}

	if err := s.store.HardDeleteThread(c.Request().Context(), userID, c.Param("id")); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &SuccessResponse{Success: true})
}

// bookmarkThreadHandler handles POST /api/v1/chat/threads/:id/bookmark.
// Without a body the current bookmark state is toggled.
func (s *Server) bookmarkThreadHandler(c *echo.Context) error {
	t, userID, err := s.getOwnedThread(c, false)
	if err != nil {
		return err
	}

	var req BookmarkThreadRequest
	if err := c.Bind(&req); err != nil && c.Request().ContentLength > 0 {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target := !t.IsBookmarked
	if req.Bookmarked != nil {
		target = *req.Bookmarked
	}

	res, err := s.store.UpdateThread(c.Request().Context(), userID, c.Param("id"),
		chatstore.ThreadUpdates{IsBookmarked: &target},
		chatstore.UpdateOptions{IfMatch: t.ETag, RetryOnConflict: true})
	if err != nil {
		return mapStoreError(err)
	}
	if res.Conflict {
		return echo.NewHTTPError(http.StatusConflict, "etag mismatch")
	}
	return c.JSON(http.StatusOK, &BookmarkResponse{Thread: res.Item, IsBookmarked: res.Item.IsBookmarked})
}

// listMessagesHandler handles GET /api/v1/chat/threads/:id/messages.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	_, userID, err := s.getOwnedThread(c, false)
	if err != nil {
		return err
	}

	opts := chatstore.ListMessagesOptions{
		ContinuationToken: c.QueryParam("continuation_token"),
		Role:              c.QueryParam("role"),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		opts.Limit = n
	}

	page, err := s.store.GetMessages(c.Request().Context(), userID, c.Param("id"), opts)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// lastMessageHandler handles GET /api/v1/chat/threads/:id/messages/last.
func (s *Server) lastMessageHandler(c *echo.Context) error {
	_, userID, err := s.getOwnedThread(c, false)
	if err != nil {
		return err
	}

	msg, err := s.store.GetLastMessage(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, chatstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "thread has no messages")
		}
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, msg)
}

// countMessagesHandler handles GET /api/v1/chat/threads/:id/messages/count.
func (s *Server) countMessagesHandler(c *echo.Context) error {
	_, userID, err := s.getOwnedThread(c, false)
	if err != nil {
		return err
	}

	n, err := s.store.CountMessages(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &CountResponse{Count: n})
}
