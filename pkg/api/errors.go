package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/chatstore"
)

// mapStoreError maps chat store errors to HTTP error responses.
func mapStoreError(err error) *echo.HTTPError {
	if errors.Is(err, chatstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	if errors.Is(err, chatstore.ErrBadToken) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid continuation token")
	}
	if errors.Is(err, chatstore.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, "etag mismatch")
	}

	// Unexpected error
	slog.Error("Unexpected store error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
