package cleanup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/chatstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepPurgesExpiredSoftDeletes(t *testing.T) {
	ctx := context.Background()
	store := chatstore.NewMemoryStore()

	kept, err := store.CreateThread(ctx, &chatstore.Thread{UserID: "U1"})
	require.NoError(t, err)
	doomed, err := store.CreateThread(ctx, &chatstore.Thread{UserID: "U1"})
	require.NoError(t, err)
	_, err = store.DeleteThread(ctx, "U1", doomed.ID, chatstore.UpdateOptions{})
	require.NoError(t, err)

	// Zero-length retention window: anything soft-deleted is already past
	// its cutoff on the next sweep.
	svc := NewService(Config{Retention: time.Nanosecond, Interval: time.Hour}, store, testLogger())
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, svc.Sweep(ctx))

	_, err = store.GetThread(ctx, "U1", doomed.ID, true)
	assert.ErrorIs(t, err, chatstore.ErrNotFound)
	_, err = store.GetThread(ctx, "U1", kept.ID, false)
	assert.NoError(t, err)
}

func TestServiceStartStop(t *testing.T) {
	store := chatstore.NewMemoryStore()
	svc := NewService(Config{Retention: time.Hour, Interval: 10 * time.Millisecond}, store, testLogger())

	svc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	svc.Stop()

	// A second Start is a no-op and Stop stays safe to call again.
	svc.Start(context.Background())
	svc.Stop()
}
