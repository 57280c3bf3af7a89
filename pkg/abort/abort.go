// Package abort provides the per-thread stream abort fabric. Every active
// stream registers a token keyed by thread id; a stop request cancels the
// token locally and, when Redis is configured, notifies other instances
// over a pub/sub channel so the stream is cancelled wherever it runs.
package abort

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// channelPrefix is the pub/sub channel namespace for abort notifications.
const channelPrefix = "sse:abort:"

// Token is a cancellation handle for one active stream. The stream's
// producer derives its work from Context and stops when it is cancelled.
type Token struct {
	threadID string
	ctx      context.Context
	cancel   context.CancelFunc
}

// Context returns the token's cancellation context.
func (t *Token) Context() context.Context { return t.ctx }

// ThreadID returns the thread this token guards.
func (t *Token) ThreadID() string { return t.threadID }

type entry struct {
	token  *Token
	pubsub *redis.PubSub
}

// Fabric tracks active stream tokens for this process. With a Redis client
// it participates in cross-instance aborts; without one it runs in
// local-only mode.
type Fabric struct {
	mu      sync.Mutex
	entries map[string]*entry
	rdb     *redis.Client
	logger  *slog.Logger
	closed  bool
}

// NewFabric creates the fabric. rdb may be nil for local-only mode.
func NewFabric(rdb *redis.Client, logger *slog.Logger) *Fabric {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fabric{entries: make(map[string]*entry), rdb: rdb, logger: logger}
}

// RedisEnabled reports whether the cross-instance transport is configured.
func (f *Fabric) RedisEnabled() bool { return f.rdb != nil }

// Register creates a token for threadID, derived from parent. A previous
// token for the same thread is cancelled: an in-flight duplicate request
// loses to the newer one.
func (f *Fabric) Register(parent context.Context, threadID string) *Token {
	ctx, cancel := context.WithCancel(parent)
	tok := &Token{threadID: threadID, ctx: ctx, cancel: cancel}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		cancel()
		return tok
	}

	if prev, ok := f.entries[threadID]; ok {
		prev.token.cancel()
		prev.token = tok
		return tok
	}

	e := &entry{token: tok}
	if f.rdb != nil {
		e.pubsub = f.rdb.Subscribe(context.Background(), channelPrefix+threadID)
		go f.listen(threadID, e.pubsub)
	}
	f.entries[threadID] = e
	return tok
}

// listen cancels the thread's current token whenever an abort notification
// arrives. It exits when the subscription closes.
func (f *Fabric) listen(threadID string, pubsub *redis.PubSub) {
	for range pubsub.Channel() {
		f.mu.Lock()
		e, ok := f.entries[threadID]
		f.mu.Unlock()
		if ok {
			e.token.cancel()
			f.logger.Debug("stream aborted via pub/sub", "thread_id", threadID)
		}
	}
}

// RequestAbort cancels the local token for threadID if present and, when
// Redis is configured, publishes the abort so other instances cancel
// theirs. It reports whether any stream was (or is expected to be) stopped.
func (f *Fabric) RequestAbort(ctx context.Context, threadID string) bool {
	f.mu.Lock()
	e, ok := f.entries[threadID]
	if ok {
		e.token.cancel()
	}
	f.mu.Unlock()

	if f.rdb == nil {
		return ok
	}

	receivers, err := f.rdb.Publish(ctx, channelPrefix+threadID, "abort").Result()
	if err != nil {
		f.logger.Warn("abort publish failed", "thread_id", threadID, "error", err)
		return ok
	}
	return ok || receivers > 0
}

// Unregister removes tok from the fabric and cancels it. A token that was
// already replaced by a newer registration is cancelled without touching
// the newer one.
func (f *Fabric) Unregister(tok *Token) {
	tok.cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[tok.threadID]
	if !ok || e.token != tok {
		return
	}
	delete(f.entries, tok.threadID)
	if e.pubsub != nil {
		_ = e.pubsub.Close()
	}
}

// ActiveCount returns the number of registered streams on this instance.
func (f *Fabric) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Shutdown cancels every registered token and closes all subscriptions.
// The fabric rejects new registrations afterwards.
func (f *Fabric) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for threadID, e := range f.entries {
		e.token.cancel()
		if e.pubsub != nil {
			_ = e.pubsub.Close()
		}
		delete(f.entries, threadID)
	}
}
