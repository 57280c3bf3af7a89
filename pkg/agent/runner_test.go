package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
)

func drain(ch <-chan events.Payload) []events.Payload {
	var out []events.Payload
	for p := range ch {
		out = append(out, p)
	}
	return out
}

func TestStreamOrdering(t *testing.T) {
	a := NewPlainAgent(llm.NewMockClient(0))
	ch, wait := Stream(context.Background(), a, testContext("2+2?"))

	payloads := drain(ch)
	res := wait()

	require.NoError(t, res.Err)
	require.GreaterOrEqual(t, len(payloads), 3)

	// Exactly one opening metadata, first.
	meta, ok := payloads[0].(events.MetadataPayload)
	require.True(t, ok)
	assert.Equal(t, "trace-1", meta.TraceID)
	assert.NotNil(t, meta.Citations)

	// Exactly one terminal, last, and it is done.
	_, ok = payloads[len(payloads)-1].(events.DonePayload)
	assert.True(t, ok)
	for _, p := range payloads[:len(payloads)-1] {
		assert.NotEqual(t, events.KindDone, p.Kind())
		assert.NotEqual(t, events.KindError, p.Kind())
	}

	assert.Equal(t, "4", res.Content)
}

func TestStreamAgentFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &stubAgent{name: "failing", run: func(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
		_ = emit(events.Data("partial "))
		return nil, boom
	}}

	ch, wait := Stream(context.Background(), a, testContext("q"))
	payloads := drain(ch)
	res := wait()

	require.Error(t, res.Err)
	assert.Equal(t, events.CodeAgentError, res.Code)
	assert.Equal(t, "partial ", res.Content)

	last, ok := payloads[len(payloads)-1].(events.ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, events.CodeAgentError, last.Code)
	assert.NotContains(t, last.Message, "boom", "internal error detail stays off the wire")
}

func TestStreamTimeoutClassification(t *testing.T) {
	a := &stubAgent{name: "slow", run: func(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
		return nil, context.DeadlineExceeded
	}}

	ch, wait := Stream(context.Background(), a, testContext("q"))
	payloads := drain(ch)
	res := wait()

	assert.Equal(t, events.CodeTimeout, res.Code)
	last, ok := payloads[len(payloads)-1].(events.ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, events.CodeTimeout, last.Code)
}

// chunkStubClient replays canned chunks, standing in for a provider whose
// stream fails in-band after the HTTP call succeeded.
type chunkStubClient struct {
	chunks []llm.Chunk
}

func (c *chunkStubClient) Stream(context.Context, []llm.Message, llm.Options) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, len(c.chunks))
	for _, k := range c.chunks {
		ch <- k
	}
	close(ch)
	return ch, nil
}

func (c *chunkStubClient) Complete(context.Context, []llm.Message, llm.Options) (string, error) {
	return "", nil
}

func (c *chunkStubClient) Close() error { return nil }

func TestStreamProviderTimeoutClassification(t *testing.T) {
	client := &chunkStubClient{chunks: []llm.Chunk{
		&llm.TextChunk{Content: "par"},
		&llm.ErrorChunk{Message: "context deadline exceeded", Code: "TIMEOUT"},
	}}
	ch, wait := Stream(context.Background(), NewPlainAgent(client), testContext("q"))

	payloads := drain(ch)
	res := wait()

	require.Error(t, res.Err)
	assert.Equal(t, events.CodeTimeout, res.Code)
	assert.Equal(t, "par", res.Content, "tokens before the failure are kept")

	last, ok := payloads[len(payloads)-1].(events.ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, events.CodeTimeout, last.Code)
}

func TestStreamProviderUpstreamClassification(t *testing.T) {
	client := &chunkStubClient{chunks: []llm.Chunk{
		&llm.ErrorChunk{Message: "model overloaded", Code: "503"},
	}}
	ch, wait := Stream(context.Background(), NewPlainAgent(client), testContext("q"))

	payloads := drain(ch)
	res := wait()

	assert.Equal(t, events.CodeUpstreamError, res.Code)
	last, ok := payloads[len(payloads)-1].(events.ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, events.CodeUpstreamError, last.Code)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want events.Code
	}{
		{"deadline", context.DeadlineExceeded, events.CodeTimeout},
		{"llm timeout", llm.ErrTimeout, events.CodeTimeout},
		{"canceled", context.Canceled, events.CodeStreamError},
		{"upstream", llm.ErrUpstream, events.CodeUpstreamError},
		{"not registered", ErrNotRegistered, events.CodeAgentError},
		{"generic", errors.New("x"), events.CodeAgentError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	a := &stubAgent{name: "looping", run: func(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
		close(started)
		for {
			if err := emit(events.Data("tick")); err != nil {
				return nil, err
			}
		}
	}}

	ch, wait := Stream(ctx, a, testContext("q"))
	<-started
	cancel()

	// The producer stops within one emit once the channel backs up.
	drain(ch)
	res := wait()
	require.Error(t, res.Err)
	assert.Equal(t, events.CodeStreamError, res.Code)
}
