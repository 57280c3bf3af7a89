package agent

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
)

// streamBuffer is the event channel capacity. It absorbs bursts from the
// producer so slow consumers do not stall LLM token delivery immediately.
const streamBuffer = 64

// errStreamClosed is returned by emit once the consumer is gone.
var errStreamClosed = errors.New("event stream closed")

// TurnResult is delivered alongside the closed event channel so the caller
// can persist what the turn produced.
type TurnResult struct {
	// Content is the concatenation of all emitted data chunks.
	Content string
	// Citations ground the reply, when retrieval happened.
	Citations []events.Citation
	// Err is the classified failure, nil on success.
	Err error
	// Code is the stream error code matching Err.
	Code events.Code
}

// Stream runs one agent as a complete turn: it emits the opening metadata,
// forwards the agent's payloads, and appends exactly one terminal payload.
// The channel closes after the terminal payload. The result function blocks
// until the turn finished and returns what to persist.
func Stream(ctx context.Context, a Agent, actx *Context) (<-chan events.Payload, func() *TurnResult) {
	ch := make(chan events.Payload, streamBuffer)
	done := make(chan *TurnResult, 1)

	go func() {
		defer close(ch)

		res := &TurnResult{}
		defer func() { done <- res }()

		var content []byte
		emit := func(p events.Payload) error {
			if d, ok := p.(events.DataPayload); ok {
				content = append(content, d.Chunk...)
			}
			select {
			case ch <- p:
				return nil
			case <-ctx.Done():
				return errStreamClosed
			}
		}

		if err := emit(events.Metadata(actx.TraceID, nil)); err != nil {
			res.Content = string(content)
			res.Err, res.Code = err, events.CodeStreamError
			return
		}

		result, err := a.Run(ctx, actx, emit)
		res.Content = string(content)
		if result != nil {
			res.Citations = result.Citations
		}
		if err != nil {
			res.Err = err
			res.Code = Classify(err)
			if !errors.Is(err, errStreamClosed) {
				emit(events.Error(res.Code, publicMessage(res.Code))) //nolint:errcheck
			}
			return
		}

		emit(events.DonePayload{}) //nolint:errcheck
	}()

	return ch, func() *TurnResult { return <-done }
}

// Classify maps an agent failure onto a stream error code.
func Classify(err error) events.Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded), llm.IsTimeout(err):
		return events.CodeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, errStreamClosed):
		return events.CodeStreamError
	case llm.IsUpstream(err):
		return events.CodeUpstreamError
	case errors.Is(err, ErrNotRegistered):
		return events.CodeAgentError
	default:
		return events.CodeAgentError
	}
}

// publicMessage keeps wire error messages short and free of internals.
func publicMessage(code events.Code) string {
	switch code {
	case events.CodeTimeout:
		return "the request timed out"
	case events.CodeUpstreamError:
		return "the model provider failed to respond"
	case events.CodeStreamError:
		return "the stream was interrupted"
	default:
		return "the agent failed to complete the request"
	}
}
