package agent

import (
	"context"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
)

// PlainAgent streams a direct model response over the conversation history.
// It is the "normal" chat flow with no retrieval or planning.
type PlainAgent struct {
	llm llm.Client
}

// NewPlainAgent creates the plain chat agent.
func NewPlainAgent(client llm.Client) *PlainAgent {
	return &PlainAgent{llm: client}
}

func (a *PlainAgent) Name() string { return NamePlain }

// Run opens a token stream and forwards every token as a data payload.
func (a *PlainAgent) Run(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
	if err := emit(events.AgentUpdated(NamePlain, events.ContentFinalAnswer, "generating")); err != nil {
		return nil, err
	}

	content, err := streamToEmit(ctx, a.llm, actx.LLMMessages(), actx.LLMOptions(), emit)
	if err != nil {
		return nil, err
	}
	return &Result{Content: content}, nil
}

// streamToEmit runs one provider stream, forwarding text chunks as data
// payloads and returning the accumulated text. An in-band error chunk is
// converted to an error return.
func streamToEmit(ctx context.Context, client llm.Client, messages []llm.Message, opts llm.Options, emit EmitFunc) (string, error) {
	ch, err := client.Stream(ctx, messages, opts)
	if err != nil {
		return "", err
	}

	var sb []byte
	for chunk := range ch {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			if err := emit(events.Data(c.Content)); err != nil {
				return string(sb), err
			}
			sb = append(sb, c.Content...)
		case *llm.ErrorChunk:
			return string(sb), c.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return string(sb), err
	}
	return string(sb), nil
}
