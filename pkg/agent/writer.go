package agent

import (
	"context"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
)

// writerMaxCitations caps the sources attached to a composed answer.
const writerMaxCitations = 5

// WriterAgent composes and streams the final answer. It grounds the
// response on the plan and the ranked context when earlier phases produced
// them, and degrades to a plain answer otherwise.
type WriterAgent struct {
	llm llm.Client
}

// NewWriterAgent creates the answer-composition agent.
func NewWriterAgent(client llm.Client) *WriterAgent {
	return &WriterAgent{llm: client}
}

func (a *WriterAgent) Name() string { return NameWriter }

func (a *WriterAgent) Run(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
	if err := emit(events.AgentUpdated(NameWriter, events.ContentFinalAnswer, "composing")); err != nil {
		return nil, err
	}

	citations := a.citations(actx)
	opts := actx.LLMOptions()
	opts.SystemPrompt = writerSystemPrompt(actx.Plan, actx.Ranking, citations)

	content, err := streamToEmit(ctx, a.llm, actx.LLMMessages(), opts, emit)
	if err != nil {
		return nil, err
	}
	return &Result{Content: content, Citations: citations}, nil
}

// citations collects sources from the selected findings, best first.
func (a *WriterAgent) citations(actx *Context) []events.Citation {
	if actx.Ranking == nil || actx.Findings == nil {
		return nil
	}
	out := make([]events.Citation, 0, writerMaxCitations)
	for _, r := range actx.Ranking.Selected {
		f := actx.Findings.finding(r.SubQueryID)
		if f == nil {
			continue
		}
		remaining := writerMaxCitations - len(out)
		if remaining <= 0 {
			break
		}
		out = append(out, CitationsFromDocuments(f.Documents, remaining)...)
	}
	return out
}
