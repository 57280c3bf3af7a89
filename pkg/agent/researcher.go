package agent

import (
	"context"
	"time"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
)

// researcherTimeout bounds the research completion.
const researcherTimeout = 30 * time.Second

// ResearcherAgent produces background research notes on the query and hands
// off to the writer, which folds the notes into the final answer. It does
// not stream its output; the notes travel through the ranking context.
type ResearcherAgent struct {
	llm llm.Client
}

// NewResearcherAgent creates the research agent.
func NewResearcherAgent(client llm.Client) *ResearcherAgent {
	return &ResearcherAgent{llm: client}
}

func (a *ResearcherAgent) Name() string { return NameResearcher }

func (a *ResearcherAgent) Run(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
	if err := emit(events.AgentUpdated(NameResearcher, events.ContentThoughts, "researching")); err != nil {
		return nil, err
	}

	notes, err := a.llm.Complete(ctx, actx.LLMMessages(), llm.Options{
		SystemPrompt: researcherSystemPrompt,
		Timeout:      researcherTimeout,
	})
	if err != nil {
		// Research is best-effort; the writer can still answer.
		notes = ""
	}

	var ranking *RankingResult
	if notes != "" {
		if err := emit(events.Data("Gathered background research.\n")); err != nil {
			return nil, err
		}
		ranking = &RankingResult{
			Context:    "## Research notes\n" + notes,
			Confidence: 0.5,
			Reasoning:  "background research, unranked",
		}
	}

	return &Result{
		Ranking: ranking,
		Handoff: &Handoff{TargetName: NameWriter, Reason: "compose answer from research notes"},
	}, nil
}
