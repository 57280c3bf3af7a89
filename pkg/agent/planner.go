package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
)

// plannerTimeout bounds the planning completion.
const plannerTimeout = 25 * time.Second

// PlannerAgent produces an ExecutionPlan for the turn and declares where
// execution continues. It never fails the stream: planning errors degrade to
// the fallback single-subquery plan.
type PlannerAgent struct {
	llm llm.Client
}

// NewPlannerAgent creates the planning agent.
func NewPlannerAgent(client llm.Client) *PlannerAgent {
	return &PlannerAgent{llm: client}
}

func (a *PlannerAgent) Name() string { return NamePlanner }

func (a *PlannerAgent) Run(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
	if err := emit(events.AgentUpdated(NamePlanner, events.ContentThoughts, "planning")); err != nil {
		return nil, err
	}

	query := actx.Query()
	plan := a.plan(ctx, actx, query)

	if err := emit(events.Data(fmt.Sprintf("Plan: %s query, %d sub-quer%s.\n",
		plan.QueryType, len(plan.SubQueries), pluralIES(len(plan.SubQueries))))); err != nil {
		return nil, err
	}

	return &Result{Plan: plan, Handoff: a.handoff(plan)}, nil
}

func (a *PlannerAgent) plan(ctx context.Context, actx *Context, query string) *ExecutionPlan {
	raw, err := a.llm.Complete(ctx, actx.LLMMessages(), llm.Options{
		SystemPrompt: plannerSystemPrompt,
		JSONMode:     true,
		Timeout:      plannerTimeout,
	})
	if err != nil {
		return FallbackPlan(query)
	}
	return ParsePlan(raw, query)
}

// handoff routes the plan to the next agent.
func (a *PlannerAgent) handoff(plan *ExecutionPlan) *Handoff {
	switch {
	case plan.ParallelExecution && len(plan.SubQueries) > 1:
		return &Handoff{TargetName: NameParallelSearch, Reason: "plan requests parallel sub-query execution"}
	case plan.RequiresRAG:
		return &Handoff{TargetName: NameRAG, Reason: "plan requires document retrieval"}
	case plan.RequiresResearch:
		return &Handoff{TargetName: NameResearcher, Reason: "plan requires background research"}
	default:
		return &Handoff{TargetName: NameWriter, Reason: "simple query, answer directly"}
	}
}

func pluralIES(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
