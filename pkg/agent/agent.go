// Package agent provides the agent framework for Parley.
// Agents turn one conversation turn into an ordered sequence of stream
// events, driven by the shared LLM client and the search collaborator.
package agent

import (
	"context"

	"github.com/parleyhq/parley/pkg/events"
)

// Well-known agent names. Registry keys and the agent_name reported in
// agent_updated events.
const (
	NamePlain          = "PlainAgent"
	NameRAG            = "RAGAgent"
	NameResearcher     = "ResearcherAgent"
	NamePlanner        = "PlannerAgent"
	NameParallelSearch = "ParallelSearchAgent"
	NameResultRanker   = "ResultRankerAgent"
	NameWriter         = "WriterAgent"
	NameMultiAgent     = "MultiAgentOrchestrator"
)

// EmitFunc delivers one event payload to the turn's stream. It returns an
// error when the stream is gone (client disconnect, abort); agents stop
// emitting once it fails.
type EmitFunc func(p events.Payload) error

// Agent is implemented by every agent in the registry.
// Agents are stateless across turns; per-turn state lives in Context.
type Agent interface {
	// Name returns the agent's registry name.
	Name() string

	// Run executes one turn. It emits agent_updated and data payloads via
	// emit and returns a Result describing what it produced and where
	// execution should continue.
	//
	// Run never emits terminal payloads (done/error) itself; the runner or
	// the orchestrator owns stream termination. Returns (nil, error) on
	// failure — the caller classifies the error into a stream error code.
	Run(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error)
}

// Handoff declares that execution should continue in another named agent.
// Reported by value; resolution happens in the orchestrator.
type Handoff struct {
	TargetName string
	Reason     string
}

// Result is returned by Agent.Run on completion.
type Result struct {
	// Content is the text the agent contributed to the reply, if any.
	Content string

	// Handoff names the next agent, or nil when execution ends here.
	Handoff *Handoff

	// Plan is set by the planner and consumed downstream via Context.
	Plan *ExecutionPlan

	// Findings is set by the parallel search phase.
	Findings *SearchResults

	// Ranking is set by the result ranker.
	Ranking *RankingResult

	// Citations are the documents the reply is grounded on.
	Citations []events.Citation
}
