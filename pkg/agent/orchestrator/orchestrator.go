// Package orchestrator chains agents into the multi-agent flow: plan the
// turn, fan sub-queries out to search, rank the results, write the answer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/events"
)

// MaxIterations caps the handoff chain length to break cycles.
const MaxIterations = 6

// Orchestrator is itself an Agent; it is registered as the "multi-agent"
// entry point and resolves handoff targets through the registry.
type Orchestrator struct {
	registry *agent.Registry
	logger   *slog.Logger
}

// New creates the orchestrator over a registry that must contain the
// planner and the agents it hands off to.
func New(registry *agent.Registry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{registry: registry, logger: logger}
}

func (o *Orchestrator) Name() string { return agent.NameMultiAgent }

// Run executes the handoff chain starting at the planner. Inner agents'
// metadata payloads are consumed at the boundary; everything else is
// forwarded verbatim. Each phase transition is announced by a short
// orchestrator-authored data marker.
func (o *Orchestrator) Run(ctx context.Context, actx *agent.Context, emit agent.EmitFunc) (*agent.Result, error) {
	inner := filterEmit(emit)

	var lastResult *agent.Result
	var content string
	var citations []events.Citation

	current := agent.NamePlanner
	for iteration := 1; ; iteration++ {
		if iteration > MaxIterations {
			o.logger.Warn("handoff chain hit iteration cap",
				"trace_id", actx.TraceID, "iterations", MaxIterations)
			if err := emit(events.Data("\n[stopped: agent handoff limit reached]\n")); err != nil {
				return nil, err
			}
			break
		}

		a, err := o.registry.Get(current)
		if err != nil {
			return nil, fmt.Errorf("handoff target: %w", err)
		}

		if err := emit(events.Data(phaseMarker(current))); err != nil {
			return nil, err
		}
		o.logger.Debug("running phase",
			"trace_id", actx.TraceID, "agent", current, "iteration", iteration)

		result, err := a.Run(ctx, actx, inner)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", current, err)
		}
		lastResult = result

		// Thread phase outputs into the shared context for the next agent.
		if result.Plan != nil {
			actx.Plan = result.Plan
		}
		if result.Findings != nil {
			actx.Findings = result.Findings
		}
		if result.Ranking != nil {
			actx.Ranking = result.Ranking
		}
		if result.Content != "" {
			content = result.Content
		}
		if len(result.Citations) > 0 {
			citations = result.Citations
		}

		if result.Handoff == nil {
			break
		}
		current = result.Handoff.TargetName
	}

	out := &agent.Result{Content: content, Citations: citations}
	if lastResult != nil {
		out.Plan = lastResult.Plan
	}
	return out, nil
}

// filterEmit consumes metadata and done payloads from inner agents; the
// outer stream carries exactly one of each, owned by the runner.
func filterEmit(emit agent.EmitFunc) agent.EmitFunc {
	return func(p events.Payload) error {
		switch p.Kind() {
		case events.KindMetadata, events.KindDone:
			return nil
		}
		return emit(p)
	}
}

// phaseMarker is the short human-readable transition line the orchestrator
// contributes to the stream.
func phaseMarker(name string) string {
	switch name {
	case agent.NamePlanner:
		return "\n[planning]\n"
	case agent.NameParallelSearch:
		return "\n[searching]\n"
	case agent.NameResultRanker:
		return "\n[ranking]\n"
	case agent.NameResearcher:
		return "\n[researching]\n"
	case agent.NameWriter:
		return "\n[writing]\n"
	default:
		return fmt.Sprintf("\n[%s]\n", name)
	}
}
