package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/conversation"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/search"
)

type capture struct {
	payloads []events.Payload
}

func (c *capture) emit(p events.Payload) error {
	c.payloads = append(c.payloads, p)
	return nil
}

// agentUpdates extracts the (agent, content_type) transitions in order.
func (c *capture) agentUpdates() []events.AgentUpdatedPayload {
	var out []events.AgentUpdatedPayload
	for _, p := range c.payloads {
		if u, ok := p.(events.AgentUpdatedPayload); ok {
			out = append(out, u)
		}
	}
	return out
}

func fullRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	client := llm.NewMockClient(0)
	searcher := &search.MockSearcher{}

	r := agent.NewRegistry()
	r.Register(agent.NamePlain, agent.NewPlainAgent(client))
	r.Register(agent.NameRAG, agent.NewRAGAgent(client, searcher))
	r.Register(agent.NameResearcher, agent.NewResearcherAgent(client))
	r.Register(agent.NamePlanner, agent.NewPlannerAgent(client))
	r.Register(agent.NameParallelSearch, agent.NewParallelSearchAgent(searcher))
	r.Register(agent.NameResultRanker, agent.NewResultRankerAgent(client))
	r.Register(agent.NameWriter, agent.NewWriterAgent(client))
	return r
}

func turnContext(query string) *agent.Context {
	return &agent.Context{
		TraceID:  "trace-1",
		UserID:   "U1",
		ThreadID: "T1",
		History:  []conversation.Message{{ID: "m1", Role: conversation.RoleUser, Content: query}},
	}
}

func TestOrchestratorComplexQueryRunsFullChain(t *testing.T) {
	o := New(fullRegistry(t), nil)
	cap := &capture{}

	res, err := o.Run(context.Background(), turnContext("compare apples and oranges"), cap.emit)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Content)

	updates := cap.agentUpdates()
	names := make([]string, len(updates))
	for i, u := range updates {
		names[i] = u.AgentName
	}
	assert.Equal(t, []string{
		agent.NamePlanner,
		agent.NameParallelSearch,
		agent.NameResultRanker,
		agent.NameWriter,
	}, names)
	assert.Equal(t, events.ContentThoughts, updates[0].ContentType)
	assert.Equal(t, events.ContentFinalAnswer, updates[len(updates)-1].ContentType)

	assert.NotEmpty(t, res.Citations)
	assert.LessOrEqual(t, len(res.Citations), 5)
}

func TestOrchestratorSimpleQuerySkipsSearch(t *testing.T) {
	o := New(fullRegistry(t), nil)
	cap := &capture{}

	_, err := o.Run(context.Background(), turnContext("capital of France?"), cap.emit)
	require.NoError(t, err)

	for _, u := range cap.agentUpdates() {
		assert.NotEqual(t, agent.NameParallelSearch, u.AgentName)
		assert.NotEqual(t, agent.NameResultRanker, u.AgentName)
	}
}

func TestOrchestratorFiltersInnerMetadata(t *testing.T) {
	r := fullRegistry(t)
	// RAG emits a mid-stream citations metadata; route the plan to it.
	r.Register(agent.NamePlanner, &fixedHandoffAgent{
		name:    agent.NamePlanner,
		handoff: &agent.Handoff{TargetName: agent.NameRAG},
	})
	o := New(r, nil)
	cap := &capture{}

	_, err := o.Run(context.Background(), turnContext("what is parley?"), cap.emit)
	require.NoError(t, err)

	for _, p := range cap.payloads {
		assert.NotEqual(t, events.KindMetadata, p.Kind())
		assert.NotEqual(t, events.KindDone, p.Kind())
	}
}

func TestOrchestratorUnknownHandoffTarget(t *testing.T) {
	r := fullRegistry(t)
	r.Register(agent.NamePlanner, &fixedHandoffAgent{
		name:    agent.NamePlanner,
		handoff: &agent.Handoff{TargetName: "NoSuchAgent"},
	})
	o := New(r, nil)
	cap := &capture{}

	_, err := o.Run(context.Background(), turnContext("q"), cap.emit)
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrNotRegistered)
}

func TestOrchestratorIterationCap(t *testing.T) {
	r := agent.NewRegistry()
	// Planner hands to itself forever.
	r.Register(agent.NamePlanner, &fixedHandoffAgent{
		name:    agent.NamePlanner,
		handoff: &agent.Handoff{TargetName: agent.NamePlanner},
	})
	o := New(r, nil)
	cap := &capture{}

	res, err := o.Run(context.Background(), turnContext("q"), cap.emit)
	require.NoError(t, err)
	require.NotNil(t, res)

	var sawSentinel bool
	for _, p := range cap.payloads {
		if d, ok := p.(events.DataPayload); ok && d.Chunk == "\n[stopped: agent handoff limit reached]\n" {
			sawSentinel = true
		}
	}
	assert.True(t, sawSentinel)
}

// fixedHandoffAgent always reports the same handoff, emitting nothing of
// substance.
type fixedHandoffAgent struct {
	name    string
	handoff *agent.Handoff
}

func (f *fixedHandoffAgent) Name() string { return f.name }

func (f *fixedHandoffAgent) Run(ctx context.Context, actx *agent.Context, emit agent.EmitFunc) (*agent.Result, error) {
	return &agent.Result{Handoff: f.handoff}, nil
}
