package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/conversation"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/search"
)

// recorder collects emitted payloads for assertions.
type recorder struct {
	payloads []events.Payload
}

func (r *recorder) emit(p events.Payload) error {
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recorder) kinds() []events.Kind {
	out := make([]events.Kind, len(r.payloads))
	for i, p := range r.payloads {
		out[i] = p.Kind()
	}
	return out
}

func (r *recorder) content() string {
	var sb strings.Builder
	for _, p := range r.payloads {
		if d, ok := p.(events.DataPayload); ok {
			sb.WriteString(d.Chunk)
		}
	}
	return sb.String()
}

func testContext(query string) *Context {
	return &Context{
		TraceID:  "trace-1",
		UserID:   "U1",
		ThreadID: "T1",
		History:  []conversation.Message{{ID: "m1", Role: conversation.RoleUser, Content: query}},
	}
}

func TestPlainAgentStreamsAnswer(t *testing.T) {
	a := NewPlainAgent(llm.NewMockClient(0))
	rec := &recorder{}

	res, err := a.Run(context.Background(), testContext("2+2?"), rec.emit)
	require.NoError(t, err)

	require.NotEmpty(t, rec.payloads)
	upd, ok := rec.payloads[0].(events.AgentUpdatedPayload)
	require.True(t, ok)
	assert.Equal(t, NamePlain, upd.AgentName)
	assert.Equal(t, events.ContentFinalAnswer, upd.ContentType)

	assert.Equal(t, "4", rec.content())
	assert.Equal(t, "4", res.Content)
	assert.Nil(t, res.Handoff)
}

func TestRAGAgent(t *testing.T) {
	t.Run("with searcher emits citations metadata", func(t *testing.T) {
		a := NewRAGAgent(llm.NewMockClient(0), &search.MockSearcher{})
		rec := &recorder{}

		res, err := a.Run(context.Background(), testContext("what is parley?"), rec.emit)
		require.NoError(t, err)
		require.Len(t, res.Citations, 5)

		kinds := rec.kinds()
		// thoughts update, hit-count data, citations metadata, answer update, tokens.
		assert.Equal(t, events.KindAgentUpdated, kinds[0])
		assert.Contains(t, rec.content(), "Found 5 relevant document(s).")

		var sawCitationMetadata bool
		for _, p := range rec.payloads {
			if m, ok := p.(events.MetadataPayload); ok {
				sawCitationMetadata = true
				assert.Len(t, m.Citations, 5)
			}
		}
		assert.True(t, sawCitationMetadata)
	})

	t.Run("without searcher degrades to plain answer", func(t *testing.T) {
		a := NewRAGAgent(llm.NewMockClient(0), nil)
		rec := &recorder{}

		res, err := a.Run(context.Background(), testContext("2+2?"), rec.emit)
		require.NoError(t, err)
		assert.Empty(t, res.Citations)
		assert.Contains(t, rec.content(), "No document search is configured")
		for _, p := range rec.payloads {
			_, isMeta := p.(events.MetadataPayload)
			assert.False(t, isMeta, "no citation metadata without retrieval")
		}
	})

	t.Run("search failure is not fatal", func(t *testing.T) {
		a := NewRAGAgent(llm.NewMockClient(0), &search.MockSearcher{Fail: true})
		rec := &recorder{}

		res, err := a.Run(context.Background(), testContext("2+2?"), rec.emit)
		require.NoError(t, err)
		assert.Empty(t, res.Citations)
		assert.Contains(t, rec.content(), "Document search failed")
	})
}

func TestPlannerAgent(t *testing.T) {
	t.Run("complex query hands off to parallel search", func(t *testing.T) {
		a := NewPlannerAgent(llm.NewMockClient(0))
		rec := &recorder{}

		res, err := a.Run(context.Background(), testContext("compare apples and oranges"), rec.emit)
		require.NoError(t, err)
		require.NotNil(t, res.Plan)
		assert.Len(t, res.Plan.SubQueries, 3)
		require.NotNil(t, res.Handoff)
		assert.Equal(t, NameParallelSearch, res.Handoff.TargetName)
	})

	t.Run("simple query hands off to writer", func(t *testing.T) {
		a := NewPlannerAgent(llm.NewMockClient(0))
		rec := &recorder{}

		res, err := a.Run(context.Background(), testContext("capital of France?"), rec.emit)
		require.NoError(t, err)
		require.NotNil(t, res.Handoff)
		assert.Equal(t, NameWriter, res.Handoff.TargetName)
	})

	t.Run("rag routing", func(t *testing.T) {
		a := NewPlannerAgent(llm.NewMockClient(0))
		h := a.handoff(&ExecutionPlan{RequiresRAG: true, SubQueries: []SubQuery{{ID: "sq-1"}}})
		assert.Equal(t, NameRAG, h.TargetName)

		h = a.handoff(&ExecutionPlan{RequiresResearch: true, SubQueries: []SubQuery{{ID: "sq-1"}}})
		assert.Equal(t, NameResearcher, h.TargetName)
	})
}

func TestParallelSearchAgent(t *testing.T) {
	plan := &ExecutionPlan{
		OriginalQuery:     "a vs b",
		ParallelExecution: true,
		SubQueries: []SubQuery{
			{ID: "sq-1", Query: "about a", SearchStrategy: "semantic"},
			{ID: "sq-2", Query: "about b", SearchStrategy: "keyword"},
		},
	}

	t.Run("fans out and hands off to ranker", func(t *testing.T) {
		a := NewParallelSearchAgent(&search.MockSearcher{})
		actx := testContext("a vs b")
		actx.Plan = plan
		rec := &recorder{}

		res, err := a.Run(context.Background(), actx, rec.emit)
		require.NoError(t, err)
		require.NotNil(t, res.Findings)
		assert.Len(t, res.Findings.Findings, 2)
		assert.Equal(t, 10, res.Findings.TotalDocuments)
		assert.NotEmpty(t, res.Findings.BestSubQueryID)
		require.NotNil(t, res.Handoff)
		assert.Equal(t, NameResultRanker, res.Handoff.TargetName)
	})

	t.Run("all failures hand off to writer", func(t *testing.T) {
		a := NewParallelSearchAgent(&search.MockSearcher{Fail: true})
		actx := testContext("a vs b")
		actx.Plan = plan
		rec := &recorder{}

		res, err := a.Run(context.Background(), actx, rec.emit)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Findings.TotalDocuments)
		assert.Empty(t, res.Findings.BestSubQueryID)
		for _, f := range res.Findings.Findings {
			assert.NotEmpty(t, f.Err)
		}
		require.NotNil(t, res.Handoff)
		assert.Equal(t, NameWriter, res.Handoff.TargetName)
	})

	t.Run("missing plan is an agent error", func(t *testing.T) {
		a := NewParallelSearchAgent(&search.MockSearcher{})
		rec := &recorder{}
		_, err := a.Run(context.Background(), testContext("q"), rec.emit)
		assert.Error(t, err)
	})
}

func TestAggregateDeduplicatesByID(t *testing.T) {
	shared := search.Document{ID: "doc-shared", Title: "shared", Score: 8}
	findings := []Finding{
		{SubQuery: SubQuery{ID: "sq-1"}, Documents: []search.Document{shared, {ID: "doc-a", Score: 6}}, Relevance: 0.7},
		{SubQuery: SubQuery{ID: "sq-2"}, Documents: []search.Document{shared, {ID: "doc-b", Score: 9}}, Relevance: 0.85},
	}

	results := aggregate(findings)
	assert.Equal(t, 3, results.TotalDocuments)
	// First occurrence wins: sq-2 lost the shared doc.
	assert.Len(t, results.Findings[0].Documents, 2)
	assert.Len(t, results.Findings[1].Documents, 1)
	assert.Equal(t, "sq-2", results.BestSubQueryID)
}

func TestRelevanceNormalization(t *testing.T) {
	assert.Zero(t, relevance(nil))
	docs := []search.Document{{Score: 9}, {Score: 7}}
	assert.InDelta(t, 0.8, relevance(docs), 1e-9)
	// Scores above the divisor clamp to 1.
	assert.InDelta(t, 1.0, relevance([]search.Document{{Score: 25}}), 1e-9)
}

func TestResultRankerAgent(t *testing.T) {
	makeResults := func() *SearchResults {
		return aggregate([]Finding{
			{SubQuery: SubQuery{ID: "sq-1", Query: "background"}, Documents: []search.Document{{ID: "d1", Title: "One", Content: "alpha", Score: 6}}, Relevance: 0.6},
			{SubQuery: SubQuery{ID: "sq-2", Query: "key facts"}, Documents: []search.Document{{ID: "d2", Title: "Two", Content: "beta", Score: 9}}, Relevance: 0.9},
		})
	}

	t.Run("llm ranking selects known ids", func(t *testing.T) {
		a := NewResultRankerAgent(llm.NewMockClient(0))
		actx := testContext("a vs b")
		actx.Findings = makeResults()
		rec := &recorder{}

		res, err := a.Run(context.Background(), actx, rec.emit)
		require.NoError(t, err)
		require.NotNil(t, res.Ranking)
		// Mock ranker selects sq-2 (0.9) then sq-1 (0.6).
		require.Len(t, res.Ranking.Selected, 2)
		assert.Equal(t, "sq-2", res.Ranking.Selected[0].SubQueryID)
		assert.Contains(t, res.Ranking.Context, "sq-2: key facts")
		assert.Contains(t, res.Ranking.Context, "Two")
		assert.Greater(t, res.Ranking.Confidence, 0.0)
		assert.LessOrEqual(t, res.Ranking.Confidence, 1.0)
		require.NotNil(t, res.Handoff)
		assert.Equal(t, NameWriter, res.Handoff.TargetName)
	})

	t.Run("single sub-query uses heuristic", func(t *testing.T) {
		a := NewResultRankerAgent(llm.NewMockClient(0))
		actx := testContext("q")
		actx.Findings = aggregate([]Finding{
			{SubQuery: SubQuery{ID: "sq-1", Query: "q"}, Documents: []search.Document{{ID: "d1", Title: "T", Content: "c", Score: 8}}, Relevance: 0.8},
		})
		rec := &recorder{}

		res, err := a.Run(context.Background(), actx, rec.emit)
		require.NoError(t, err)
		require.Len(t, res.Ranking.Selected, 1)
		// 0.5*0.8 + 0.3*(1/5) + 0.2 = 0.66
		assert.InDelta(t, 0.66, res.Ranking.Selected[0].Score, 1e-9)
	})

	t.Run("no findings is an agent error", func(t *testing.T) {
		a := NewResultRankerAgent(llm.NewMockClient(0))
		rec := &recorder{}
		_, err := a.Run(context.Background(), testContext("q"), rec.emit)
		assert.Error(t, err)
	})
}

func TestHeuristicRankingScores(t *testing.T) {
	results := &SearchResults{Findings: []Finding{
		{SubQuery: SubQuery{ID: "good"}, Documents: make([]search.Document, 5), Relevance: 1.0},
		{SubQuery: SubQuery{ID: "failed"}, Err: "boom"},
	}}
	ranked := heuristicRanking(results)
	require.Len(t, ranked, 2)
	assert.Equal(t, "good", ranked[0].SubQueryID)
	// 0.5 + 0.3 + 0.2
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-9)
	assert.InDelta(t, 0.0, ranked[1].Score, 1e-9)
}

func TestSelectRankedForcesBestNonEmpty(t *testing.T) {
	results := &SearchResults{Findings: []Finding{
		{SubQuery: SubQuery{ID: "sq-1"}, Documents: []search.Document{{ID: "d"}}},
		{SubQuery: SubQuery{ID: "sq-2"}},
	}}
	ranked := []RankedResult{
		{SubQueryID: "sq-2", Score: 0.25},
		{SubQueryID: "sq-1", Score: 0.1},
	}
	selected := selectRanked(ranked, results)
	// Nothing meets the bar; sq-2 is better but empty, so sq-1 is forced.
	require.Len(t, selected, 1)
	assert.Equal(t, "sq-1", selected[0].SubQueryID)
}

func TestWriterAgent(t *testing.T) {
	t.Run("streams grounded answer with capped citations", func(t *testing.T) {
		a := NewWriterAgent(llm.NewMockClient(0))
		actx := testContext("a vs b")
		docs := make([]search.Document, 8)
		for i := range docs {
			docs[i] = search.Document{ID: fmt.Sprintf("d%d", i), Title: fmt.Sprintf("Doc %d", i), Content: "body"}
		}
		actx.Findings = &SearchResults{Findings: []Finding{
			{SubQuery: SubQuery{ID: "sq-1", Query: "q"}, Documents: docs},
		}}
		actx.Ranking = &RankingResult{
			Selected: []RankedResult{{SubQueryID: "sq-1", Score: 0.9}},
			Context:  "## sq-1: q",
		}
		rec := &recorder{}

		res, err := a.Run(context.Background(), actx, rec.emit)
		require.NoError(t, err)
		assert.Len(t, res.Citations, writerMaxCitations)
		assert.NotEmpty(t, res.Content)
		assert.Nil(t, res.Handoff)

		upd, ok := rec.payloads[0].(events.AgentUpdatedPayload)
		require.True(t, ok)
		assert.Equal(t, NameWriter, upd.AgentName)
		assert.Equal(t, events.ContentFinalAnswer, upd.ContentType)
	})

	t.Run("answers without prior phases", func(t *testing.T) {
		a := NewWriterAgent(llm.NewMockClient(0))
		rec := &recorder{}

		res, err := a.Run(context.Background(), testContext("2+2?"), rec.emit)
		require.NoError(t, err)
		assert.Equal(t, "4", res.Content)
		assert.Empty(t, res.Citations)
	})
}

func TestResearcherAgent(t *testing.T) {
	a := NewResearcherAgent(llm.NewMockClient(0))
	rec := &recorder{}

	res, err := a.Run(context.Background(), testContext("history of tea"), rec.emit)
	require.NoError(t, err)
	require.NotNil(t, res.Handoff)
	assert.Equal(t, NameWriter, res.Handoff.TargetName)
	require.NotNil(t, res.Ranking)
	assert.Contains(t, res.Ranking.Context, "Research notes")
}
