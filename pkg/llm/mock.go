package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MockClient is a deterministic, content-dependent Client used in tests and
// local development. It recognizes planner and ranker cues in the system
// prompt and returns well-formed JSON for them, so the multi-agent flow can
// run end to end without a real provider.
type MockClient struct {
	// delay is the per-token pause while streaming.
	delay time.Duration
}

// NewMockClient builds a mock with the given per-token delay.
func NewMockClient(delay time.Duration) *MockClient {
	return &MockClient{delay: delay}
}

// Cue substrings looked for in the system prompt. The agents embed these in
// their prompts, which keeps mock routing stable across prompt rewording.
const (
	mockPlannerCue  = "query planner"
	mockRankerCue   = "results ranker"
	mockResearchCue = "research assistant"
)

// Stream emits the deterministic reply token by token.
func (c *MockClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, error) {
	reply := c.replyFor(messages, opts)

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		for _, token := range splitTokens(reply) {
			if c.delay > 0 {
				select {
				case <-time.After(c.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- &TextChunk{Content: token}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete returns the deterministic reply in full.
func (c *MockClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.replyFor(messages, opts), nil
}

// Close implements Client.
func (c *MockClient) Close() error { return nil }

func (c *MockClient) replyFor(messages []Message, opts Options) string {
	system := strings.ToLower(systemContent(messages))
	if opts.SystemPrompt != "" {
		system = strings.ToLower(opts.SystemPrompt)
	}
	query := lastUserContent(messages)

	switch {
	case strings.Contains(system, mockPlannerCue):
		return mockPlan(query)
	case strings.Contains(system, mockRankerCue):
		return mockRanking()
	case strings.Contains(system, mockResearchCue):
		return fmt.Sprintf("Research notes on %q: the available sources broadly agree, with minor differences in emphasis.", query)
	}

	if answer, ok := mockArithmetic(query); ok {
		return answer
	}
	if opts.JSONMode {
		out, _ := json.Marshal(map[string]string{"answer": "Mock answer to: " + query})
		return string(out)
	}
	return fmt.Sprintf("Here is a concise answer to %q: the mock provider has no real knowledge, but it streams deterministically so pipelines can be tested end to end.", query)
}

// mockComplexMarkers make a query classify as multi-part.
var mockComplexMarkers = []string{" and ", " vs ", "compare", "difference between", "versus"}

// mockPlan returns an ExecutionPlan-shaped JSON object. Queries containing
// a complexity marker produce a three-way parallel plan; everything else a
// single-subquery simple plan.
func mockPlan(query string) string {
	lower := strings.ToLower(query)
	complex := false
	for _, m := range mockComplexMarkers {
		if strings.Contains(lower, m) {
			complex = true
			break
		}
	}

	if !complex {
		plan := map[string]any{
			"original_query":     query,
			"query_type":         "simple",
			"requires_research":  false,
			"requires_rag":       false,
			"parallel_execution": false,
			"reasoning":          "single factual question, answer directly",
			"sub_queries": []map[string]any{
				{"id": "sq-1", "query": query, "intent": "factual", "priority": 1, "search_strategy": "semantic"},
			},
		}
		out, _ := json.Marshal(plan)
		return string(out)
	}

	plan := map[string]any{
		"original_query":     query,
		"query_type":         "complex",
		"requires_research":  true,
		"requires_rag":       true,
		"parallel_execution": true,
		"reasoning":          "multi-part question, fan out sub-queries",
		"sub_queries": []map[string]any{
			{"id": "sq-1", "query": "background: " + query, "intent": "exploratory", "priority": 2, "search_strategy": "semantic"},
			{"id": "sq-2", "query": "key facts: " + query, "intent": "factual", "priority": 1, "search_strategy": "hybrid"},
			{"id": "sq-3", "query": "comparison: " + query, "intent": "comparative", "priority": 3, "search_strategy": "keyword"},
		},
	}
	out, _ := json.Marshal(plan)
	return string(out)
}

// mockRanking returns a ranking over the conventional mock sub-query ids.
func mockRanking() string {
	ranking := map[string]any{
		"reasoning": "sq-2 has the strongest coverage, sq-1 adds background",
		"selected": []map[string]any{
			{"id": "sq-2", "score": 0.9},
			{"id": "sq-1", "score": 0.6},
		},
	}
	out, _ := json.Marshal(ranking)
	return string(out)
}

// mockArithmetic answers trivial a+b questions so demo turns look alive.
func mockArithmetic(query string) (string, bool) {
	q := strings.TrimSuffix(strings.TrimSpace(query), "?")
	var a, b int
	if _, err := fmt.Sscanf(q, "%d+%d", &a, &b); err == nil {
		return fmt.Sprintf("%d", a+b), true
	}
	return "", false
}
