package agent

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/parleyhq/parley/pkg/search"
)

// SubQuery is one decomposed part of the user's query.
type SubQuery struct {
	ID             string `json:"id"`
	Query          string `json:"query"`
	Intent         string `json:"intent"`
	Priority       int    `json:"priority"`
	SearchStrategy string `json:"search_strategy"`
}

// Strategy maps the planner's strategy string onto the search collaborator's
// vocabulary, defaulting to semantic.
func (sq SubQuery) Strategy() search.Strategy {
	switch search.Strategy(sq.SearchStrategy) {
	case search.StrategyKeyword:
		return search.StrategyKeyword
	case search.StrategyHybrid:
		return search.StrategyHybrid
	default:
		return search.StrategySemantic
	}
}

// ExecutionPlan is the planner's decomposition of a turn.
type ExecutionPlan struct {
	OriginalQuery     string     `json:"original_query"`
	QueryType         string     `json:"query_type"`
	RequiresResearch  bool       `json:"requires_research"`
	RequiresRAG       bool       `json:"requires_rag"`
	ParallelExecution bool       `json:"parallel_execution"`
	Reasoning         string     `json:"reasoning"`
	SubQueries        []SubQuery `json:"sub_queries"`
}

// FallbackPlan is the single-subquery plan used when planning fails or the
// model returns malformed JSON.
func FallbackPlan(query string) *ExecutionPlan {
	return &ExecutionPlan{
		OriginalQuery: query,
		QueryType:     "simple",
		Reasoning:     "fallback: answering the raw query directly",
		SubQueries: []SubQuery{
			{ID: "sq-1", Query: query, Intent: "factual", Priority: 1, SearchStrategy: string(search.StrategySemantic)},
		},
	}
}

// ParsePlan decodes raw planner output defensively. Malformed JSON or a plan
// without sub-queries degrades to FallbackPlan(query). Sub-queries missing a
// query string are dropped; missing ids are filled positionally.
func ParsePlan(raw, query string) *ExecutionPlan {
	raw = strings.TrimSpace(raw)
	var plan ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return FallbackPlan(query)
	}

	kept := plan.SubQueries[:0]
	for i, sq := range plan.SubQueries {
		if strings.TrimSpace(sq.Query) == "" {
			continue
		}
		if sq.ID == "" {
			sq.ID = "sq-" + strconv.Itoa(i+1)
		}
		kept = append(kept, sq)
	}
	plan.SubQueries = kept

	if len(plan.SubQueries) == 0 {
		return FallbackPlan(query)
	}
	if plan.OriginalQuery == "" {
		plan.OriginalQuery = query
	}
	return &plan
}
