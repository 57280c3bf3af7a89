package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
)

const (
	// rankerTimeout bounds the ranking completion.
	rankerTimeout = 20 * time.Second
	// rankerMaxSelected caps how many sub-query results ground the answer.
	rankerMaxSelected = 3
	// rankerScoreBar is the minimum score for a result to be selected.
	rankerScoreBar = 0.3
	// rankerContextChars is how much of each document feeds the context.
	rankerContextChars = 500
)

// ResultRankerAgent scores the parallel-search findings, selects the best
// ones, and synthesizes the context string the writer grounds the answer on.
type ResultRankerAgent struct {
	llm llm.Client
}

// NewResultRankerAgent creates the ranking agent. client may be nil, in
// which case only the heuristic is used.
func NewResultRankerAgent(client llm.Client) *ResultRankerAgent {
	return &ResultRankerAgent{llm: client}
}

func (a *ResultRankerAgent) Name() string { return NameResultRanker }

func (a *ResultRankerAgent) Run(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
	if actx.Findings == nil || len(actx.Findings.Findings) == 0 {
		return nil, fmt.Errorf("result ranker: no search results")
	}
	if err := emit(events.AgentUpdated(NameResultRanker, events.ContentThoughts, "ranking")); err != nil {
		return nil, err
	}

	results := actx.Findings
	var ranked []RankedResult
	var reasoning string

	if a.llm != nil && len(results.Findings) > 1 {
		ranked, reasoning = a.rankWithLLM(ctx, actx.Query(), results)
	}
	if ranked == nil {
		ranked = heuristicRanking(results)
		reasoning = "heuristic ranking over relevance and coverage"
	}

	selected := selectRanked(ranked, results)
	ranking := &RankingResult{
		Selected:   selected,
		Context:    synthesizeContext(selected, results),
		Confidence: confidence(selected),
		Reasoning:  reasoning,
	}

	if err := emit(events.Data(fmt.Sprintf("Selected %d result set(s), confidence %.2f.\n",
		len(selected), ranking.Confidence))); err != nil {
		return nil, err
	}
	return &Result{
		Ranking: ranking,
		Handoff: &Handoff{TargetName: NameWriter, Reason: "compose answer from ranked context"},
	}, nil
}

// rankWithLLM asks the model for a ranking. Returns (nil, "") on any
// failure so the caller falls back to the heuristic.
func (a *ResultRankerAgent) rankWithLLM(ctx context.Context, query string, results *SearchResults) ([]RankedResult, string) {
	raw, err := a.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: rankingUserPrompt(query, results)},
	}, llm.Options{SystemPrompt: rankerSystemPrompt, JSONMode: true, Timeout: rankerTimeout})
	if err != nil {
		return nil, ""
	}

	var parsed struct {
		Reasoning string         `json:"reasoning"`
		Selected  []RankedResult `json:"selected"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return nil, ""
	}

	// Drop ids the model invented.
	kept := parsed.Selected[:0]
	for _, r := range parsed.Selected {
		if results.finding(r.SubQueryID) != nil {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return nil, ""
	}
	return kept, parsed.Reasoning
}

// heuristicRanking scores every finding without a model call:
// 0.5·relevance + 0.3·min(docs/5, 1) + 0.2 if the search succeeded.
func heuristicRanking(results *SearchResults) []RankedResult {
	out := make([]RankedResult, 0, len(results.Findings))
	for _, f := range results.Findings {
		coverage := float64(len(f.Documents)) / 5.0
		if coverage > 1 {
			coverage = 1
		}
		score := 0.5*f.Relevance + 0.3*coverage
		if f.Err == "" {
			score += 0.2
		}
		out = append(out, RankedResult{SubQueryID: f.SubQuery.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// selectRanked keeps up to rankerMaxSelected results meeting the score bar.
// If none qualify, the single best non-empty result is forced.
func selectRanked(ranked []RankedResult, results *SearchResults) []RankedResult {
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	selected := make([]RankedResult, 0, rankerMaxSelected)
	for _, r := range ranked {
		if r.Score < rankerScoreBar {
			continue
		}
		f := results.finding(r.SubQueryID)
		if f == nil || len(f.Documents) == 0 {
			continue
		}
		selected = append(selected, r)
		if len(selected) == rankerMaxSelected {
			break
		}
	}
	if len(selected) > 0 {
		return selected
	}

	for _, r := range ranked {
		if f := results.finding(r.SubQueryID); f != nil && len(f.Documents) > 0 {
			return []RankedResult{r}
		}
	}
	return nil
}

// synthesizeContext concatenates, per selected sub-query, its id, query, and
// each document's title plus leading content.
func synthesizeContext(selected []RankedResult, results *SearchResults) string {
	var sb strings.Builder
	for _, r := range selected {
		f := results.finding(r.SubQueryID)
		if f == nil {
			continue
		}
		fmt.Fprintf(&sb, "## %s: %s\n", f.SubQuery.ID, f.SubQuery.Query)
		for _, d := range f.Documents {
			fmt.Fprintf(&sb, "### %s\n%s\n\n", d.Title, truncateRunes(d.Content, rankerContextChars))
		}
	}
	return strings.TrimSpace(sb.String())
}

// confidence is the average selected score plus a small count bonus,
// clamped to 1.
func confidence(selected []RankedResult) float64 {
	if len(selected) == 0 {
		return 0
	}
	var sum float64
	for _, r := range selected {
		sum += r.Score
	}
	bonus := 0.1 * float64(len(selected))
	if bonus > 0.2 {
		bonus = 0.2
	}
	return clamp01(sum/float64(len(selected)) + bonus)
}
