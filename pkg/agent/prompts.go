package agent

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/search"
)

// System prompts for the structured agents. The opening role phrases
// ("query planner", "results ranker", "research assistant") double as the
// routing cues the mock provider keys on, so keep them stable.

const plannerSystemPrompt = `You are a query planner. Decompose the user's question into sub-queries.
Respond with a single JSON object:
{
  "original_query": string,
  "query_type": "simple" | "complex",
  "requires_research": bool,
  "requires_rag": bool,
  "parallel_execution": bool,
  "reasoning": string,
  "sub_queries": [
    {"id": "sq-1", "query": string, "intent": "factual" | "exploratory" | "comparative",
     "priority": int, "search_strategy": "semantic" | "keyword" | "hybrid"}
  ]
}
Use parallel_execution only when independent sub-queries exist. Keep sub_queries to at most 4.`

const rankerSystemPrompt = `You are a results ranker. Given sub-queries and the documents each retrieved,
select the sub-queries whose results best answer the original question.
Respond with a single JSON object:
{"reasoning": string, "selected": [{"id": string, "score": number between 0 and 1}]}
Select at most 3 and order them best first.`

const researcherSystemPrompt = `You are a research assistant. Summarize what is known about the user's
question in a few dense paragraphs. State uncertainty explicitly. Do not
invent sources.`

// writerSystemPrompt grounds the final answer on the ranked context.
func writerSystemPrompt(plan *ExecutionPlan, ranking *RankingResult, citations []events.Citation) string {
	var sb strings.Builder
	sb.WriteString("You are the answer writer. Compose the final response to the user.\n")
	if plan != nil && plan.Reasoning != "" {
		fmt.Fprintf(&sb, "\nQuery analysis: %s\n", plan.Reasoning)
	}
	if ranking != nil && ranking.Context != "" {
		sb.WriteString("\nUse the following retrieved context. Prefer it over prior knowledge; say so when it is insufficient.\n\n")
		sb.WriteString(ranking.Context)
		sb.WriteString("\n")
	}
	if len(citations) > 0 {
		sb.WriteString("\nSources:\n")
		for i, c := range citations {
			fmt.Fprintf(&sb, "%d. %s", i+1, c.Title)
			if c.Source != "" {
				fmt.Fprintf(&sb, " (%s)", c.Source)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ragSystemPrompt grounds a single-agent RAG answer on raw documents.
func ragSystemPrompt(docs []search.Document) string {
	var sb strings.Builder
	sb.WriteString("Answer using the retrieved documents below. Cite them by title when relevant.\n\n")
	for i, d := range docs {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, d.Title, truncateRunes(d.Content, 500))
	}
	return sb.String()
}

// rankingUserPrompt summarizes the findings for the ranker's LLM call.
func rankingUserPrompt(query string, results *SearchResults) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original question: %s\n\nSub-query results:\n", query)
	for _, f := range results.Findings {
		fmt.Fprintf(&sb, "- id=%s query=%q docs=%d relevance=%.2f", f.SubQuery.ID, f.SubQuery.Query, len(f.Documents), f.Relevance)
		if f.Err != "" {
			fmt.Fprintf(&sb, " error=%q", f.Err)
		}
		sb.WriteString("\n")
		for _, d := range f.Documents {
			fmt.Fprintf(&sb, "    * %s\n", d.Title)
		}
	}
	return sb.String()
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
