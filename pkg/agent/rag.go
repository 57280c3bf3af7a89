package agent

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/search"
)

// ragSnippetMax caps citation snippet length.
const ragSnippetMax = 200

// ragDefaultTopK is the retrieval depth when the request does not override it.
const ragDefaultTopK = 5

// RAGAgent retrieves documents for the latest user message and streams an
// answer grounded on them. When no searcher is configured it degrades to a
// plain answer and says so in the thoughts channel.
type RAGAgent struct {
	llm      llm.Client
	searcher search.Searcher
	topK     int
}

// NewRAGAgent creates the retrieval-grounded agent. searcher may be nil.
func NewRAGAgent(client llm.Client, searcher search.Searcher) *RAGAgent {
	return &RAGAgent{llm: client, searcher: searcher, topK: ragDefaultTopK}
}

func (a *RAGAgent) Name() string { return NameRAG }

func (a *RAGAgent) Run(ctx context.Context, actx *Context, emit EmitFunc) (*Result, error) {
	if err := emit(events.AgentUpdated(NameRAG, events.ContentThoughts, "searching")); err != nil {
		return nil, err
	}

	var docs []search.Document
	if a.searcher == nil {
		if err := emit(events.Data("No document search is configured; answering from conversation context.\n")); err != nil {
			return nil, err
		}
	} else {
		var err error
		docs, err = a.searcher.Search(ctx, actx.Query(), search.Options{TopK: a.topK})
		if err != nil {
			// Retrieval failure is not fatal for the turn.
			if emitErr := emit(events.Data(fmt.Sprintf("Document search failed (%v); answering without retrieval.\n", err))); emitErr != nil {
				return nil, emitErr
			}
			docs = nil
		} else {
			if err := emit(events.Data(fmt.Sprintf("Found %d relevant document(s).\n", len(docs)))); err != nil {
				return nil, err
			}
		}
	}

	citations := CitationsFromDocuments(docs, len(docs))
	if len(citations) > 0 {
		if err := emit(events.Metadata(actx.TraceID, citations)); err != nil {
			return nil, err
		}
	}

	if err := emit(events.AgentUpdated(NameRAG, events.ContentFinalAnswer, "generating")); err != nil {
		return nil, err
	}

	opts := actx.LLMOptions()
	if len(docs) > 0 {
		opts.SystemPrompt = ragSystemPrompt(docs)
	}
	content, err := streamToEmit(ctx, a.llm, actx.LLMMessages(), opts, emit)
	if err != nil {
		return nil, err
	}
	return &Result{Content: content, Citations: citations}, nil
}

// CitationsFromDocuments converts retrieval hits into wire citations,
// keeping at most limit and capping snippets.
func CitationsFromDocuments(docs []search.Document, limit int) []events.Citation {
	if limit <= 0 || limit > len(docs) {
		limit = len(docs)
	}
	out := make([]events.Citation, 0, limit)
	for _, d := range docs[:limit] {
		snippet := d.Snippet
		if snippet == "" {
			snippet = d.Content
		}
		out = append(out, events.Citation{
			Title:   d.Title,
			Source:  d.Source,
			Snippet: truncateRunes(snippet, ragSnippetMax),
			URL:     d.URL,
			Page:    d.Page,
		})
	}
	return out
}
