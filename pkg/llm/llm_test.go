package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect drains a chunk channel into text, returning the first error chunk.
func collect(t *testing.T, ch <-chan Chunk) (string, *ErrorChunk) {
	t.Helper()
	var sb strings.Builder
	for chunk := range ch {
		switch c := chunk.(type) {
		case *TextChunk:
			sb.WriteString(c.Content)
		case *ErrorChunk:
			return sb.String(), c
		}
	}
	return sb.String(), nil
}

func TestWithSystemPromptOverride(t *testing.T) {
	in := []Message{
		{Role: RoleSystem, Content: "old"},
		{Role: RoleUser, Content: "hi"},
	}
	out := withSystemPrompt(in, Options{SystemPrompt: "new"})

	require.Len(t, out, 2)
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.Equal(t, "new", out[0].Content)
	assert.Equal(t, "hi", out[1].Content)
	// input untouched
	assert.Equal(t, "old", in[0].Content)
}

func TestSplitTokensReassembles(t *testing.T) {
	text := "the quick brown fox"
	assert.Equal(t, text, strings.Join(splitTokens(text), ""))
	assert.Nil(t, splitTokens("   "))
}

// --- Mock provider ---

func TestMockStreamDeterministic(t *testing.T) {
	c := NewMockClient(0)
	msgs := []Message{{Role: RoleUser, Content: "2+2?"}}

	ch, err := c.Stream(context.Background(), msgs, Options{})
	require.NoError(t, err)
	got, errChunk := collect(t, ch)
	require.Nil(t, errChunk)
	assert.Equal(t, "4", got)

	full, err := c.Complete(context.Background(), msgs, Options{})
	require.NoError(t, err)
	assert.Equal(t, got, full)
}

func TestMockPlannerCueReturnsPlanJSON(t *testing.T) {
	c := NewMockClient(0)
	msgs := []Message{{Role: RoleUser, Content: "compare apples and oranges"}}

	out, err := c.Complete(context.Background(), msgs, Options{
		SystemPrompt: "You are a query planner.",
		JSONMode:     true,
	})
	require.NoError(t, err)

	var plan struct {
		QueryType         string `json:"query_type"`
		ParallelExecution bool   `json:"parallel_execution"`
		SubQueries        []struct {
			ID string `json:"id"`
		} `json:"sub_queries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, "complex", plan.QueryType)
	assert.True(t, plan.ParallelExecution)
	assert.Len(t, plan.SubQueries, 3)
}

func TestMockPlannerSimpleQuery(t *testing.T) {
	c := NewMockClient(0)
	msgs := []Message{{Role: RoleUser, Content: "capital of France?"}}

	out, err := c.Complete(context.Background(), msgs, Options{
		SystemPrompt: "You are a query planner.", JSONMode: true,
	})
	require.NoError(t, err)

	var plan struct {
		QueryType  string `json:"query_type"`
		SubQueries []any  `json:"sub_queries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, "simple", plan.QueryType)
	assert.Len(t, plan.SubQueries, 1)
}

func TestMockStreamHonorsCancellation(t *testing.T) {
	c := NewMockClient(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := c.Stream(ctx, []Message{{Role: RoleUser, Content: "tell me a long story"}}, Options{})
	require.NoError(t, err)

	cancel()
	var n int
	for range ch {
		n++
	}
	// At most one token can slip through between cancel and select.
	assert.LessOrEqual(t, n, 1)
}

// --- Azure provider ---

func azureStreamBody(tokens ...string) string {
	var sb strings.Builder
	for _, tok := range tokens {
		frame, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": tok}}},
		})
		sb.WriteString("data: ")
		sb.Write(frame)
		sb.WriteString("\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return sb.String()
}

func newAzureTestClient(t *testing.T, handler http.HandlerFunc) (*AzureClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewAzureClient(AzureConfig{
		Endpoint: srv.URL, APIKey: "test-key", Deployment: "gpt-test",
	})
	require.NoError(t, err)
	return c, srv
}

func TestAzureStreamAdaptsChunks(t *testing.T) {
	c, _ := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		var req azureRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		_, _ = w.Write([]byte(azureStreamBody("Hel", "lo", " world")))
	})

	ch, err := c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)
	got, errChunk := collect(t, ch)
	require.Nil(t, errChunk)
	assert.Equal(t, "Hello world", got)
}

func TestAzureCompleteJSONMode(t *testing.T) {
	c, _ := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req azureRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		resp, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": `{"ok":true}`}}},
		})
		_, _ = w.Write(resp)
	})

	out, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{JSONMode: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)
}

func TestAzureRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	c, _ := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		resp, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
		_, _ = w.Write(resp)
	})

	out, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAzureNonRetryableFailsFast(t *testing.T) {
	var calls atomic.Int32
	c, _ := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

// --- Ollama provider ---

func TestOllamaStreamNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		lines := []string{
			`{"message":{"content":"Hi"},"done":false}`,
			`{"message":{"content":" there"},"done":false}`,
			`{"message":{"content":""},"done":true}`,
		}
		_, _ = w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	}))
	t.Cleanup(srv.Close)

	c, err := NewOllamaClient(OllamaConfig{URL: srv.URL, Model: "llama3.1:8b"})
	require.NoError(t, err)

	ch, err := c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)
	got, errChunk := collect(t, ch)
	require.Nil(t, errChunk)
	assert.Equal(t, "Hi there", got)
}

func TestErrorChunkErrCarriesSentinel(t *testing.T) {
	assert.True(t, IsTimeout((&ErrorChunk{Code: "TIMEOUT", Message: "context deadline exceeded"}).Err()))
	assert.True(t, IsUpstream((&ErrorChunk{Code: "OLLAMA_ERROR", Message: "model not found"}).Err()))
	assert.True(t, IsUpstream((&ErrorChunk{Message: "broken pipe"}).Err()))
}

func TestAzureInBodyErrorIsUpstream(t *testing.T) {
	c, _ := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp, _ := json.Marshal(map[string]any{
			"error": map[string]string{"code": "content_filter", "message": "blocked"},
		})
		_, _ = w.Write(resp)
	})

	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
}

func TestOllamaStatusErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, err := NewOllamaClient(OllamaConfig{URL: srv.URL, Model: "llama3.1:8b"})
	require.NoError(t, err)

	_, err = c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.True(t, IsUpstream(err))

	_, err = c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
}

func TestOllamaStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model not found"}` + "\n"))
	}))
	t.Cleanup(srv.Close)

	c, err := NewOllamaClient(OllamaConfig{URL: srv.URL, Model: "missing"})
	require.NoError(t, err)

	ch, err := c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)
	_, errChunk := collect(t, ch)
	require.NotNil(t, errChunk)
	assert.Equal(t, "model not found", errChunk.Message)
}

// --- Factory ---

func TestFactorySelection(t *testing.T) {
	t.Run("mock mode wins over provider", func(t *testing.T) {
		c, err := New(Config{Provider: ProviderAzure, MockMode: true})
		require.NoError(t, err)
		_, ok := c.(*MockClient)
		assert.True(t, ok)
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		_, err := New(Config{Provider: "gemini"})
		assert.Error(t, err)
	})

	t.Run("azure requires credentials", func(t *testing.T) {
		_, err := New(Config{Provider: ProviderAzure})
		assert.Error(t, err)
	})
}
