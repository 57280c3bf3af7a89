package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	azureStreamPrefix = "data: "
	azureDoneMarker   = "[DONE]"

	// azureMaxAttempts bounds the retry loop on retryable upstream codes
	// (429 and 5xx). Non-retryable failures surface immediately.
	azureMaxAttempts = 3
	azureRetryDelay  = 500 * time.Millisecond
)

// AzureClient implements Client against an Azure OpenAI chat-completions
// deployment. The provider pushes incremental chunks over an SSE body;
// the client adapts them to the unified Chunk shape.
type AzureClient struct {
	cfg AzureConfig
	// httpClient carries a hard timeout for completion calls.
	httpClient *http.Client
	// streamClient has no Timeout so streaming responses are not killed
	// mid-stream; cancellation is handled by the caller's context.
	streamClient *http.Client
}

// NewAzureClient validates cfg and builds the client.
func NewAzureClient(cfg AzureConfig) (*AzureClient, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.Deployment == "" {
		return nil, fmt.Errorf("azure: endpoint, api key and deployment are required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-06-01"
	}
	return &AzureClient{
		cfg:          cfg,
		httpClient:   &http.Client{},
		streamClient: &http.Client{},
	}, nil
}

func (c *AzureClient) url() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(c.cfg.Endpoint, "/"), c.cfg.Deployment, c.cfg.APIVersion)
}

// --- Wire types ---

type azureRequest struct {
	Messages       []Message            `json:"messages"`
	Stream         bool                 `json:"stream"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	Temperature    *float64             `json:"temperature,omitempty"`
	ResponseFormat *azureResponseFormat `json:"response_format,omitempty"`
}

type azureResponseFormat struct {
	Type string `json:"type"`
}

type azureChoice struct {
	Delta        azureDelta   `json:"delta"`
	Message      azureMessage `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

type azureDelta struct {
	Content string `json:"content"`
}

type azureMessage struct {
	Content string `json:"content"`
}

type azureResponse struct {
	Choices []azureChoice `json:"choices"`
	Error   *azureError   `json:"error"`
}

type azureError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stream opens a streaming chat-completions call.
func (c *AzureClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, error) {
	body, err := json.Marshal(azureRequest{
		Messages:    withSystemPrompt(messages, opts),
		Stream:      true,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("azure: marshal request: %w", err)
	}

	streamCtx := ctx
	var cancel context.CancelFunc
	if t := callTimeout(opts, DefaultStreamTimeout); t > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, t)
	}

	resp, err := c.doWithRetry(streamCtx, c.streamClient, body)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, upstreamError("azure", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		if cancel != nil {
			defer cancel()
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, azureStreamPrefix) {
				continue
			}
			payload := strings.TrimPrefix(line, azureStreamPrefix)
			if payload == azureDoneMarker {
				return
			}

			var frame azureResponse
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				continue // skip malformed frame, keep reading
			}
			if frame.Error != nil {
				deliver(streamCtx, ch, &ErrorChunk{Message: frame.Error.Message, Code: frame.Error.Code})
				return
			}
			if len(frame.Choices) == 0 {
				continue
			}
			if content := frame.Choices[0].Delta.Content; content != "" {
				if !deliver(streamCtx, ch, &TextChunk{Content: content}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			code := "STREAM_READ"
			if IsTimeout(err) || streamCtx.Err() == context.DeadlineExceeded {
				code = "TIMEOUT"
			}
			deliver(streamCtx, ch, &ErrorChunk{Message: err.Error(), Code: code})
		}
	}()

	return ch, nil
}

// Complete performs a non-streaming call and returns the full text.
func (c *AzureClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	req := azureRequest{
		Messages:    withSystemPrompt(messages, opts),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.JSONMode {
		req.ResponseFormat = &azureResponseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("azure: marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout(opts, DefaultCompleteTimeout))
	defer cancel()

	resp, err := c.doWithRetry(callCtx, c.httpClient, body)
	if err != nil {
		return "", upstreamError("azure", err)
	}
	defer resp.Body.Close()

	var decoded azureResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("azure: decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("azure: %w: %s: %s", ErrUpstream, decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("azure: no choices in response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// Close implements Client. The HTTP clients hold no persistent resources.
func (c *AzureClient) Close() error { return nil }

// doWithRetry issues the POST, retrying on 429 and 5xx with exponential
// backoff. The response body is open on success; callers must close it.
func (c *AzureClient) doWithRetry(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < azureMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := azureRetryDelay << (attempt - 1)
			slog.Debug("Retrying Azure OpenAI call", "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-key", c.cfg.APIKey)

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))

		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", azureMaxAttempts, lastErr)
}

// deliver sends a chunk unless ctx is already cancelled.
func deliver(ctx context.Context, ch chan<- Chunk, chunk Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
