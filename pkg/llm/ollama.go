package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OllamaClient implements Client against a local Ollama server.
// The wire format is newline-delimited JSON objects, each carrying an
// incremental piece of the assistant message.
type OllamaClient struct {
	cfg OllamaConfig
	// No hard Timeout on the client so long streams are not killed;
	// cancellation comes from the caller's context.
	httpClient *http.Client
}

// NewOllamaClient validates cfg and builds the client.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	return &OllamaClient{cfg: cfg, httpClient: &http.Client{}}, nil
}

// --- Wire types ---

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"` // "json" constrains output
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type ollamaFrame struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func (c *OllamaClient) buildRequest(messages []Message, opts Options, stream bool) ollamaRequest {
	req := ollamaRequest{
		Model:    c.cfg.Model,
		Messages: withSystemPrompt(messages, opts),
		Stream:   stream,
	}
	if opts.JSONMode && !stream {
		req.Format = "json"
	}
	if opts.MaxTokens > 0 || opts.Temperature != nil {
		req.Options = &ollamaOptions{NumPredict: opts.MaxTokens, Temperature: opts.Temperature}
	}
	return req
}

func (c *OllamaClient) chatURL() string {
	return strings.TrimSuffix(c.cfg.URL, "/") + "/api/chat"
}

// Stream opens a streaming /api/chat request.
func (c *OllamaClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, error) {
	body, err := json.Marshal(c.buildRequest(messages, opts, true))
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	streamCtx := ctx
	var cancel context.CancelFunc
	if t := callTimeout(opts, DefaultStreamTimeout); t > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, t)
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.chatURL(), bytes.NewReader(body))
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, upstreamError("ollama", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("ollama: %w: status %d", ErrUpstream, resp.StatusCode)
	}

	ch := make(chan Chunk, 16)
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
			if line == "" {
				continue
			}

			var frame ollamaFrame
			if err := json.Unmarshal([]byte(line), &frame); err != nil {
				continue // skip malformed line, keep reading
			}
			if frame.Error != "" {
				deliver(streamCtx, ch, &ErrorChunk{Message: frame.Error, Code: "OLLAMA_ERROR"})
				return
			}
			if content := frame.Message.Content; content != "" {
				if !deliver(streamCtx, ch, &TextChunk{Content: content}) {
					return
				}
			}
			if frame.Done {
				return
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
func (c *OllamaClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	body, err := json.Marshal(c.buildRequest(messages, opts, false))
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout(opts, OllamaCompleteTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.chatURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", upstreamError("ollama", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: %w: status %d", ErrUpstream, resp.StatusCode)
	}

	var frame ollamaFrame
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if frame.Error != "" {
		return "", fmt.Errorf("ollama: %w: %s", ErrUpstream, frame.Error)
	}
	return frame.Message.Content, nil
}

// Close implements Client.
func (c *OllamaClient) Close() error { return nil }
