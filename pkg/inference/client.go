package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-voicebridge/internal/httpc"
)

const backendHTTP = "openai-compatible"

// Client classifies and embeds through an OpenAI-compatible HTTP API.
// Non-200 replies surface as *StatusError; transient ones are retried first.
type Client struct {
	baseURL string
	apiKey  string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new inference client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	cfg.apply(opts...)

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		config:  cfg,
		http:    httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "inference.client"),
	}, nil
}

// Chat generates a chat completion.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	resp, err := c.post(ctx, OpChat, "/chat/completions", c.buildChatPayload(req, model))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result chatCompletionResponse
	if err := decode(resp.Body, &result); err != nil {
		return nil, callErr(backendHTTP, OpChat, fmt.Errorf("decode response: %w", err))
	}
	if len(result.Choices) == 0 {
		return nil, callErr(backendHTTP, OpChat, ErrNoChoices)
	}

	choice := result.Choices[0]
	return &ChatResponse{
		Message:      NewAssistantMessage(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		Model:     result.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Embed generates text embeddings.
func (c *Client) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.config.EmbedModel
	}

	resp, err := c.post(ctx, OpEmbed, "/embeddings", map[string]any{
		"model": model,
		"input": req.Input,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result embeddingResponse
	if err := decode(resp.Body, &result); err != nil {
		return nil, callErr(backendHTTP, OpEmbed, fmt.Errorf("decode response: %w", err))
	}

	embeddings := make([][]float64, len(result.Data))
	for i, d := range result.Data {
		embeddings[i] = d.Embedding
	}

	return &EmbedResponse{
		Embeddings: embeddings,
		Usage: Usage{
			PromptTokens: result.Usage.PromptTokens,
			TotalTokens:  result.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Close releases resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) buildChatPayload(req *ChatRequest, model string) map[string]any {
	messages := make([]map[string]any, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = map[string]any{
			"role":    string(msg.Role),
			"content": msg.Content,
		}
	}

	payload := map[string]any{
		"model":    model,
		"messages": messages,
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}

	temp := req.Temperature
	if temp == 0 {
		temp = c.config.Temperature
	}
	if temp > 0 {
		payload["temperature"] = temp
	}

	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}
	return payload
}

// post sends payload as JSON and retries transient failures.
func (c *Client) post(ctx context.Context, op Op, path string, payload any) (*http.Response, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, callErr(backendHTTP, op, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := httpc.NewRequest(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, callErr(backendHTTP, op, fmt.Errorf("create request: %w", err))
	}
	httpc.SetBearer(req, c.apiKey)

	return c.doWithRetry(ctx, op, req, body)
}

// doWithRetry retries transport errors and transient statuses with a
// linear backoff. Other statuses are returned to the caller as-is.
func (c *Client) doWithRetry(ctx context.Context, op Op, req *http.Request, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = callErr(backendHTTP, op, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			c.logger.Warn("request failed, retrying", "op", op, "attempt", attempt+1, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		statusErr := c.parseError(resp, op)
		if !statusErr.Transient() {
			return nil, statusErr
		}
		lastErr = statusErr
		c.logger.Warn("transient status, retrying", "op", op, "attempt", attempt+1, "status", resp.StatusCode)
	}

	return nil, lastErr
}

// parseError reads an error reply and closes its body.
func (c *Client) parseError(resp *http.Response, op Op) *StatusError {
	defer resp.Body.Close()
	body := httpc.ReadErrorBody(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	out := &StatusError{Op: op, Backend: backendHTTP, StatusCode: resp.StatusCode, Message: body}
	if sonic.UnmarshalString(body, &errResp) == nil && errResp.Error.Message != "" {
		out.Message = errResp.Error.Message
		out.Code = errResp.Error.Code
	}
	return out
}

func decode(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(data, v)
}

// API response types
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Verify Client implements Provider at compile time.
var _ Provider = (*Client)(nil)
