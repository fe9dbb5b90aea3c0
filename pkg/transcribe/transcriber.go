// Package transcribe turns finalized utterances into text and decides whether
// the text is a genuine user turn or noise to be dropped.
package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-voicebridge/internal/httpc"
	"github.com/teslashibe/go-voicebridge/pkg/audio"
)

var (
	// ErrMissingURL indicates the HTTP transcriber has no endpoint.
	ErrMissingURL = errors.New("transcribe: endpoint URL is required")

	// ErrMissingAPIKey indicates the OpenAI transcriber has no key.
	ErrMissingAPIKey = errors.New("transcribe: API key is required")

	// ErrRequestFailed indicates a non-2xx transcription response.
	ErrRequestFailed = errors.New("transcribe: request failed")
)

// Transcriber converts mono PCM16 audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// HTTPTranscriber posts base64 PCM16 to a JSON endpoint that answers {text}.
type HTTPTranscriber struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPTranscriber creates a transcriber for url. token may be empty.
func NewHTTPTranscriber(url, token string, logger *slog.Logger) (*HTTPTranscriber, error) {
	if url == "" {
		return nil, ErrMissingURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTranscriber{
		url:    url,
		token:  token,
		client: httpc.Client,
		logger: logger.With("component", "transcribe.http"),
	}, nil
}

type httpTranscribeRequest struct {
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
}

type httpTranscribeResponse struct {
	Text string `json:"text"`
}

// Transcribe implements Transcriber.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	body, err := sonic.Marshal(httpTranscribeRequest{
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
		Format:     audio.FormatPCM16,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: encode: %w", err)
	}

	req, err := httpc.NewRequest(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("transcribe: build request: %w", err)
	}
	httpc.SetBearer(req, t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrRequestFailed, resp.StatusCode, httpc.ReadErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcribe: read response: %w", err)
	}
	var out httpTranscribeResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("transcribe: decode response: %w", err)
	}

	t.logger.Debug("transcribed", "bytes", len(pcm), "chars", len(out.Text))
	return strings.TrimSpace(out.Text), nil
}

// OpenAITranscriber sends a WAV container to the Whisper API.
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
	logger   *slog.Logger
}

// NewOpenAITranscriber creates a Whisper transcriber. baseURL and model may
// be empty for the defaults.
func NewOpenAITranscriber(apiKey, baseURL, model, language string, logger *slog.Logger) (*OpenAITranscriber, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if model == "" {
		model = openai.Whisper1
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = httpc.Client

	return &OpenAITranscriber{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		language: language,
		logger:   logger.With("component", "transcribe.openai"),
	}, nil
}

// Transcribe implements Transcriber.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(audio.WAV(pcm, sampleRate)),
		Language: t.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: whisper: %w", err)
	}
	t.logger.Debug("transcribed", "bytes", len(pcm), "chars", len(resp.Text))
	return strings.TrimSpace(resp.Text), nil
}

var (
	_ Transcriber = (*HTTPTranscriber)(nil)
	_ Transcriber = (*OpenAITranscriber)(nil)
)
