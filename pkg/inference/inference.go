// Package inference provides chat completions and text embeddings against
// OpenAI-compatible APIs, plus a Gemini embedder behind the same interface.
//
// The bridge uses Chat for intent classification of short transcripts and
// Embed for retrieval (question embedding and scope detection).
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    inference.WithModel("gpt-4o-mini"),
//	)
//	defer client.Close()
//
//	resp, _ := client.Chat(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{inference.NewUserMessage("Hello!")},
//	})
//
//	vecs, _ := client.Embed(ctx, &inference.EmbedRequest{Input: []string{"hola"}})
package inference

import "context"

// Chatter generates chat completions.
type Chatter interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)
}

// Provider is the full inference interface.
type Provider interface {
	Chatter
	Embedder

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0). Zero uses the default.
	Temperature float64

	// Stop sequences that halt generation.
	Stop []string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
	Model        string
	LatencyMs    int64
}

// EmbedRequest for text embeddings.
type EmbedRequest struct {
	// Input texts to embed.
	Input []string

	// Model overrides the default embedding model.
	Model string
}

// EmbedResponse with vector embeddings, one per input.
type EmbedResponse struct {
	Embeddings [][]float64
	Usage      Usage
	LatencyMs  int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// EmbedOne embeds a single text and returns its vector.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float64, error) {
	resp, err := e.Embed(ctx, &EmbedRequest{Input: []string{text}})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Embeddings[0], nil
}
