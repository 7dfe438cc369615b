package aiclient

import "context"

// Client defines the model invocation surface consumed by the pipeline.
type Client interface {
	CreateMessage(ctx context.Context, req Request) (*Response, error)
}

// Request describes one model call.
type Request struct {
	Model          string
	Messages       []Message
	Temperature    *float64
	MaxTokens      int64
	ResponseFormat string // "" or "json"

	// Per-call overrides; zero values fall back to the client defaults.
	TimeoutMs    int
	MaxRetries   int
	RetryDelayMs int
}

// Message is a single conversational message. An optional Attachment
// carries binary document/image content for vision-capable models.
type Message struct {
	Role       string // "user" or "assistant"
	Content    string
	Attachment *Attachment
}

// Attachment is inline binary content sent alongside a message.
type Attachment struct {
	MediaType string // e.g. "application/pdf", "image/png"
	Data      []byte
}

// Response is the stable result shape consumed by the orchestrator.
type Response struct {
	Content    string
	TokensUsed int
	Model      string
	WasRetried bool
	Usage      TokenUsage
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Transport performs a single model call attempt. Implementations return
// *StatusError for non-success HTTP responses; any other error is treated
// as a network-level failure.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}
