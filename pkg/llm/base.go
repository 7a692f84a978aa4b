// Package llm provides interfaces and utilities for the completion gateway.
//
// It defines the Provider interface that all model implementations must
// satisfy, along with message types, streaming, and generation options.
package llm

import (
	"context"
	"io"
	"strings"
)

// Provider defines the interface for completion providers.
//
// One provider instance serves both the user-facing streamed completion and
// the background extraction calls (with a different model per call site).
type Provider interface {
	// GenerateWithMessages generates text from a conversation history.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - messages: Conversation history (system, user, assistant messages)
	//   - opts: Optional generation parameters
	//
	// Returns the generated text and any error.
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	// StreamWithMessages opens a streamed completion for a conversation.
	//
	// The returned Stream yields content deltas as they arrive; Recv returns
	// io.EOF once the upstream signals end-of-stream. Callers must Close the
	// stream.
	StreamWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (Stream, error)

	// Close closes the provider and releases resources.
	Close() error
}

// Stream is an in-flight streamed completion.
type Stream interface {
	// Recv returns the next content delta. It returns io.EOF at the end of
	// the stream and any transport error otherwise. Empty deltas (role-only
	// or keep-alive chunks) are skipped internally.
	Recv() (string, error)

	// Close releases the underlying connection.
	Close() error
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the message role: "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message content text.
	Content string `json:"content"`
}

// LastUserContent returns the content of the most recent user message,
// or "" when the conversation holds none.
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// Drain consumes a stream to completion, returning the accumulated text.
//
// It is used by callers that need the full completion but not the
// incremental deltas (extraction jobs reuse the streaming provider).
func Drain(s Stream) (string, error) {
	defer func() { _ = s.Close() }()

	var full []byte
	for {
		delta, err := s.Recv()
		if err == io.EOF {
			return string(full), nil
		}
		if err != nil {
			return string(full), err
		}
		full = append(full, delta...)
	}
}

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	// Model overrides the provider's default model for this call.
	Model string

	// Temperature controls randomness (0.0-2.0). Higher = more random.
	Temperature float64

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// TopP controls nucleus sampling (0.0-1.0). Higher = more diverse.
	TopP float64

	// JSONResponse requests a JSON-object response format where supported.
	JSONResponse bool
}

// GenerateOption is a function type for configuring generation options.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the model for a single call.
//
// Extraction jobs use this to run on a cheaper model than the user-facing
// completion.
func WithModel(model string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Model = model
	}
}

// WithTemperature sets the temperature for text generation.
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens in the response.
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithJSONResponse requests a JSON object response.
func WithJSONResponse() GenerateOption {
	return func(opts *GenerateOptions) {
		opts.JSONResponse = true
	}
}

// ApplyGenerateOptions applies a slice of GenerateOption functions to create
// GenerateOptions.
//
// This is a helper function used internally by provider implementations.
// Default values: Temperature=0.7, MaxTokens=1000, TopP=1.0.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// StripCodeBlocks removes ```json fences some models wrap around JSON
// output, despite being asked for bare JSON.
func StripCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
