// Package openai implements the llm.Provider interface on the OpenAI chat
// completions API, including the streamed path used by the turn endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/llm"
)

// Client is an OpenAI LLM client.
// It implements the llm.Provider interface for both blocking and streamed
// chat completions.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for the OpenAI client.
// APIKey: API key (required)
// Model: default model name
// BaseURL: API base URL, defaults to the official address
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new OpenAI LLM client.
//
// Args:
//   - cfg: configuration containing APIKey, Model, and BaseURL
//
// Returns:
//   - *Client: client instance
//   - error: returns an error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, core.WrapError("NewClient", core.ErrInvalidConfig)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}, nil
}

// GenerateWithMessages generates text using message history.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - messages: Message history list, each message contains role and content
//   - opts: Optional generation parameters (model, temperature, max_tokens)
//
// Returns:
//   - string: Generated text content
//   - error: A taxonomy-mapped error if generation fails
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(messages, opts))
	if err != nil {
		return "", mapUpstreamError(err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("llm generation failed: no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// StreamWithMessages opens a streamed chat completion.
//
// Content deltas are yielded one chunk at a time; the underlying SDK buffers
// partial SSE lines across chunk boundaries and flushes the remainder at
// stream end, so Recv only ever sees whole events.
func (c *Client) StreamWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (llm.Stream, error) {
	req := c.buildRequest(messages, opts)
	req.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, mapUpstreamError(err)
	}

	return &chatStream{stream: stream}, nil
}

// Close closes the client connection.
// The SDK client does not require explicit closing; this method is retained
// for interface compatibility.
func (c *Client) Close() error {
	return nil
}

// buildRequest converts messages and options into a chat completion request.
func (c *Client) buildRequest(messages []llm.Message, opts []llm.GenerateOption) openai.ChatCompletionRequest {
	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	model := c.model
	if options.Model != "" {
		model = options.Model
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
	}
	if options.JSONResponse {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// chatStream adapts the SDK stream to the llm.Stream interface.
type chatStream struct {
	stream *openai.ChatCompletionStream
}

// Recv returns the next non-empty content delta, io.EOF at end of stream.
func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", mapUpstreamError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		return delta, nil
	}
}

// Close releases the underlying connection.
func (s *chatStream) Close() error {
	return s.stream.Close()
}

// mapUpstreamError maps SDK errors onto the service error taxonomy.
//
// 429 → rate limited; 402/500/502/503 → upstream unavailable; everything
// else is passed through unchanged for the internal bucket.
func mapUpstreamError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", core.ErrRateLimited, err)
		case http.StatusPaymentRequired,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
		}
	}
	return err
}
