package llm_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-ai/amica/pkg/llm"
)

func TestLastUserContent(t *testing.T) {
	messages := []llm.Message{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	assert.Equal(t, "second", llm.LastUserContent(messages))

	assert.Equal(t, "", llm.LastUserContent(nil))
	assert.Equal(t, "", llm.LastUserContent([]llm.Message{{Role: "assistant", Content: "hi"}}))
}

func TestStripCodeBlocks(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, llm.StripCodeBlocks("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, llm.StripCodeBlocks("```\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, llm.StripCodeBlocks(`{"a": 1}`))
	assert.Equal(t, "", llm.StripCodeBlocks("```json\n```"))
}

func TestApplyGenerateOptions(t *testing.T) {
	opts := llm.ApplyGenerateOptions(nil)
	assert.Equal(t, 0.7, opts.Temperature)
	assert.Equal(t, 1000, opts.MaxTokens)
	assert.Equal(t, 1.0, opts.TopP)
	assert.False(t, opts.JSONResponse)

	opts = llm.ApplyGenerateOptions([]llm.GenerateOption{
		llm.WithModel("gpt-4o-mini"),
		llm.WithTemperature(0.2),
		llm.WithMaxTokens(256),
		llm.WithJSONResponse(),
	})
	assert.Equal(t, "gpt-4o-mini", opts.Model)
	assert.Equal(t, 0.2, opts.Temperature)
	assert.Equal(t, 256, opts.MaxTokens)
	assert.True(t, opts.JSONResponse)
}

// sliceStream replays fixed deltas.
type sliceStream struct {
	deltas []string
	pos    int
	err    error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if s.pos >= len(s.deltas) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func TestDrain(t *testing.T) {
	s := &sliceStream{deltas: []string{"Hello", ", ", "world"}}
	full, err := llm.Drain(s)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", full)
	assert.True(t, s.closed)
}

func TestDrain_ReturnsPartialOnError(t *testing.T) {
	s := &sliceStream{deltas: []string{"partial"}, err: assert.AnError}
	full, err := llm.Drain(s)
	assert.Error(t, err)
	assert.Equal(t, "partial", full)
}
