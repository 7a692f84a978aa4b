package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-ai/amica/pkg/embedder/openai"
)

// newEmbeddingBackend serves a fixed 4-dimension embedding and captures the
// decoded request body.
func newEmbeddingBackend(t *testing.T, captured *map[string]interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*captured = body

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2, 0.3, 0.4]}],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 1, "total_tokens": 1}
		}`))
	}))
}

func TestClient_EmbedSendsConfiguredDimensions(t *testing.T) {
	var captured map[string]interface{}
	backend := newEmbeddingBackend(t, &captured)
	defer backend.Close()

	client, err := openai.NewClient(&openai.Config{
		APIKey:     "test-key",
		BaseURL:    backend.URL,
		Dimensions: 4,
	})
	require.NoError(t, err)

	embedding, err := client.Embed(context.Background(), "box breathing")
	require.NoError(t, err)
	assert.Len(t, embedding, 4)
	assert.Equal(t, 4, client.Dimensions())

	// The configured size went out on the wire.
	assert.Equal(t, float64(4), captured["dimensions"])
}

func TestClient_EmbedOmitsDimensionsWhenUnset(t *testing.T) {
	var captured map[string]interface{}
	backend := newEmbeddingBackend(t, &captured)
	defer backend.Close()

	client, err := openai.NewClient(&openai.Config{
		APIKey:  "test-key",
		BaseURL: backend.URL,
	})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "box breathing")
	require.NoError(t, err)
	assert.Equal(t, 1536, client.Dimensions())

	// Models on their native size never see the parameter.
	_, ok := captured["dimensions"]
	assert.False(t, ok)
}
