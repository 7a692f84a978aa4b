package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			APIKey: "test-key",
			Model:  "gpt-4o",
		},
		Store: StoreConfig{
			Provider: "sqlite",
			Config: map[string]interface{}{
				"db_path":              "./amica.db",
				"embedding_model_dims": 1536,
			},
		},
		Pipeline: PipelineConfig{DedupThreshold: 0.85},
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.LLM.APIKey = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.Store.Provider = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.Pipeline.DedupThreshold = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.Pipeline.DedupThreshold = 1.2
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLLMConfig_ExtractionModelOrDefault(t *testing.T) {
	cfg := LLMConfig{Model: "gpt-4o"}
	assert.Equal(t, "gpt-4o", cfg.ExtractionModelOrDefault())

	cfg.ExtractionModel = "gpt-4o-mini"
	assert.Equal(t, "gpt-4o-mini", cfg.ExtractionModelOrDefault())
}

func TestParseTokenPairs(t *testing.T) {
	assert.Empty(t, parseTokenPairs(""))

	got := parseTokenPairs("tok1:user1, tok2:user2")
	assert.Equal(t, map[string]string{"tok1": "user1", "tok2": "user2"}, got)

	// Malformed pairs are skipped, valid ones kept.
	got = parseTokenPairs("tok1:user1,broken,:user3,tok4:")
	assert.Equal(t, map[string]string{"tok1": "user1"}, got)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"llm": {"api_key": "k", "model": "gpt-4o", "extraction_model": "gpt-4o-mini"},
		"store": {"provider": "sqlite", "config": {"db_path": "./test.db", "embedding_model_dims": 1536}},
		"server": {"addr": ":9090", "tokens": {"tok": "user-1"}},
		"pipeline": {"workers": 2, "dedup_threshold": 0.85},
		"persona": {"default_timezone": "Europe/Rome"}
	}`), 0644))

	cfg, err := LoadConfigFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "sqlite", cfg.Store.Provider)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "user-1", cfg.Server.Tokens["tok"])
	assert.Equal(t, 0.85, cfg.Pipeline.DedupThreshold)
	assert.Equal(t, "Europe/Rome", cfg.Persona.DefaultTimezone)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromJSON_MissingFile(t *testing.T) {
	_, err := LoadConfigFromJSON("/nonexistent/config.json")
	assert.Error(t, err)
}
