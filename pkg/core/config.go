package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for the amica service.
//
// It includes settings for:
//   - LLM provider (completion gateway and extraction model)
//   - Embedding provider (knowledge deduplication)
//   - Store backend (sqlite or postgres)
//   - HTTP server and bearer credentials
//   - Background pipeline and dedup batch tuning
//   - Persona library (static identities and metaphors)
//
// Example:
//
//	cfg, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// LLM contains completion/extraction model configuration.
	LLM LLMConfig `json:"llm"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Store contains store backend configuration.
	Store StoreConfig `json:"store"`

	// Server contains HTTP server configuration.
	Server ServerConfig `json:"server"`

	// Pipeline contains background pipeline and dedup batch configuration.
	Pipeline PipelineConfig `json:"pipeline"`

	// Persona contains the persona library configuration.
	Persona PersonaConfig `json:"persona"`
}

// LLMConfig contains configuration for the completion gateway.
type LLMConfig struct {
	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the chat model used for user-facing completions.
	Model string `json:"model"`

	// ExtractionModel is the cheaper model used by background extraction
	// jobs. Falls back to Model when empty.
	ExtractionModel string `json:"extraction_model,omitempty"`

	// BaseURL is the base URL for the API (optional, provider default if empty).
	BaseURL string `json:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
type EmbedderConfig struct {
	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors.
	Dimensions int `json:"dimensions,omitempty"`
}

// StoreConfig contains configuration for the store backend.
//
// Supported providers: sqlite, postgres.
type StoreConfig struct {
	// Provider is the backend name ("sqlite" or "postgres").
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For sqlite: db_path, embedding_model_dims
	// For postgres: host, port, user, password, db_name, ssl_mode,
	// embedding_model_dims
	Config map[string]interface{} `json:"config"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `json:"addr"`

	// Tokens maps bearer tokens onto stable user identifiers.
	Tokens map[string]string `json:"tokens,omitempty"`
}

// PipelineConfig contains background pipeline tuning.
type PipelineConfig struct {
	// Workers is the number of background task workers.
	Workers int `json:"workers"`

	// QueueSize is the task queue buffer size.
	QueueSize int `json:"queue_size"`

	// DedupThreshold is the cosine similarity above which a pending fact is
	// merged into existing knowledge instead of promoted.
	DedupThreshold float64 `json:"dedup_threshold"`

	// DedupBatchSize is the maximum number of pending rows per batch run.
	DedupBatchSize int `json:"dedup_batch_size"`

	// DedupItemDelay is the pause between processed items, respecting
	// embedding rate limits.
	DedupItemDelay time.Duration `json:"dedup_item_delay"`

	// ClaimLease is how long a claimed pending row stays owned before it
	// becomes reclaimable by another batch run.
	ClaimLease time.Duration `json:"claim_lease"`

	// GoalReward is the one-time token reward for a completed goal.
	GoalReward int64 `json:"goal_reward"`
}

// PersonaConfig contains the persona library configuration.
type PersonaConfig struct {
	// Path is an optional JSON file holding companion identities and
	// metaphor libraries. Built-in defaults are used when empty.
	Path string `json:"path,omitempty"`

	// DefaultTimezone is applied when a turn carries no user timezone.
	DefaultTimezone string `json:"default_timezone"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres)
//   - SQLITE_PATH, SQLITE_EMBEDDING_MODEL_DIMS
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - LLM_API_KEY, LLM_MODEL, LLM_EXTRACTION_MODEL, LLM_BASE_URL
//   - EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL
//   - SERVER_ADDR, AUTH_TOKENS ("token1:user1,token2:user2")
//   - PIPELINE_WORKERS, DEDUP_THRESHOLD, DEDUP_BATCH_SIZE
//   - PERSONA_PATH, DEFAULT_TIMEZONE
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	storeConfig := make(map[string]interface{})
	switch provider {
	case "sqlite":
		dims, _ := strconv.Atoi(getEnvOrDefault("SQLITE_EMBEDDING_MODEL_DIMS", "1536"))
		storeConfig = map[string]interface{}{
			"db_path":              getEnvOrDefault("SQLITE_PATH", "./amica.db"),
			"embedding_model_dims": dims,
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		dims, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_EMBEDDING_MODEL_DIMS", "1536"))
		storeConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 port,
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "amica"),
			"embedding_model_dims": dims,
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	}

	workers, _ := strconv.Atoi(getEnvOrDefault("PIPELINE_WORKERS", "4"))
	queueSize, _ := strconv.Atoi(getEnvOrDefault("PIPELINE_QUEUE_SIZE", "256"))
	threshold, _ := strconv.ParseFloat(getEnvOrDefault("DEDUP_THRESHOLD", "0.85"), 64)
	batchSize, _ := strconv.Atoi(getEnvOrDefault("DEDUP_BATCH_SIZE", "100"))
	itemDelayMs, _ := strconv.Atoi(getEnvOrDefault("DEDUP_ITEM_DELAY_MS", "200"))
	leaseMin, _ := strconv.Atoi(getEnvOrDefault("DEDUP_CLAIM_LEASE_MINUTES", "10"))
	reward, _ := strconv.ParseInt(getEnvOrDefault("GOAL_REWARD_TOKENS", "50"), 10, 64)

	config := &Config{
		LLM: LLMConfig{
			APIKey:          os.Getenv("LLM_API_KEY"),
			Model:           getEnvOrDefault("LLM_MODEL", "gpt-4o"),
			ExtractionModel: getEnvOrDefault("LLM_EXTRACTION_MODEL", "gpt-4o-mini"),
			BaseURL:         os.Getenv("LLM_BASE_URL"),
		},
		Embedder: EmbedderConfig{
			APIKey:     getEnvOrDefault("EMBEDDING_API_KEY", os.Getenv("LLM_API_KEY")),
			Model:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: storeDims(storeConfig),
		},
		Store: StoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
		Server: ServerConfig{
			Addr:   getEnvOrDefault("SERVER_ADDR", ":8080"),
			Tokens: parseTokenPairs(os.Getenv("AUTH_TOKENS")),
		},
		Pipeline: PipelineConfig{
			Workers:        workers,
			QueueSize:      queueSize,
			DedupThreshold: threshold,
			DedupBatchSize: batchSize,
			DedupItemDelay: time.Duration(itemDelayMs) * time.Millisecond,
			ClaimLease:     time.Duration(leaseMin) * time.Minute,
			GoalReward:     reward,
		},
		Persona: PersonaConfig{
			Path:            os.Getenv("PERSONA_PATH"),
			DefaultTimezone: getEnvOrDefault("DEFAULT_TIMEZONE", "Europe/Rome"),
		},
	}

	return config, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, WrapError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that all required fields are set:
//   - LLM API key and model must be specified
//   - Store provider must be specified
//   - Dedup threshold must stay within (0, 1]
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" || c.LLM.Model == "" {
		return WrapError("Validate", fmt.Errorf("%w: llm api key and model are required", ErrInvalidConfig))
	}
	if c.Store.Provider == "" {
		return WrapError("Validate", fmt.Errorf("%w: store provider is required", ErrInvalidConfig))
	}
	if c.Pipeline.DedupThreshold <= 0 || c.Pipeline.DedupThreshold > 1 {
		return WrapError("Validate", fmt.Errorf("%w: dedup threshold must be in (0, 1]", ErrInvalidConfig))
	}
	return nil
}

// ExtractionModelOrDefault returns the extraction model, falling back to the
// chat model when none is configured.
func (c *LLMConfig) ExtractionModelOrDefault() string {
	if c.ExtractionModel != "" {
		return c.ExtractionModel
	}
	return c.Model
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// storeDims reads embedding_model_dims out of the store config map.
func storeDims(cfg map[string]interface{}) int {
	if d, ok := cfg["embedding_model_dims"].(int); ok {
		return d
	}
	return 1536
}

// parseTokenPairs parses "token:user" comma-separated pairs.
func parseTokenPairs(raw string) map[string]string {
	tokens := make(map[string]string)
	if raw == "" {
		return tokens
	}
	for _, pair := range strings.Split(raw, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && token != "" && user != "" {
			tokens[token] = user
		}
	}
	return tokens
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
