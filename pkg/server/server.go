// Package server exposes the HTTP surface: the streamed turn endpoint and
// the batch-style memory endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/embedder"
	openaiEmbedder "github.com/aurora-ai/amica/pkg/embedder/openai"
	"github.com/aurora-ai/amica/pkg/goals"
	"github.com/aurora-ai/amica/pkg/llm"
	openaiLLM "github.com/aurora-ai/amica/pkg/llm/openai"
	"github.com/aurora-ai/amica/pkg/persona"
	"github.com/aurora-ai/amica/pkg/pipeline"
	"github.com/aurora-ai/amica/pkg/retrieval"
	"github.com/aurora-ai/amica/pkg/safety"
	"github.com/aurora-ai/amica/pkg/storage"
	postgresStore "github.com/aurora-ai/amica/pkg/storage/postgres"
	sqliteStore "github.com/aurora-ai/amica/pkg/storage/sqlite"
)

// contextKey is the type for request context values.
type contextKey string

// userIDKey carries the authenticated user id.
const userIDKey contextKey = "user_id"

// Server wires the store, providers, retrieval sources, and pipeline into
// the HTTP surface.
type Server struct {
	cfg      *core.Config
	store    storage.Store
	provider llm.Provider
	embedder embedder.Provider
	library  *persona.Library
	detector safety.Detector
	verifier Verifier
	node     *snowflake.Node
	logger   *zap.Logger

	recency   *retrieval.RecencyTracker
	knowledge *retrieval.KnowledgeRetriever
	private   *retrieval.PrivateMemory
	social    *retrieval.SocialGraph
	mistakes  *retrieval.Mistakes
	tracker   *goals.Tracker

	queue      *pipeline.Queue
	extractor  *pipeline.Extractor
	analyzer   *pipeline.Analyzer
	summarizer *pipeline.CallSummarizer
	deduper    *pipeline.Deduper

	httpServer *http.Server
}

// New assembles a server from configuration.
//
// Parameters:
//   - cfg: Complete service configuration
//   - logger: Structured logger
//
// Returns:
//   - *Server: The assembled server
//   - error: Error if configuration is invalid or a dependency fails to
//     initialize
func New(cfg *core.Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := initStorage(cfg.Store)
	if err != nil {
		return nil, err
	}

	provider, err := openaiLLM.NewClient(&openaiLLM.Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	emb, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
		APIKey:     cfg.Embedder.APIKey,
		Model:      cfg.Embedder.Model,
		BaseURL:    cfg.Embedder.BaseURL,
		Dimensions: cfg.Embedder.Dimensions,
	})
	if err != nil {
		return nil, err
	}

	library, err := persona.LoadLibrary(cfg.Persona.Path)
	if err != nil {
		return nil, err
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, core.WrapError("NewServer", err)
	}

	extractionModel := cfg.LLM.ExtractionModelOrDefault()
	tracker := goals.NewTracker(store, provider, extractionModel, cfg.Pipeline.GoalReward, node, logger)

	s := &Server{
		cfg:      cfg,
		store:    store,
		provider: provider,
		embedder: emb,
		library:  library,
		detector: safety.NewRuleDetector(),
		verifier: NewStaticVerifier(cfg.Server.Tokens),
		node:     node,
		logger:   logger,

		recency:   retrieval.NewRecencyTracker(store, logger),
		knowledge: retrieval.NewKnowledgeRetriever(store, logger),
		private:   retrieval.NewPrivateMemory(store, logger),
		social:    retrieval.NewSocialGraph(store, logger),
		mistakes:  retrieval.NewMistakes(store, logger),
		tracker:   tracker,

		queue:      pipeline.NewQueue(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger),
		extractor:  pipeline.NewExtractor(store, provider, tracker, extractionModel, node, logger),
		analyzer:   pipeline.NewAnalyzer(store, provider, extractionModel, node, logger),
		summarizer: pipeline.NewCallSummarizer(store, provider, extractionModel, node, logger),
		deduper: pipeline.NewDeduper(store, emb, cfg.Pipeline.DedupThreshold,
			cfg.Pipeline.DedupBatchSize, cfg.Pipeline.DedupItemDelay,
			cfg.Pipeline.ClaimLease, node, logger),
	}
	return s, nil
}

// initStorage initializes the store backend.
func initStorage(cfg core.StoreConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:             stringValue(cfg.Config, "db_path"),
			EmbeddingModelDims: intValue(cfg.Config, "embedding_model_dims"),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:               stringValue(cfg.Config, "host"),
			Port:               intValue(cfg.Config, "port"),
			User:               stringValue(cfg.Config, "user"),
			Password:           stringValue(cfg.Config, "password"),
			Database:           stringValue(cfg.Config, "db_name"),
			SSLMode:            stringValue(cfg.Config, "ssl_mode"),
			EmbeddingModelDims: intValue(cfg.Config, "embedding_model_dims"),
		})
	default:
		return nil, core.WrapError("initStorage", core.ErrInvalidConfig)
	}
}

func stringValue(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func intValue(cfg map[string]interface{}, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Handler builds the route table with auth and logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/turn", s.handleTurn)
	mux.HandleFunc("/v1/memory/extract", s.handleExtract)
	mux.HandleFunc("/v1/session/analyze", s.handleAnalyze)
	mux.HandleFunc("/v1/call/summary", s.handleCallSummary)
	mux.HandleFunc("/v1/knowledge/dedup", s.handleDedup)
	return s.logging(s.authenticate(mux))
}

// authenticate resolves the bearer credential before any work happens.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.verifier.Verify(bearerToken(r))
		if err != nil {
			s.writeError(w, core.WrapError(r.URL.Path, core.ErrUnauthorized))
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logging records every request with its duration.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// requestUserID reads the authenticated user id from the request context.
func requestUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// writeError maps an error to its HTTP status and user-facing body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := core.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": core.UserMessage(err),
	})
}

// writeJSON writes a 200 JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// ListenAndServe runs the HTTP server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.logger.Info("listening", zap.String("addr", s.cfg.Server.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Close drains the background queue and releases resources.
func (s *Server) Close() error {
	s.queue.Close()
	if err := s.provider.Close(); err != nil {
		s.logger.Warn("provider close failed", zap.Error(err))
	}
	if err := s.embedder.Close(); err != nil {
		s.logger.Warn("embedder close failed", zap.Error(err))
	}
	return s.store.Close()
}
