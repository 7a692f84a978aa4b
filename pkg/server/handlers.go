package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/llm"
)

// extractRequest is the body of POST /v1/memory/extract.
type extractRequest struct {
	Messages    []llm.Message `json:"messages"`
	CompanionID string        `json:"companionId"`
}

// handleExtract runs insight and knowledge extraction synchronously and
// reports how much was learned.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.WrapError("extract", fmt.Errorf("%w: %v", core.ErrValidation, err)))
		return
	}
	if len(req.Messages) == 0 || req.CompanionID == "" {
		s.writeError(w, core.WrapError("extract", fmt.Errorf("%w: messages and companionId are required", core.ErrValidation)))
		return
	}

	userID := requestUserID(r)

	insights, err := s.extractor.ExtractInsights(r.Context(), userID, req.CompanionID, req.Messages)
	if err != nil {
		s.writeError(w, err)
		return
	}
	enqueued, err := s.extractor.ExtractGlobalKnowledge(r.Context(), req.Messages)
	if err != nil {
		s.logger.Warn("knowledge extraction failed", zap.Error(err))
	}

	s.writeJSON(w, map[string]interface{}{
		"success":        true,
		"extractedCount": insights + enqueued,
	})
}

// analyzeRequest is the body of POST /v1/session/analyze.
type analyzeRequest struct {
	Messages               []llm.Message `json:"messages"`
	CompanionID            string        `json:"companionId"`
	SessionDurationSeconds int           `json:"sessionDurationSeconds,omitempty"`
}

// handleAnalyze runs post-session analysis and returns the structured
// result.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.WrapError("analyze", fmt.Errorf("%w: %v", core.ErrValidation, err)))
		return
	}
	if len(req.Messages) == 0 || req.CompanionID == "" {
		s.writeError(w, core.WrapError("analyze", fmt.Errorf("%w: messages and companionId are required", core.ErrValidation)))
		return
	}

	analysis, err := s.analyzer.Analyze(r.Context(), requestUserID(r), req.CompanionID,
		req.Messages, req.SessionDurationSeconds)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"mood":       analysis.Mood,
		"intensity":  analysis.Intensity,
		"topics":     analysis.Topics,
		"keyInsight": analysis.KeyInsight,
		"entityCounts": map[string]int{
			"people":      len(analysis.Entities.People),
			"events":      len(analysis.Entities.Events),
			"preferences": len(analysis.Entities.Preferences),
		},
	})
}

// callSummaryRequest is the body of POST /v1/call/summary.
type callSummaryRequest struct {
	CompanionID       string   `json:"companionId"`
	CompanionName     string   `json:"companionName"`
	Transcripts       []string `json:"transcripts"`
	DurationSeconds   int      `json:"durationSeconds"`
	SharedContentRefs []string `json:"sharedContentRefs,omitempty"`
}

// handleCallSummary summarizes a finished voice call.
func (s *Server) handleCallSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req callSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.WrapError("call summary", fmt.Errorf("%w: %v", core.ErrValidation, err)))
		return
	}
	if len(req.Transcripts) == 0 || req.CompanionID == "" {
		s.writeError(w, core.WrapError("call summary", fmt.Errorf("%w: transcripts and companionId are required", core.ErrValidation)))
		return
	}

	summary, err := s.summarizer.Summarize(r.Context(), requestUserID(r), req.CompanionID,
		req.CompanionName, req.Transcripts, req.DurationSeconds)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, summary)
}

// handleDedup runs one knowledge dedup and promotion batch.
func (s *Server) handleDedup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := s.deduper.Run(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, result)
}
