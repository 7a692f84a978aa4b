package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/llm"
	"github.com/aurora-ai/amica/pkg/persona"
	"github.com/aurora-ai/amica/pkg/pipeline"
	"github.com/aurora-ai/amica/pkg/prompt"
	"github.com/aurora-ai/amica/pkg/retrieval"
	"github.com/aurora-ai/amica/pkg/safety"
	"github.com/aurora-ai/amica/pkg/storage"
)

// turnRequest is the body of POST /v1/turn.
type turnRequest struct {
	Messages             []llm.Message `json:"messages"`
	CompanionID          string        `json:"companionId"`
	CompanionName        string        `json:"companionName"`
	CompanionPersonality []string      `json:"companionPersonality"`
	CompanionRole        string        `json:"companionRole"`
	CompanionTagline     string        `json:"companionTagline"`
	CompanionDescription string        `json:"companionDescription"`
	UserTimezone         string        `json:"userTimezone,omitempty"`
}

// handleTurn assembles the per-turn context, streams the completion, and
// detaches the learning pipeline.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.WrapError("turn", fmt.Errorf("%w: %v", core.ErrValidation, err)))
		return
	}
	if len(req.Messages) == 0 || req.CompanionID == "" {
		s.writeError(w, core.WrapError("turn", fmt.Errorf("%w: messages and companionId are required", core.ErrValidation)))
		return
	}

	userID := requestUserID(r)
	latest := llm.LastUserContent(req.Messages)

	// Recency must stay monotonic even when the rest of the turn fails.
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.recency.Update(ctx, userID, req.CompanionID)
	}()

	// Fail closed: a detector error is treated as a crisis.
	crisis, err := s.detector.Detect(latest)
	if err != nil {
		s.logger.Error("crisis detector failed, failing closed", zap.Error(err))
		crisis = &safety.Signal{Pattern: "detector_error", Excerpt: truncate(latest, 200)}
	}
	if crisis != nil {
		if err := s.store.InsertCrisisLog(r.Context(), &storage.CrisisLog{
			ID:          s.node.Generate().Int64(),
			UserID:      userID,
			CompanionID: req.CompanionID,
			Pattern:     crisis.Pattern,
			Excerpt:     crisis.Excerpt,
		}); err != nil {
			s.logger.Error("crisis log write failed", zap.Error(err))
		}
	}

	in := s.assembleContext(r.Context(), userID, &req, latest, crisis)

	composed := prompt.Compose(in)
	s.touchKnowledge(in.Knowledge)
	intent := safety.ClassifyGoalIntent(latest)

	history := make([]llm.Message, 0, len(req.Messages)+1)
	history = append(history, llm.Message{Role: "system", Content: composed})
	history = append(history, req.Messages...)

	// The upstream call outlives a client disconnect: we stop relaying
	// but keep consuming, so the accumulated text still reaches the
	// pipeline.
	upstreamCtx := context.WithoutCancel(r.Context())
	stream, err := s.provider.StreamWithMessages(upstreamCtx, history)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = stream.Close() }()

	sw, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, core.WrapError("turn", err))
		return
	}

	var full strings.Builder
	var streamErr error
	clientGone := false
	for {
		delta, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			s.logger.Warn("completion stream interrupted", zap.Error(recvErr))
			streamErr = recvErr
			break
		}

		full.WriteString(delta)
		if clientGone {
			continue
		}

		select {
		case <-r.Context().Done():
			clientGone = true
		default:
			if werr := sw.sendDelta(delta); werr != nil {
				clientGone = true
			}
		}
	}
	// A truncated completion must not look finished: an interrupted stream
	// ends with an error event instead of the done sentinel.
	if !clientGone {
		if streamErr != nil {
			_ = sw.sendStreamError(core.UserMessage(streamErr))
		} else {
			_ = sw.sendDone()
		}
	}

	messages := append([]llm.Message(nil), req.Messages...)
	companionID := req.CompanionID
	s.queue.Submit(pipeline.Task{
		Name: "turn_extraction",
		Run: func(ctx context.Context) error {
			return s.extractor.ProcessTurn(ctx, userID, companionID, messages, intent)
		},
	})
}

// assembleContext fans out the independent memory reads and joins them into
// the composer input. Every read degrades to an empty or default value on
// its own; the turn never aborts on a memory failure.
func (s *Server) assembleContext(ctx context.Context, userID string, req *turnRequest, latest string, crisis *safety.Signal) *prompt.Input {
	in := &prompt.Input{
		CompanionName:        req.CompanionName,
		CompanionRole:        req.CompanionRole,
		CompanionTagline:     req.CompanionTagline,
		CompanionDescription: req.CompanionDescription,
		CompanionPersonality: req.CompanionPersonality,
		Identity:             s.library.Identity(req.CompanionID),
		Temporal:             retrieval.ResolveTemporal(time.Now(), req.UserTimezone, s.cfg.Persona.DefaultTimezone),
		Metaphors:            s.library.SelectMetaphors(req.CompanionID, latest),
		Crisis:               crisis,
	}

	affinity := persona.DefaultAffinity(userID, req.CompanionID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		in.Recency = s.recency.Narrative(gctx, userID, req.CompanionID)
		return nil
	})
	g.Go(func() error {
		in.Knowledge = s.knowledge.Relevant(gctx, req.CompanionID, latest)
		return nil
	})
	g.Go(func() error {
		in.PrivateMemory = s.private.Entries(gctx, userID, req.CompanionID)
		return nil
	})
	g.Go(func() error {
		in.People = s.social.People(gctx, userID, req.CompanionID)
		return nil
	})
	g.Go(func() error {
		in.Goals = s.tracker.Active(gctx, userID, req.CompanionID)
		return nil
	})
	g.Go(func() error {
		in.Mistakes = s.mistakes.Recent(gctx, userID, req.CompanionID)
		return nil
	})
	g.Go(func() error {
		stored, err := s.store.Affinity(gctx, userID, req.CompanionID)
		if err == nil {
			affinity = stored
		} else if !errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("affinity read failed",
				zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	})
	_ = g.Wait()

	in.EligibleSecrets = persona.EligibleSecrets(in.Identity, affinity.AffinityLevel)
	affinity.UnlockedSecrets = persona.UnlockedLevels(affinity.UnlockedSecrets, in.EligibleSecrets)
	s.accrueAffinity(affinity)

	return in
}

// touchKnowledge stamps last_used_at on the items injected into the prompt,
// so the global knowledge read keeps recently surfaced items first.
func (s *Server) touchKnowledge(items []*storage.KnowledgeItem) {
	if len(items) == 0 {
		return
	}
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.TouchKnowledge(ctx, ids); err != nil {
		s.logger.Warn("knowledge touch failed", zap.Error(err))
	}
}

// accrueAffinity counts this turn and advances the level. The stored level
// never decreases; the store upsert keeps the maximum.
func (s *Server) accrueAffinity(affinity *storage.UserAffinity) {
	affinity.TotalMessages++
	affinity.AffinityLevel = persona.AccruedLevel(affinity.TotalMessages)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpsertAffinity(ctx, affinity); err != nil {
		s.logger.Warn("affinity upsert failed",
			zap.String("user_id", affinity.UserID), zap.Error(err))
	}
}

// truncate bounds a string to n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
