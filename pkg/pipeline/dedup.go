package pipeline

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/embedder"
	"github.com/aurora-ai/amica/pkg/storage"
)

// DedupResult reports one batch invocation.
type DedupResult struct {
	Processed int `json:"processedCount"`
	Approved  int `json:"approvedCount"`
	Rejected  int `json:"rejectedCount"`
	Merged    int `json:"mergedCount"`
}

// Deduper promotes pending knowledge candidates into the global knowledge
// table, merging near-duplicates.
//
// Rows are claimed with an owner id and a lease expiry, so overlapping
// invocations never process the same row; a crashed run's claims become
// reclaimable once the lease expires. Claimed rows are processed
// sequentially to keep duplicate detection race-free.
type Deduper struct {
	store    storage.Store
	embedder embedder.Provider
	node     *snowflake.Node
	logger   *zap.Logger

	// threshold is the cosine similarity above which a candidate merges
	// into an existing item.
	threshold float64

	// batchSize caps the rows claimed per invocation.
	batchSize int

	// itemDelay spaces out embedding calls to respect rate limits.
	itemDelay time.Duration

	// lease is how long a claim is held before it becomes reclaimable.
	lease time.Duration
}

// NewDeduper creates a dedup batch runner.
func NewDeduper(store storage.Store, emb embedder.Provider, threshold float64, batchSize int, itemDelay, lease time.Duration, node *snowflake.Node, logger *zap.Logger) *Deduper {
	return &Deduper{
		store:     store,
		embedder:  emb,
		node:      node,
		logger:    logger,
		threshold: threshold,
		batchSize: batchSize,
		itemDelay: itemDelay,
		lease:     lease,
	}
}

// Run executes one batch invocation.
func (d *Deduper) Run(ctx context.Context) (*DedupResult, error) {
	owner := uuid.NewString()

	claimed, err := d.store.ClaimPending(ctx, owner, d.batchSize, time.Now().Add(d.lease))
	if err != nil {
		return nil, core.WrapError("DedupRun", err)
	}

	result := &DedupResult{}
	for i, pending := range claimed {
		if i > 0 && d.itemDelay > 0 {
			select {
			case <-time.After(d.itemDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		status := d.processOne(ctx, pending)
		if err := d.store.ResolvePending(ctx, pending.ID, status); err != nil {
			d.logger.Error("pending resolve failed",
				zap.Int64("id", pending.ID),
				zap.String("status", string(status)), zap.Error(err))
			continue
		}

		result.Processed++
		switch status {
		case storage.PendingApproved:
			result.Approved++
		case storage.PendingMerged:
			result.Merged++
		case storage.PendingRejected:
			result.Rejected++
		}
	}

	d.logger.Info("dedup batch finished",
		zap.String("owner", owner),
		zap.Int("processed", result.Processed),
		zap.Int("approved", result.Approved),
		zap.Int("merged", result.Merged),
		zap.Int("rejected", result.Rejected))
	return result, nil
}

// processOne embeds one candidate and either merges it into a near-duplicate
// or inserts it as a new validated item. Any failure rejects the row; a row
// is never left claimed forever.
func (d *Deduper) processOne(ctx context.Context, pending *storage.PendingKnowledge) storage.PendingStatus {
	embedding, err := d.embedder.Embed(ctx, pending.ExtractedFact)
	if err != nil {
		d.logger.Warn("candidate embedding failed",
			zap.Int64("id", pending.ID), zap.Error(err))
		return storage.PendingRejected
	}

	matches, err := d.store.SearchGlobalKnowledge(ctx, embedding, d.threshold, 1)
	if err != nil {
		d.logger.Warn("candidate search failed",
			zap.Int64("id", pending.ID), zap.Error(err))
		return storage.PendingRejected
	}

	if len(matches) > 0 {
		if err := d.store.IncrementValidation(ctx, matches[0].ID); err != nil {
			d.logger.Warn("validation increment failed",
				zap.Int64("id", pending.ID),
				zap.Int64("matched_id", matches[0].ID), zap.Error(err))
			return storage.PendingRejected
		}
		d.logger.Debug("candidate merged",
			zap.Int64("id", pending.ID),
			zap.Int64("matched_id", matches[0].ID),
			zap.Float64("similarity", matches[0].Score))
		return storage.PendingMerged
	}

	item := &storage.KnowledgeItem{
		ID:               d.node.Generate().Int64(),
		Title:            titleFromFact(pending.ExtractedFact),
		Content:          pending.ExtractedFact,
		Category:         pending.Category,
		IsGlobal:         true,
		ValidationStatus: storage.ValidationValidated,
		ValidationCount:  1,
		Embedding:        embedding,
		SourceType:       storage.SourceLearned,
	}
	if err := d.store.InsertKnowledge(ctx, item); err != nil {
		d.logger.Warn("candidate insert failed",
			zap.Int64("id", pending.ID), zap.Error(err))
		return storage.PendingRejected
	}

	return storage.PendingApproved
}

// titleFromFact derives a short title from the fact text.
func titleFromFact(fact string) string {
	const maxTitle = 60
	runes := []rune(fact)
	if len(runes) <= maxTitle {
		return fact
	}
	return string(runes[:maxTitle])
}
