// Package storage provides interfaces and types for the companion memory
// store.
//
// It defines the Store interface that all backends must satisfy, along with
// the row types for every memory source the turn handler reads and the
// background pipeline writes.
package storage

import (
	"context"
	"time"
)

// Validation status values for knowledge items.
const (
	// ValidationPending marks a knowledge item awaiting corroboration.
	ValidationPending = "pending"

	// ValidationValidated marks a knowledge item confirmed by at least one
	// independent extraction.
	ValidationValidated = "validated"
)

// Source type values for knowledge items.
const (
	// SourceStatic marks seeded knowledge.
	SourceStatic = "static"

	// SourceLearned marks knowledge promoted from the dedup batch.
	SourceLearned = "learned"
)

// Reserved user-context coordinates for the recency timestamp.
//
// The row at (ContextTypeSystem, RecencyKey) carries the last-interaction
// timestamp and must never be surfaced as user-facing memory.
const (
	ContextTypeSystem = "system"
	RecencyKey        = "last_interaction"
)

// GoalStatus is the lifecycle state of a temporal goal.
type GoalStatus string

const (
	// GoalActive is the initial state of a classified new goal.
	GoalActive GoalStatus = "active"

	// GoalPaused is reachable only by out-of-core actions.
	GoalPaused GoalStatus = "paused"

	// GoalCompleted is set when a completion intent matches the goal.
	GoalCompleted GoalStatus = "completed"

	// GoalAbandoned is reachable only by out-of-core actions.
	GoalAbandoned GoalStatus = "abandoned"
)

// PendingStatus is the processing state of a pending knowledge candidate.
type PendingStatus string

const (
	// PendingNew marks a candidate awaiting the dedup batch.
	PendingNew PendingStatus = "pending"

	// PendingProcessing marks a candidate claimed by a batch run.
	PendingProcessing PendingStatus = "processing"

	// PendingApproved marks a candidate promoted to a new knowledge item.
	PendingApproved PendingStatus = "approved"

	// PendingRejected marks a candidate dropped after a processing failure.
	PendingRejected PendingStatus = "rejected"

	// PendingMerged marks a candidate merged into existing knowledge.
	PendingMerged PendingStatus = "merged"
)

// KnowledgeItem is one validated or seeded piece of companion knowledge.
//
// Global items (empty CompanionID, IsGlobal true) are readable by every
// companion; companion-scoped items are not. Items are never hard-deleted in
// normal operation.
type KnowledgeItem struct {
	ID int64

	// CompanionID scopes the item to one companion; empty for global items.
	CompanionID string

	Title    string
	Content  string
	Category string

	// IsGlobal marks items readable by every companion.
	IsGlobal bool

	// ValidationStatus is pending or validated.
	ValidationStatus string

	// ValidationCount is the number of independent extractions that
	// corroborated this item.
	ValidationCount int

	// Embedding is the vector used by the dedup nearest-neighbor search.
	Embedding []float64

	// SourceType is static (seeded) or learned (promoted).
	SourceType string

	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Score is the similarity score from search operations.
	Score float64
}

// UserContextEntry is one user-scoped memory fact.
//
// Natural key = (user, companion, context type, key); writes are upserts and
// at most one row exists per natural key.
type UserContextEntry struct {
	ID          int64
	UserID      string
	CompanionID string

	// CrossCompanion makes the fact visible to every companion the user
	// talks to.
	CrossCompanion bool

	ContextType  string
	Key          string
	Value        string
	Confidence   float64
	PrivacyLevel string
	UpdatedAt    time.Time
}

// SocialGraphPerson is a person the user has mentioned.
//
// The natural key (user, companion, lowercased name) is upserted on each
// mention; MentionCount monotonically increases.
type SocialGraphPerson struct {
	ID          int64
	UserID      string
	CompanionID string

	// PersonName keeps the display casing; uniqueness is case-insensitive.
	PersonName string

	Relationship     string
	Context          string
	Sentiment        string
	MentionCount     int
	FirstMentionedAt time.Time
	LastMentionedAt  time.Time
}

// Goal is one entry of the per-user goal state machine.
type Goal struct {
	ID          int64
	UserID      string
	CompanionID string
	Description string
	Category    string
	Status      GoalStatus

	// ProgressNotes is an append-only list of short notes.
	ProgressNotes []string

	TargetDate *time.Time
	AchievedAt *time.Time
	CreatedAt  time.Time
}

// InteractionFeedback is one append-only negative-feedback pattern.
type InteractionFeedback struct {
	ID               int64
	UserID           string
	CompanionID      string
	FeedbackType     string
	LearnedPattern   string
	WeightAdjustment float64
	CreatedAt        time.Time
}

// UserAffinity is the per-user, per-companion disclosure gate.
//
// AffinityLevel (1-10) is monotonically non-decreasing via message-count
// accrual; a deep secret at level L may be disclosed iff L <= AffinityLevel.
type UserAffinity struct {
	UserID          string
	CompanionID     string
	AffinityLevel   int
	TotalMessages   int
	UnlockedSecrets []int
	UpdatedAt       time.Time
}

// PendingKnowledge is a candidate global fact awaiting deduplication.
//
// Rows move pending → processing → approved|rejected|merged. The claim
// columns make overlapping batch runs safe: a row is only processed by the
// run holding an unexpired claim.
type PendingKnowledge struct {
	ID            int64
	ExtractedFact string
	Category      string
	Confidence    float64
	IsPersonal    bool
	Status        PendingStatus

	// ClaimOwner identifies the batch run holding the row.
	ClaimOwner string

	// ClaimExpiresAt is when a processing claim becomes reclaimable.
	ClaimExpiresAt *time.Time

	CreatedAt time.Time
}

// SessionSummary is a write-once summary row (chat session or call).
type SessionSummary struct {
	ID              int64
	UserID          string
	CompanionID     string
	Kind            string
	Summary         string
	Topic           string
	Mood            string
	KeyPoints       []string
	DurationSeconds int
	CreatedAt       time.Time
}

// SessionInsight is a write-once per-session analysis row.
type SessionInsight struct {
	ID          int64
	UserID      string
	CompanionID string
	Mood        string
	Intensity   int
	Topics      []string
	KeyInsight  string
	CreatedAt   time.Time
}

// CrisisLog is a write-once safety audit row.
type CrisisLog struct {
	ID          int64
	UserID      string
	CompanionID string

	// Pattern is the matched detector pattern.
	Pattern string

	// Excerpt is a bounded excerpt of the triggering message.
	Excerpt string

	CreatedAt time.Time
}

// Store defines the interface for companion memory backends.
//
// All backends (SQLite, PostgreSQL) must implement this interface. Reads used
// by the turn handler are expected to be cheap and bounded; the handler
// degrades per source on error and never fails the turn on a read.
type Store interface {
	// InsertKnowledge inserts a knowledge item.
	InsertKnowledge(ctx context.Context, item *KnowledgeItem) error

	// GlobalKnowledge returns global items that are validated or seeded
	// static, most recently used first.
	GlobalKnowledge(ctx context.Context, limit int) ([]*KnowledgeItem, error)

	// CompanionKnowledge returns items scoped to one companion.
	CompanionKnowledge(ctx context.Context, companionID string, limit int) ([]*KnowledgeItem, error)

	// SearchGlobalKnowledge performs a nearest-neighbor search over global
	// knowledge, returning items with cosine similarity >= minScore sorted by
	// similarity (highest first).
	SearchGlobalKnowledge(ctx context.Context, embedding []float64, minScore float64, limit int) ([]*KnowledgeItem, error)

	// IncrementValidation increments a knowledge item's validation count.
	IncrementValidation(ctx context.Context, id int64) error

	// TouchKnowledge stamps last_used_at on the given items.
	TouchKnowledge(ctx context.Context, ids []int64) error

	// UpsertUserContext writes a user-context fact by natural key. Repeating
	// an identical write leaves exactly one row.
	UpsertUserContext(ctx context.Context, entry *UserContextEntry) error

	// UserContext returns user-facing context rows (companion-scoped or
	// cross-companion), confidence-descending, excluding the reserved
	// recency row.
	UserContext(ctx context.Context, userID, companionID string, limit int) ([]*UserContextEntry, error)

	// UserContextValue reads one row by natural key, including reserved
	// system rows. Returns ErrNotFound when absent.
	UserContextValue(ctx context.Context, userID, companionID, contextType, key string) (*UserContextEntry, error)

	// UpsertPerson upserts a social-graph person by case-insensitive name,
	// incrementing the mention count.
	UpsertPerson(ctx context.Context, person *SocialGraphPerson) error

	// People returns mentioned people, most recently mentioned first.
	People(ctx context.Context, userID, companionID string, limit int) ([]*SocialGraphPerson, error)

	// InsertGoal inserts a goal.
	InsertGoal(ctx context.Context, goal *Goal) error

	// GoalsByStatus returns goals in any of the given states, newest first.
	GoalsByStatus(ctx context.Context, userID, companionID string, statuses []GoalStatus, limit int) ([]*Goal, error)

	// CompleteGoal transitions a goal active → completed, stamping
	// achievedAt. Returns false when the goal was not active (the guard that
	// makes the reward one-time).
	CompleteGoal(ctx context.Context, id int64, achievedAt time.Time) (bool, error)

	// InsertFeedback appends an interaction-feedback row.
	InsertFeedback(ctx context.Context, feedback *InteractionFeedback) error

	// RecentFeedback returns the most recent feedback rows.
	RecentFeedback(ctx context.Context, userID, companionID string, limit int) ([]*InteractionFeedback, error)

	// Affinity reads the per-user affinity row. Returns ErrNotFound when the
	// user has no row yet (callers default to level 1).
	Affinity(ctx context.Context, userID, companionID string) (*UserAffinity, error)

	// UpsertAffinity writes the affinity row. The level never decreases:
	// backends keep the maximum of the stored and written level.
	UpsertAffinity(ctx context.Context, affinity *UserAffinity) error

	// EnqueuePending enqueues a pending knowledge candidate.
	EnqueuePending(ctx context.Context, pending *PendingKnowledge) error

	// ClaimPending claims up to limit candidates for one batch run: rows in
	// pending state, plus processing rows whose claim lease has expired.
	// Claimed rows are moved to processing with the given owner and lease.
	ClaimPending(ctx context.Context, owner string, limit int, leaseUntil time.Time) ([]*PendingKnowledge, error)

	// ResolvePending moves a claimed row to a terminal status.
	ResolvePending(ctx context.Context, id int64, status PendingStatus) error

	// GrantTokens appends a token-ledger row.
	GrantTokens(ctx context.Context, userID string, amount int64, reason string, goalID int64) error

	// InsertCrisisLog appends a safety audit row.
	InsertCrisisLog(ctx context.Context, log *CrisisLog) error

	// InsertSessionSummary appends a session summary row.
	InsertSessionSummary(ctx context.Context, summary *SessionSummary) error

	// InsertSessionInsight appends a session insight row.
	InsertSessionInsight(ctx context.Context, insight *SessionInsight) error

	// Close closes the store and releases resources.
	Close() error
}
