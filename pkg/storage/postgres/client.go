// Package postgres provides the PostgreSQL implementation of the companion
// store.
//
// The knowledge embedding column uses the pgvector extension, so the dedup
// nearest-neighbor search runs inside the database instead of in memory.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/storage"
)

// Client implements storage.Store using PostgreSQL with pgvector.
type Client struct {
	db         *sql.DB
	dimensions int
}

// Config contains configuration for creating a PostgreSQL store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// SSLMode is the libpq sslmode value, defaulting to disable.
	SSLMode string

	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int
}

// NewClient creates a new PostgreSQL store client.
//
// Parameters:
//   - cfg: Configuration containing connection details and embedding dimensions
//
// Returns:
//   - *Client: The PostgreSQL client instance
//   - error: Error if connection, extension, or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{
		db:         db,
		dimensions: cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the pgvector extension and table structure.
func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("initTables: create vector extension: %w", err)
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_items (
			id BIGINT PRIMARY KEY,
			companion_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			is_global BOOLEAN NOT NULL DEFAULT FALSE,
			validation_status TEXT NOT NULL DEFAULT 'pending',
			validation_count INTEGER NOT NULL DEFAULT 0,
			embedding vector(%d),
			source_type TEXT NOT NULL DEFAULT 'learned',
			last_used_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, c.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_scope ON knowledge_items(is_global, companion_id)`,
		`CREATE TABLE IF NOT EXISTS user_context (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			cross_companion BOOLEAN NOT NULL DEFAULT FALSE,
			context_type TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			privacy_level TEXT NOT NULL DEFAULT 'private',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, companion_id, context_type, key)
		)`,
		`CREATE TABLE IF NOT EXISTS social_graph (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			person_name TEXT NOT NULL,
			person_key TEXT NOT NULL,
			relationship TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL DEFAULT '',
			sentiment TEXT NOT NULL DEFAULT '',
			mention_count INTEGER NOT NULL DEFAULT 1,
			first_mentioned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_mentioned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, companion_id, person_key)
		)`,
		`CREATE TABLE IF NOT EXISTS goals (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			description TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			progress_notes TEXT NOT NULL DEFAULT '[]',
			target_date TIMESTAMP,
			achieved_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_user ON goals(user_id, companion_id, status)`,
		`CREATE TABLE IF NOT EXISTS interaction_feedback (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			feedback_type TEXT NOT NULL,
			learned_pattern TEXT NOT NULL,
			weight_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_affinity (
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			affinity_level INTEGER NOT NULL DEFAULT 1,
			total_messages INTEGER NOT NULL DEFAULT 0,
			unlocked_secrets TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(user_id, companion_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_knowledge (
			id BIGINT PRIMARY KEY,
			extracted_fact TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_personal BOOLEAN NOT NULL DEFAULT FALSE,
			processing_status TEXT NOT NULL DEFAULT 'pending',
			claim_owner TEXT NOT NULL DEFAULT '',
			claim_expires_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_knowledge(processing_status)`,
		`CREATE TABLE IF NOT EXISTS token_ledger (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			goal_id BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'chat',
			summary TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			mood TEXT NOT NULL DEFAULT '',
			key_points TEXT NOT NULL DEFAULT '[]',
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_insights (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			mood TEXT NOT NULL DEFAULT '',
			intensity INTEGER NOT NULL DEFAULT 0,
			topics TEXT NOT NULL DEFAULT '[]',
			key_insight TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS crisis_log (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			pattern TEXT NOT NULL,
			excerpt TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// InsertKnowledge inserts a knowledge item.
func (c *Client) InsertKnowledge(ctx context.Context, item *storage.KnowledgeItem) error {
	now := time.Now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO knowledge_items
		(id, companion_id, title, content, category, is_global, validation_status,
		 validation_count, embedding, source_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector, $10, $11, $12)
	`,
		item.ID, item.CompanionID, item.Title, item.Content, item.Category,
		item.IsGlobal, item.ValidationStatus, item.ValidationCount,
		vectorLiteral(item.Embedding), item.SourceType, now, now,
	)
	if err != nil {
		return fmt.Errorf("InsertKnowledge: %w", err)
	}
	return nil
}

// GlobalKnowledge returns validated or static global knowledge.
func (c *Client) GlobalKnowledge(ctx context.Context, limit int) ([]*storage.KnowledgeItem, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, companion_id, title, content, category, is_global,
		       validation_status, validation_count, embedding::text, source_type,
		       last_used_at, created_at, updated_at
		FROM knowledge_items
		WHERE is_global = TRUE AND (validation_status = $1 OR source_type = $2)
		ORDER BY last_used_at DESC NULLS LAST, validation_count DESC
		LIMIT $3
	`, storage.ValidationValidated, storage.SourceStatic, limit)
	if err != nil {
		return nil, fmt.Errorf("GlobalKnowledge: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanKnowledgeRows(rows, false)
}

// CompanionKnowledge returns knowledge scoped to one companion.
func (c *Client) CompanionKnowledge(ctx context.Context, companionID string, limit int) ([]*storage.KnowledgeItem, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, companion_id, title, content, category, is_global,
		       validation_status, validation_count, embedding::text, source_type,
		       last_used_at, created_at, updated_at
		FROM knowledge_items
		WHERE is_global = FALSE AND companion_id = $1
		ORDER BY validation_count DESC
		LIMIT $2
	`, companionID, limit)
	if err != nil {
		return nil, fmt.Errorf("CompanionKnowledge: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanKnowledgeRows(rows, false)
}

// SearchGlobalKnowledge performs nearest-neighbor search over global
// knowledge using the pgvector cosine distance operator.
func (c *Client) SearchGlobalKnowledge(ctx context.Context, embedding []float64, minScore float64, limit int) ([]*storage.KnowledgeItem, error) {
	query := fmt.Sprintf(`
		SELECT id, companion_id, title, content, category, is_global,
		       validation_status, validation_count, embedding::text, source_type,
		       last_used_at, created_at, updated_at,
		       1 - (embedding <=> $1::vector) AS score
		FROM knowledge_items
		WHERE is_global = TRUE
		  AND 1 - (embedding <=> $1::vector) >= $2
		ORDER BY embedding <=> $1::vector
		LIMIT %d
	`, limit)

	rows, err := c.db.QueryContext(ctx, query, vectorLiteral(embedding), minScore)
	if err != nil {
		return nil, fmt.Errorf("SearchGlobalKnowledge: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanKnowledgeRows(rows, true)
}

// IncrementValidation increments a knowledge item's validation count.
func (c *Client) IncrementValidation(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE knowledge_items
		SET validation_count = validation_count + 1, updated_at = $1
		WHERE id = $2
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("IncrementValidation: %w", err)
	}
	return nil
}

// TouchKnowledge stamps last_used_at on the given items.
func (c *Client) TouchKnowledge(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, time.Now())
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	query := fmt.Sprintf("UPDATE knowledge_items SET last_used_at = $1 WHERE id IN (%s)",
		strings.Join(placeholders, ","))
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("TouchKnowledge: %w", err)
	}
	return nil
}

// UpsertUserContext writes a user-context fact by natural key.
func (c *Client) UpsertUserContext(ctx context.Context, entry *storage.UserContextEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO user_context
		(user_id, companion_id, cross_companion, context_type, key, value,
		 confidence, privacy_level, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, companion_id, context_type, key) DO UPDATE SET
			cross_companion = EXCLUDED.cross_companion,
			value = EXCLUDED.value,
			confidence = EXCLUDED.confidence,
			privacy_level = EXCLUDED.privacy_level,
			updated_at = EXCLUDED.updated_at
	`,
		entry.UserID, entry.CompanionID, entry.CrossCompanion,
		entry.ContextType, entry.Key, entry.Value, entry.Confidence,
		entry.PrivacyLevel, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("UpsertUserContext: %w", err)
	}
	return nil
}

// UserContext returns user-facing context rows, confidence-descending.
func (c *Client) UserContext(ctx context.Context, userID, companionID string, limit int) ([]*storage.UserContextEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, companion_id, cross_companion, context_type, key,
		       value, confidence, privacy_level, updated_at
		FROM user_context
		WHERE user_id = $1
		  AND (companion_id = $2 OR cross_companion = TRUE)
		  AND context_type != $3
		ORDER BY confidence DESC
		LIMIT $4
	`, userID, companionID, storage.ContextTypeSystem, limit)
	if err != nil {
		return nil, fmt.Errorf("UserContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*storage.UserContextEntry
	for rows.Next() {
		entry, err := scanContextRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UserContextValue reads one row by natural key, including system rows.
func (c *Client) UserContextValue(ctx context.Context, userID, companionID, contextType, key string) (*storage.UserContextEntry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, user_id, companion_id, cross_companion, context_type, key,
		       value, confidence, privacy_level, updated_at
		FROM user_context
		WHERE user_id = $1 AND companion_id = $2 AND context_type = $3 AND key = $4
	`, userID, companionID, contextType, key)

	entry, err := scanContextRow(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("UserContextValue: %w", err)
	}
	return entry, nil
}

// UpsertPerson upserts a social-graph person, incrementing the mention count.
func (c *Client) UpsertPerson(ctx context.Context, person *storage.SocialGraphPerson) error {
	now := time.Now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO social_graph
		(id, user_id, companion_id, person_name, person_key, relationship,
		 context, sentiment, mention_count, first_mentioned_at, last_mentioned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
		ON CONFLICT (user_id, companion_id, person_key) DO UPDATE SET
			mention_count = social_graph.mention_count + 1,
			relationship = CASE WHEN EXCLUDED.relationship != '' THEN EXCLUDED.relationship ELSE social_graph.relationship END,
			context = CASE WHEN EXCLUDED.context != '' THEN EXCLUDED.context ELSE social_graph.context END,
			sentiment = CASE WHEN EXCLUDED.sentiment != '' THEN EXCLUDED.sentiment ELSE social_graph.sentiment END,
			last_mentioned_at = EXCLUDED.last_mentioned_at
	`,
		person.ID, person.UserID, person.CompanionID, person.PersonName,
		strings.ToLower(person.PersonName), person.Relationship,
		person.Context, person.Sentiment, now, now,
	)
	if err != nil {
		return fmt.Errorf("UpsertPerson: %w", err)
	}
	return nil
}

// People returns mentioned people, most recently mentioned first.
func (c *Client) People(ctx context.Context, userID, companionID string, limit int) ([]*storage.SocialGraphPerson, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, companion_id, person_name, relationship, context,
		       sentiment, mention_count, first_mentioned_at, last_mentioned_at
		FROM social_graph
		WHERE user_id = $1 AND companion_id = $2
		ORDER BY last_mentioned_at DESC
		LIMIT $3
	`, userID, companionID, limit)
	if err != nil {
		return nil, fmt.Errorf("People: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var people []*storage.SocialGraphPerson
	for rows.Next() {
		var p storage.SocialGraphPerson
		if err := rows.Scan(&p.ID, &p.UserID, &p.CompanionID, &p.PersonName,
			&p.Relationship, &p.Context, &p.Sentiment, &p.MentionCount,
			&p.FirstMentionedAt, &p.LastMentionedAt); err != nil {
			return nil, fmt.Errorf("People: %w", err)
		}
		people = append(people, &p)
	}
	return people, rows.Err()
}

// InsertGoal inserts a goal.
func (c *Client) InsertGoal(ctx context.Context, goal *storage.Goal) error {
	notesJSON, err := json.Marshal(goal.ProgressNotes)
	if err != nil {
		return fmt.Errorf("InsertGoal: %w", err)
	}
	if goal.ProgressNotes == nil {
		notesJSON = []byte("[]")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO goals
		(id, user_id, companion_id, description, category, status,
		 progress_notes, target_date, achieved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		goal.ID, goal.UserID, goal.CompanionID, goal.Description, goal.Category,
		string(goal.Status), string(notesJSON), goal.TargetDate, goal.AchievedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("InsertGoal: %w", err)
	}
	return nil
}

// GoalsByStatus returns goals in any of the given states, newest first.
func (c *Client) GoalsByStatus(ctx context.Context, userID, companionID string, statuses []storage.GoalStatus, limit int) ([]*storage.Goal, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := []interface{}{userID, companionID}
	for i, s := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, string(s))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, user_id, companion_id, description, category, status,
		       progress_notes, target_date, achieved_at, created_at
		FROM goals
		WHERE user_id = $1 AND companion_id = $2 AND status IN (%s)
		ORDER BY created_at DESC
		LIMIT $%d
	`, strings.Join(placeholders, ","), len(statuses)+3)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("GoalsByStatus: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var goals []*storage.Goal
	for rows.Next() {
		goal, err := scanGoalRow(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, goal)
	}
	return goals, rows.Err()
}

// CompleteGoal transitions a goal active → completed.
//
// The WHERE status guard is what makes the one-time token reward idempotent:
// a repeated completion of the same goal affects zero rows.
func (c *Client) CompleteGoal(ctx context.Context, id int64, achievedAt time.Time) (bool, error) {
	result, err := c.db.ExecContext(ctx, `
		UPDATE goals
		SET status = $1, achieved_at = $2
		WHERE id = $3 AND status = $4
	`, string(storage.GoalCompleted), achievedAt, id, string(storage.GoalActive))
	if err != nil {
		return false, fmt.Errorf("CompleteGoal: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CompleteGoal: %w", err)
	}
	return affected > 0, nil
}

// InsertFeedback appends an interaction-feedback row.
func (c *Client) InsertFeedback(ctx context.Context, feedback *storage.InteractionFeedback) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO interaction_feedback
		(id, user_id, companion_id, feedback_type, learned_pattern,
		 weight_adjustment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		feedback.ID, feedback.UserID, feedback.CompanionID,
		feedback.FeedbackType, feedback.LearnedPattern,
		feedback.WeightAdjustment, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("InsertFeedback: %w", err)
	}
	return nil
}

// RecentFeedback returns the most recent feedback rows.
func (c *Client) RecentFeedback(ctx context.Context, userID, companionID string, limit int) ([]*storage.InteractionFeedback, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, companion_id, feedback_type, learned_pattern,
		       weight_adjustment, created_at
		FROM interaction_feedback
		WHERE user_id = $1 AND companion_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, companionID, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentFeedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feedback []*storage.InteractionFeedback
	for rows.Next() {
		var f storage.InteractionFeedback
		if err := rows.Scan(&f.ID, &f.UserID, &f.CompanionID, &f.FeedbackType,
			&f.LearnedPattern, &f.WeightAdjustment, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("RecentFeedback: %w", err)
		}
		feedback = append(feedback, &f)
	}
	return feedback, rows.Err()
}

// Affinity reads the per-user affinity row.
func (c *Client) Affinity(ctx context.Context, userID, companionID string) (*storage.UserAffinity, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT user_id, companion_id, affinity_level, total_messages,
		       unlocked_secrets, updated_at
		FROM user_affinity
		WHERE user_id = $1 AND companion_id = $2
	`, userID, companionID)

	var a storage.UserAffinity
	var secretsJSON string
	err := row.Scan(&a.UserID, &a.CompanionID, &a.AffinityLevel,
		&a.TotalMessages, &secretsJSON, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Affinity: %w", err)
	}

	if err := json.Unmarshal([]byte(secretsJSON), &a.UnlockedSecrets); err != nil {
		return nil, fmt.Errorf("Affinity: parse unlocked secrets: %w", err)
	}
	return &a, nil
}

// UpsertAffinity writes the affinity row; the stored level never decreases.
func (c *Client) UpsertAffinity(ctx context.Context, affinity *storage.UserAffinity) error {
	secretsJSON, err := json.Marshal(affinity.UnlockedSecrets)
	if err != nil {
		return fmt.Errorf("UpsertAffinity: %w", err)
	}
	if affinity.UnlockedSecrets == nil {
		secretsJSON = []byte("[]")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO user_affinity
		(user_id, companion_id, affinity_level, total_messages,
		 unlocked_secrets, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, companion_id) DO UPDATE SET
			affinity_level = GREATEST(user_affinity.affinity_level, EXCLUDED.affinity_level),
			total_messages = EXCLUDED.total_messages,
			unlocked_secrets = EXCLUDED.unlocked_secrets,
			updated_at = EXCLUDED.updated_at
	`,
		affinity.UserID, affinity.CompanionID, affinity.AffinityLevel,
		affinity.TotalMessages, string(secretsJSON), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("UpsertAffinity: %w", err)
	}
	return nil
}

// EnqueuePending enqueues a pending knowledge candidate.
func (c *Client) EnqueuePending(ctx context.Context, pending *storage.PendingKnowledge) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO pending_knowledge
		(id, extracted_fact, category, confidence, is_personal,
		 processing_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		pending.ID, pending.ExtractedFact, pending.Category,
		pending.Confidence, pending.IsPersonal,
		string(storage.PendingNew), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("EnqueuePending: %w", err)
	}
	return nil
}

// ClaimPending claims up to limit candidates for one batch run.
//
// A single UPDATE with a locking subselect claims the rows, so overlapping
// runs never hold the same candidate.
func (c *Client) ClaimPending(ctx context.Context, owner string, limit int, leaseUntil time.Time) ([]*storage.PendingKnowledge, error) {
	now := time.Now()

	rows, err := c.db.QueryContext(ctx, `
		UPDATE pending_knowledge
		SET processing_status = $1, claim_owner = $2, claim_expires_at = $3
		WHERE id IN (
			SELECT id FROM pending_knowledge
			WHERE processing_status = $4
			   OR (processing_status = $1 AND claim_expires_at IS NOT NULL AND claim_expires_at < $5)
			ORDER BY created_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, extracted_fact, category, confidence, is_personal,
		          processing_status, claim_owner, claim_expires_at, created_at
	`, string(storage.PendingProcessing), owner, leaseUntil,
		string(storage.PendingNew), now, limit)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var claimed []*storage.PendingKnowledge
	for rows.Next() {
		var p storage.PendingKnowledge
		var status string
		var expiresAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.ExtractedFact, &p.Category, &p.Confidence,
			&p.IsPersonal, &status, &p.ClaimOwner, &expiresAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("ClaimPending: %w", err)
		}
		p.Status = storage.PendingStatus(status)
		if expiresAt.Valid {
			p.ClaimExpiresAt = &expiresAt.Time
		}
		claimed = append(claimed, &p)
	}
	return claimed, rows.Err()
}

// ResolvePending moves a claimed row to a terminal status.
func (c *Client) ResolvePending(ctx context.Context, id int64, status storage.PendingStatus) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE pending_knowledge
		SET processing_status = $1, claim_owner = '', claim_expires_at = NULL
		WHERE id = $2
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("ResolvePending: %w", err)
	}
	return nil
}

// GrantTokens appends a token-ledger row.
func (c *Client) GrantTokens(ctx context.Context, userID string, amount int64, reason string, goalID int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO token_ledger (user_id, amount, reason, goal_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, amount, reason, goalID, time.Now())
	if err != nil {
		return fmt.Errorf("GrantTokens: %w", err)
	}
	return nil
}

// InsertCrisisLog appends a safety audit row.
func (c *Client) InsertCrisisLog(ctx context.Context, log *storage.CrisisLog) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO crisis_log (id, user_id, companion_id, pattern, excerpt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, log.ID, log.UserID, log.CompanionID, log.Pattern, log.Excerpt, time.Now())
	if err != nil {
		return fmt.Errorf("InsertCrisisLog: %w", err)
	}
	return nil
}

// InsertSessionSummary appends a session summary row.
func (c *Client) InsertSessionSummary(ctx context.Context, summary *storage.SessionSummary) error {
	keyPointsJSON, err := json.Marshal(summary.KeyPoints)
	if err != nil {
		return fmt.Errorf("InsertSessionSummary: %w", err)
	}
	if summary.KeyPoints == nil {
		keyPointsJSON = []byte("[]")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO session_summaries
		(id, user_id, companion_id, kind, summary, topic, mood, key_points,
		 duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		summary.ID, summary.UserID, summary.CompanionID, summary.Kind,
		summary.Summary, summary.Topic, summary.Mood, string(keyPointsJSON),
		summary.DurationSeconds, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("InsertSessionSummary: %w", err)
	}
	return nil
}

// InsertSessionInsight appends a session insight row.
func (c *Client) InsertSessionInsight(ctx context.Context, insight *storage.SessionInsight) error {
	topicsJSON, err := json.Marshal(insight.Topics)
	if err != nil {
		return fmt.Errorf("InsertSessionInsight: %w", err)
	}
	if insight.Topics == nil {
		topicsJSON = []byte("[]")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO session_insights
		(id, user_id, companion_id, mood, intensity, topics, key_insight, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		insight.ID, insight.UserID, insight.CompanionID, insight.Mood,
		insight.Intensity, string(topicsJSON), insight.KeyInsight, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("InsertSessionInsight: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
