package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aurora-ai/amica/pkg/storage"
)

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanKnowledgeRows scans a knowledge_items result set.
func scanKnowledgeRows(rows *sql.Rows) ([]*storage.KnowledgeItem, error) {
	var items []*storage.KnowledgeItem
	for rows.Next() {
		var item storage.KnowledgeItem
		var embeddingJSON string
		var lastUsedAt sql.NullTime

		err := rows.Scan(&item.ID, &item.CompanionID, &item.Title, &item.Content,
			&item.Category, &item.IsGlobal, &item.ValidationStatus,
			&item.ValidationCount, &embeddingJSON, &item.SourceType,
			&lastUsedAt, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanKnowledgeRows: %w", err)
		}

		if err := json.Unmarshal([]byte(embeddingJSON), &item.Embedding); err != nil {
			return nil, fmt.Errorf("scanKnowledgeRows: parse embedding: %w", err)
		}
		if lastUsedAt.Valid {
			item.LastUsedAt = &lastUsedAt.Time
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// scanContextRow scans one user_context row.
func scanContextRow(s scanner) (*storage.UserContextEntry, error) {
	var entry storage.UserContextEntry
	err := s.Scan(&entry.ID, &entry.UserID, &entry.CompanionID,
		&entry.CrossCompanion, &entry.ContextType, &entry.Key, &entry.Value,
		&entry.Confidence, &entry.PrivacyLevel, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// scanGoalRow scans one goals row.
func scanGoalRow(s scanner) (*storage.Goal, error) {
	var goal storage.Goal
	var status, notesJSON string
	var targetDate, achievedAt sql.NullTime

	err := s.Scan(&goal.ID, &goal.UserID, &goal.CompanionID, &goal.Description,
		&goal.Category, &status, &notesJSON, &targetDate, &achievedAt,
		&goal.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanGoalRow: %w", err)
	}

	goal.Status = storage.GoalStatus(status)
	if err := json.Unmarshal([]byte(notesJSON), &goal.ProgressNotes); err != nil {
		return nil, fmt.Errorf("scanGoalRow: parse progress notes: %w", err)
	}
	if targetDate.Valid {
		goal.TargetDate = &targetDate.Time
	}
	if achievedAt.Valid {
		goal.AchievedAt = &achievedAt.Time
	}
	return &goal, nil
}

// nullTime converts an optional time to a driver-friendly value.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// cosineSimilarity calculates the cosine similarity between two vectors.
//
// Returns 0 for mismatched lengths or zero vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore sorts items by descending score and truncates to limit.
func sortByScore(items []*storage.KnowledgeItem, limit int) []*storage.KnowledgeItem {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
