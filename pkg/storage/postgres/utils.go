package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aurora-ai/amica/pkg/storage"
)

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

// vectorLiteral formats a float slice in pgvector text syntax: [x,y,z].
func vectorLiteral(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector parses the pgvector text representation back to a float slice.
func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	vector := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parseVector: %w", err)
		}
		vector[i] = v
	}
	return vector, nil
}

// scanKnowledgeRows scans a knowledge_items result set, optionally including
// the trailing similarity score column.
func scanKnowledgeRows(rows *sql.Rows, withScore bool) ([]*storage.KnowledgeItem, error) {
	var items []*storage.KnowledgeItem
	for rows.Next() {
		var item storage.KnowledgeItem
		var vectorText sql.NullString
		var lastUsedAt sql.NullTime

		dest := []interface{}{&item.ID, &item.CompanionID, &item.Title,
			&item.Content, &item.Category, &item.IsGlobal,
			&item.ValidationStatus, &item.ValidationCount, &vectorText,
			&item.SourceType, &lastUsedAt, &item.CreatedAt, &item.UpdatedAt}
		if withScore {
			dest = append(dest, &item.Score)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanKnowledgeRows: %w", err)
		}

		if vectorText.Valid {
			embedding, err := parseVector(vectorText.String)
			if err != nil {
				return nil, fmt.Errorf("scanKnowledgeRows: %w", err)
			}
			item.Embedding = embedding
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
