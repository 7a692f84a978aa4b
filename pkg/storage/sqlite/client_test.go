package sqlite_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/storage"
	"github.com/aurora-ai/amica/pkg/storage/sqlite"
)

func setupSQLiteTest(t *testing.T) (*sqlite.Client, func()) {
	dbPath := "./test_amica.db"

	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath:             dbPath,
		EmbeddingModelDims: 4,
	})
	require.NoError(t, err)

	cleanup := func() {
		client.Close()
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	}

	return client, cleanup
}

func TestSQLiteClient_UpsertUserContext(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	entry := &storage.UserContextEntry{
		UserID:      "user-1",
		CompanionID: "aria",
		ContextType: "personal",
		Key:         "favorite_music",
		Value:       "jazz",
		Confidence:  0.8,
	}
	require.NoError(t, client.UpsertUserContext(ctx, entry))

	// Same natural key again must update in place, not add a row.
	entry2 := &storage.UserContextEntry{
		UserID:      "user-1",
		CompanionID: "aria",
		ContextType: "personal",
		Key:         "favorite_music",
		Value:       "blues",
		Confidence:  0.9,
	}
	require.NoError(t, client.UpsertUserContext(ctx, entry2))

	entries, err := client.UserContext(ctx, "user-1", "aria", 30)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "blues", entries[0].Value)
	assert.Equal(t, 0.9, entries[0].Confidence)
}

func TestSQLiteClient_UserContextExcludesSystemRows(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, client.UpsertUserContext(ctx, &storage.UserContextEntry{
		UserID:      "user-1",
		CompanionID: "aria",
		ContextType: storage.ContextTypeSystem,
		Key:         storage.RecencyKey,
		Value:       time.Now().Format(time.RFC3339),
		Confidence:  1.0,
	}))
	require.NoError(t, client.UpsertUserContext(ctx, &storage.UserContextEntry{
		UserID:      "user-1",
		CompanionID: "aria",
		ContextType: "personal",
		Key:         "hobby",
		Value:       "climbing",
		Confidence:  0.7,
	}))

	entries, err := client.UserContext(ctx, "user-1", "aria", 30)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hobby", entries[0].Key)

	// The bookkeeping row is still reachable through the direct lookup.
	recency, err := client.UserContextValue(ctx, "user-1", "aria", storage.ContextTypeSystem, storage.RecencyKey)
	require.NoError(t, err)
	assert.Equal(t, storage.RecencyKey, recency.Key)
}

func TestSQLiteClient_UserContextCrossCompanion(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, client.UpsertUserContext(ctx, &storage.UserContextEntry{
		UserID:         "user-1",
		CompanionID:    "aria",
		CrossCompanion: true,
		ContextType:    "person",
		Key:            "sister",
		Value:          "Giulia",
		Confidence:     0.9,
	}))
	require.NoError(t, client.UpsertUserContext(ctx, &storage.UserContextEntry{
		UserID:      "user-1",
		CompanionID: "aria",
		ContextType: "preference",
		Key:         "tone",
		Value:       "gentle",
		Confidence:  0.8,
	}))

	// A different companion sees cross-companion facts only.
	entries, err := client.UserContext(ctx, "user-1", "nero", 30)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sister", entries[0].Key)
}

func TestSQLiteClient_CompleteGoalOnce(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	goal := &storage.Goal{
		ID:          101,
		UserID:      "user-1",
		CompanionID: "aria",
		Description: "quit smoking",
		Category:    "habit",
		Status:      storage.GoalActive,
	}
	require.NoError(t, client.InsertGoal(ctx, goal))

	transitioned, err := client.CompleteGoal(ctx, goal.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, transitioned)

	// The second completion must report no transition so callers never
	// reward the same goal twice.
	transitioned, err = client.CompleteGoal(ctx, goal.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, transitioned)

	goals, err := client.GoalsByStatus(ctx, "user-1", "aria", []storage.GoalStatus{storage.GoalCompleted}, 10)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	require.NotNil(t, goals[0].AchievedAt)
}

func TestSQLiteClient_AffinityMonotone(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	_, err := client.Affinity(ctx, "user-1", "aria")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	require.NoError(t, client.UpsertAffinity(ctx, &storage.UserAffinity{
		UserID:        "user-1",
		CompanionID:   "aria",
		AffinityLevel: 5,
		TotalMessages: 100,
	}))

	// A lower level write must not decrease the stored level.
	require.NoError(t, client.UpsertAffinity(ctx, &storage.UserAffinity{
		UserID:        "user-1",
		CompanionID:   "aria",
		AffinityLevel: 3,
		TotalMessages: 110,
	}))

	affinity, err := client.Affinity(ctx, "user-1", "aria")
	require.NoError(t, err)
	assert.Equal(t, 5, affinity.AffinityLevel)
	assert.Equal(t, 110, affinity.TotalMessages)
}

func TestSQLiteClient_ClaimPendingNoDoubleClaim(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, client.EnqueuePending(ctx, &storage.PendingKnowledge{
			ID:            i,
			ExtractedFact: "breathing exercises calm anxiety",
			Category:      "anxiety",
			Confidence:    0.8,
		}))
	}

	lease := time.Now().Add(5 * time.Minute)

	first, err := client.ClaimPending(ctx, "owner-a", 2, lease)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, p := range first {
		assert.Equal(t, storage.PendingProcessing, p.Status)
		assert.Equal(t, "owner-a", p.ClaimOwner)
	}

	// A second owner only gets the one unclaimed row.
	second, err := client.ClaimPending(ctx, "owner-b", 2, lease)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "owner-b", second[0].ClaimOwner)

	third, err := client.ClaimPending(ctx, "owner-c", 2, lease)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestSQLiteClient_ClaimPendingReclaimsExpiredLease(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, client.EnqueuePending(ctx, &storage.PendingKnowledge{
		ID:            1,
		ExtractedFact: "short walks reduce stress",
		Category:      "stress",
		Confidence:    0.75,
	}))

	// Claim with a lease already in the past, as if the run crashed.
	expired, err := client.ClaimPending(ctx, "crashed-run", 1, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)

	reclaimed, err := client.ClaimPending(ctx, "fresh-run", 1, time.Now().Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "fresh-run", reclaimed[0].ClaimOwner)
}

func TestSQLiteClient_ResolvePendingClearsClaim(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, client.EnqueuePending(ctx, &storage.PendingKnowledge{
		ID:            1,
		ExtractedFact: "journaling helps with sleep",
		Category:      "sleep",
		Confidence:    0.9,
	}))

	claimed, err := client.ClaimPending(ctx, "owner-a", 1, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, client.ResolvePending(ctx, 1, storage.PendingApproved))

	// A resolved row is never claimable again.
	again, err := client.ClaimPending(ctx, "owner-b", 1, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSQLiteClient_SearchGlobalKnowledge(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, client.InsertKnowledge(ctx, &storage.KnowledgeItem{
		ID:               1,
		Title:            "Box breathing",
		Content:          "Box breathing reduces acute anxiety",
		Category:         "anxiety",
		IsGlobal:         true,
		ValidationStatus: storage.ValidationValidated,
		ValidationCount:  1,
		Embedding:        []float64{1, 0, 0, 0},
		SourceType:       storage.SourceLearned,
	}))
	require.NoError(t, client.InsertKnowledge(ctx, &storage.KnowledgeItem{
		ID:               2,
		Title:            "Evening walks",
		Content:          "Evening walks improve sleep quality",
		Category:         "sleep",
		IsGlobal:         true,
		ValidationStatus: storage.ValidationValidated,
		ValidationCount:  1,
		Embedding:        []float64{0, 1, 0, 0},
		SourceType:       storage.SourceLearned,
	}))

	matches, err := client.SearchGlobalKnowledge(ctx, []float64{0.9, 0.1, 0, 0}, 0.85, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].ID)
	assert.Greater(t, matches[0].Score, 0.85)

	// An orthogonal query is below any sensible threshold.
	matches, err = client.SearchGlobalKnowledge(ctx, []float64{0, 0, 1, 0}, 0.85, 1)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSQLiteClient_IncrementValidation(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, client.InsertKnowledge(ctx, &storage.KnowledgeItem{
		ID:               1,
		Title:            "Gratitude journaling",
		Content:          "Writing three good things daily improves mood",
		Category:         "stress",
		IsGlobal:         true,
		ValidationStatus: storage.ValidationValidated,
		ValidationCount:  1,
		Embedding:        []float64{0, 0, 1, 0},
		SourceType:       storage.SourceLearned,
	}))

	require.NoError(t, client.IncrementValidation(ctx, 1))
	require.NoError(t, client.IncrementValidation(ctx, 1))

	items, err := client.GlobalKnowledge(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].ValidationCount)
}

func TestSQLiteClient_UpsertPerson(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, client.UpsertPerson(ctx, &storage.SocialGraphPerson{
		ID:           1,
		UserID:       "user-1",
		CompanionID:  "aria",
		PersonName:   "Marco",
		Relationship: "brother",
		Sentiment:    "positive",
	}))

	// A second mention without details bumps the count but keeps them.
	// Name matching is case-insensitive.
	require.NoError(t, client.UpsertPerson(ctx, &storage.SocialGraphPerson{
		ID:          2,
		UserID:      "user-1",
		CompanionID: "aria",
		PersonName:  "marco",
	}))

	people, err := client.People(ctx, "user-1", "aria", 10)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, 2, people[0].MentionCount)
	assert.Equal(t, "brother", people[0].Relationship)
	assert.Equal(t, "positive", people[0].Sentiment)
}

func TestSQLiteClient_TouchKnowledge(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	items := []*storage.KnowledgeItem{
		{ID: 1, Title: "Box breathing", Content: "Eases anxiety attacks", Category: "anxiety", IsGlobal: true, ValidationStatus: storage.ValidationValidated, ValidationCount: 9},
		{ID: 2, Title: "Mindful minute", Content: "A one minute pause", Category: "mindfulness", IsGlobal: true, ValidationStatus: storage.ValidationValidated, ValidationCount: 1},
	}
	for _, item := range items {
		require.NoError(t, client.InsertKnowledge(ctx, item))
	}

	require.NoError(t, client.TouchKnowledge(ctx, []int64{2}))

	// The touched item sorts first despite its lower validation count;
	// untouched rows keep a NULL last_used_at and sort after it.
	global, err := client.GlobalKnowledge(ctx, 10)
	require.NoError(t, err)
	require.Len(t, global, 2)
	assert.Equal(t, int64(2), global[0].ID)
	assert.NotNil(t, global[0].LastUsedAt)
	assert.Nil(t, global[1].LastUsedAt)
}

func TestSQLiteClient_FeedbackRoundTrip(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, client.InsertFeedback(ctx, &storage.InteractionFeedback{
		ID:               1,
		UserID:           "user-1",
		CompanionID:      "aria",
		FeedbackType:     "negative",
		LearnedPattern:   "avoid unsolicited advice about medication",
		WeightAdjustment: -0.2,
	}))
	require.NoError(t, client.InsertFeedback(ctx, &storage.InteractionFeedback{
		ID:             2,
		UserID:         "user-1",
		CompanionID:    "nero",
		FeedbackType:   "negative",
		LearnedPattern: "other companion",
	}))

	feedback, err := client.RecentFeedback(ctx, "user-1", "aria", 10)
	require.NoError(t, err)
	require.Len(t, feedback, 1)
	assert.Equal(t, "negative", feedback[0].FeedbackType)
	assert.Equal(t, "avoid unsolicited advice about medication", feedback[0].LearnedPattern)
	assert.Equal(t, -0.2, feedback[0].WeightAdjustment)
	assert.False(t, feedback[0].CreatedAt.IsZero())
}

func TestSQLiteClient_AffinityUnlockedSecrets(t *testing.T) {
	client, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, client.UpsertAffinity(ctx, &storage.UserAffinity{
		UserID:          "user-1",
		CompanionID:     "aria",
		AffinityLevel:   7,
		TotalMessages:   160,
		UnlockedSecrets: []int{3, 7},
	}))

	affinity, err := client.Affinity(ctx, "user-1", "aria")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, affinity.UnlockedSecrets)
}
