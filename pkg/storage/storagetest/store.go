// Package storagetest provides an in-memory Store implementation for tests.
//
// Semantics mirror the real backends: natural-key upserts, the goal status
// transition guard, claim leases, and the monotonic affinity level.
package storagetest

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/storage"
)

// Store is an in-memory storage.Store.
type Store struct {
	mu sync.Mutex

	Knowledge []*storage.KnowledgeItem
	Context   []*storage.UserContextEntry
	Persons   []*storage.SocialGraphPerson
	Goals     []*storage.Goal
	Feedback  []*storage.InteractionFeedback
	Affinity_ map[string]*storage.UserAffinity
	Pending   []*storage.PendingKnowledge
	Tokens    []TokenGrant
	CrisisLog []*storage.CrisisLog
	Summaries []*storage.SessionSummary
	Insights  []*storage.SessionInsight

	// Err, when set, is returned by every read operation.
	Err error

	nextID int64
}

// TokenGrant records one GrantTokens call.
type TokenGrant struct {
	UserID string
	Amount int64
	Reason string
	GoalID int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{Affinity_: make(map[string]*storage.UserAffinity)}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) InsertKnowledge(ctx context.Context, item *storage.KnowledgeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = s.id()
	}
	item.CreatedAt = time.Now()
	s.Knowledge = append(s.Knowledge, item)
	return nil
}

func (s *Store) GlobalKnowledge(ctx context.Context, limit int) ([]*storage.KnowledgeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*storage.KnowledgeItem
	for _, item := range s.Knowledge {
		if item.IsGlobal && (item.ValidationStatus == storage.ValidationValidated || item.SourceType == storage.SourceStatic) {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CompanionKnowledge(ctx context.Context, companionID string, limit int) ([]*storage.KnowledgeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*storage.KnowledgeItem
	for _, item := range s.Knowledge {
		if !item.IsGlobal && item.CompanionID == companionID {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) SearchGlobalKnowledge(ctx context.Context, embedding []float64, minScore float64, limit int) ([]*storage.KnowledgeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*storage.KnowledgeItem
	for _, item := range s.Knowledge {
		if !item.IsGlobal {
			continue
		}
		score := cosine(embedding, item.Embedding)
		if score >= minScore {
			copied := *item
			copied.Score = score
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) IncrementValidation(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.Knowledge {
		if item.ID == id {
			item.ValidationCount++
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) TouchKnowledge(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, item := range s.Knowledge {
		for _, id := range ids {
			if item.ID == id {
				item.LastUsedAt = &now
			}
		}
	}
	return nil
}

func (s *Store) UpsertUserContext(ctx context.Context, entry *storage.UserContextEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.UpdatedAt = time.Now()
	for i, existing := range s.Context {
		if existing.UserID == entry.UserID && existing.CompanionID == entry.CompanionID &&
			existing.ContextType == entry.ContextType && existing.Key == entry.Key {
			entry.ID = existing.ID
			s.Context[i] = entry
			return nil
		}
	}
	if entry.ID == 0 {
		entry.ID = s.id()
	}
	s.Context = append(s.Context, entry)
	return nil
}

func (s *Store) UserContext(ctx context.Context, userID, companionID string, limit int) ([]*storage.UserContextEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*storage.UserContextEntry
	for _, e := range s.Context {
		if e.UserID != userID || e.ContextType == storage.ContextTypeSystem {
			continue
		}
		if e.CompanionID != companionID && !e.CrossCompanion {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UserContextValue(ctx context.Context, userID, companionID, contextType, key string) (*storage.UserContextEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, e := range s.Context {
		if e.UserID == userID && e.CompanionID == companionID &&
			e.ContextType == contextType && e.Key == key {
			return e, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) UpsertPerson(ctx context.Context, person *storage.SocialGraphPerson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, existing := range s.Persons {
		if existing.UserID == person.UserID && existing.CompanionID == person.CompanionID &&
			strings.EqualFold(existing.PersonName, person.PersonName) {
			existing.MentionCount++
			existing.LastMentionedAt = now
			if person.Relationship != "" {
				existing.Relationship = person.Relationship
			}
			if person.Context != "" {
				existing.Context = person.Context
			}
			if person.Sentiment != "" {
				existing.Sentiment = person.Sentiment
			}
			return nil
		}
	}
	if person.ID == 0 {
		person.ID = s.id()
	}
	person.MentionCount = 1
	person.FirstMentionedAt = now
	person.LastMentionedAt = now
	s.Persons = append(s.Persons, person)
	return nil
}

func (s *Store) People(ctx context.Context, userID, companionID string, limit int) ([]*storage.SocialGraphPerson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*storage.SocialGraphPerson
	for _, p := range s.Persons {
		if p.UserID == userID && p.CompanionID == companionID {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) InsertGoal(ctx context.Context, goal *storage.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if goal.ID == 0 {
		goal.ID = s.id()
	}
	goal.CreatedAt = time.Now()
	s.Goals = append(s.Goals, goal)
	return nil
}

func (s *Store) GoalsByStatus(ctx context.Context, userID, companionID string, statuses []storage.GoalStatus, limit int) ([]*storage.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*storage.Goal
	for _, g := range s.Goals {
		if g.UserID != userID || g.CompanionID != companionID {
			continue
		}
		for _, status := range statuses {
			if g.Status == status {
				out = append(out, g)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CompleteGoal(ctx context.Context, id int64, achievedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.Goals {
		if g.ID == id && g.Status == storage.GoalActive {
			g.Status = storage.GoalCompleted
			g.AchievedAt = &achievedAt
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) InsertFeedback(ctx context.Context, feedback *storage.InteractionFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if feedback.ID == 0 {
		feedback.ID = s.id()
	}
	s.Feedback = append(s.Feedback, feedback)
	return nil
}

func (s *Store) RecentFeedback(ctx context.Context, userID, companionID string, limit int) ([]*storage.InteractionFeedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*storage.InteractionFeedback
	for _, f := range s.Feedback {
		if f.UserID == userID && f.CompanionID == companionID {
			out = append(out, f)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Affinity(ctx context.Context, userID, companionID string) (*storage.UserAffinity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	a, ok := s.Affinity_[userID+"/"+companionID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return a, nil
}

func (s *Store) UpsertAffinity(ctx context.Context, affinity *storage.UserAffinity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := affinity.UserID + "/" + affinity.CompanionID
	if existing, ok := s.Affinity_[key]; ok && existing.AffinityLevel > affinity.AffinityLevel {
		affinity.AffinityLevel = existing.AffinityLevel
	}
	s.Affinity_[key] = affinity
	return nil
}

func (s *Store) EnqueuePending(ctx context.Context, pending *storage.PendingKnowledge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending.ID == 0 {
		pending.ID = s.id()
	}
	pending.Status = storage.PendingNew
	pending.CreatedAt = time.Now()
	s.Pending = append(s.Pending, pending)
	return nil
}

func (s *Store) ClaimPending(ctx context.Context, owner string, limit int, leaseUntil time.Time) ([]*storage.PendingKnowledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	now := time.Now()
	var claimed []*storage.PendingKnowledge
	for _, p := range s.Pending {
		if len(claimed) == limit {
			break
		}
		reclaimable := p.Status == storage.PendingProcessing &&
			p.ClaimExpiresAt != nil && p.ClaimExpiresAt.Before(now)
		if p.Status != storage.PendingNew && !reclaimable {
			continue
		}
		p.Status = storage.PendingProcessing
		p.ClaimOwner = owner
		expires := leaseUntil
		p.ClaimExpiresAt = &expires
		claimed = append(claimed, p)
	}
	return claimed, nil
}

func (s *Store) ResolvePending(ctx context.Context, id int64, status storage.PendingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Pending {
		if p.ID == id {
			p.Status = status
			p.ClaimOwner = ""
			p.ClaimExpiresAt = nil
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) GrantTokens(ctx context.Context, userID string, amount int64, reason string, goalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tokens = append(s.Tokens, TokenGrant{UserID: userID, Amount: amount, Reason: reason, GoalID: goalID})
	return nil
}

func (s *Store) InsertCrisisLog(ctx context.Context, log *storage.CrisisLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CrisisLog = append(s.CrisisLog, log)
	return nil
}

func (s *Store) InsertSessionSummary(ctx context.Context, summary *storage.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Summaries = append(s.Summaries, summary)
	return nil
}

func (s *Store) InsertSessionInsight(ctx context.Context, insight *storage.SessionInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Insights = append(s.Insights, insight)
	return nil
}

func (s *Store) Close() error { return nil }

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
