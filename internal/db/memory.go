package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"intake-assistant/pkg"
)

// MemoryStore keeps everything in process memory. It is used when no
// database is configured and in tests; values are copied in and out so
// callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	users     map[string]*pkg.User
	convs     map[string]*pkg.Conversation
	messages  map[string][]pkg.Message
	questions map[string][]pkg.QuestionRecord
	checks    map[string]pkg.CompletenessCheck
	alerts    map[string][]pkg.EmergencyAlert
	timeouts  map[string][]pkg.TimeoutEvent
	symptoms  map[string][]pkg.Symptom
	summaries map[string]pkg.Summary
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*pkg.User),
		convs:     make(map[string]*pkg.Conversation),
		messages:  make(map[string][]pkg.Message),
		questions: make(map[string][]pkg.QuestionRecord),
		checks:    make(map[string]pkg.CompletenessCheck),
		alerts:    make(map[string][]pkg.EmergencyAlert),
		timeouts:  make(map[string][]pkg.TimeoutEvent),
		symptoms:  make(map[string][]pkg.Symptom),
		summaries: make(map[string]pkg.Summary),
	}
}

func (s *MemoryStore) id() int64 {
	s.seq++
	return s.seq
}

func cloneConversation(c *pkg.Conversation) *pkg.Conversation {
	out := *c
	out.CollectedData = make(map[string]any, len(c.CollectedData))
	for k, v := range c.CollectedData {
		out.CollectedData[k] = v
	}
	out.RedFlags = append([]string{}, c.RedFlags...)
	out.SkippedQuestions = append([]pkg.SkipEntry{}, c.SkippedQuestions...)
	out.UnclearResponses = append([]pkg.UnclearEntry{}, c.UnclearResponses...)
	if c.AgentContext.ContextUpdate != nil {
		out.AgentContext.ContextUpdate = make(map[string]any, len(c.AgentContext.ContextUpdate))
		for k, v := range c.AgentContext.ContextUpdate {
			out.AgentContext.ContextUpdate[k] = v
		}
	}
	return &out
}

func (s *MemoryStore) GetOrCreateUser(_ context.Context, userID string) (*pkg.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	u, ok := s.users[userID]
	if !ok {
		u = &pkg.User{ID: s.id(), UserID: userID, CreatedAt: now}
		s.users[userID] = u
	}
	u.LastActive = now
	out := *u
	return &out, nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, c *pkg.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	s.convs[c.SessionID] = cloneConversation(c)
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, sessionID string) (*pkg.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[sessionID]
	if !ok {
		return nil, notFound("conversation", sessionID)
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) UpdateConversation(_ context.Context, c *pkg.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[c.SessionID]; !ok {
		return notFound("conversation", c.SessionID)
	}
	s.convs[c.SessionID] = cloneConversation(c)
	return nil
}

func (s *MemoryStore) listConversations(keep func(*pkg.Conversation) bool) []pkg.Conversation {
	var out []pkg.Conversation
	for _, c := range s.convs {
		if keep(c) {
			out = append(out, *cloneConversation(c))
		}
	}
	return out
}

func (s *MemoryStore) ListConversationsByUser(_ context.Context, userID string) ([]pkg.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.listConversations(func(c *pkg.Conversation) bool { return c.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) ListActiveConversations(_ context.Context) ([]pkg.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.listConversations(func(c *pkg.Conversation) bool {
		return c.Status == pkg.StatusActive || c.Status == pkg.StatusPaused
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.Before(out[j].LastActivity) })
	return out, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, m *pkg.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], *m)
	return nil
}

func (s *MemoryStore) GetTranscript(_ context.Context, sessionID string) ([]pkg.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]pkg.Message(nil), s.messages[sessionID]...), nil
}

func (s *MemoryStore) TrackQuestion(_ context.Context, q *pkg.QuestionRecord) (*pkg.QuestionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.questions[q.SessionID]
	for i := range qs {
		if qs[i].QuestionHash == q.QuestionHash {
			qs[i].AttemptCount++
			qs[i].Status = q.Status
			qs[i].LastAskedAt = q.LastAskedAt
			out := qs[i]
			return &out, true, nil
		}
	}
	rec := *q
	rec.ID = s.id()
	s.questions[q.SessionID] = append(qs, rec)
	return &rec, false, nil
}

func (s *MemoryStore) UpdateQuestion(_ context.Context, q *pkg.QuestionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.questions[q.SessionID]
	for i := range qs {
		if qs[i].QuestionID == q.QuestionID {
			qs[i].Status = q.Status
			qs[i].UserResponse = q.UserResponse
			qs[i].ResponseClarity = q.ResponseClarity
			qs[i].NeedsFollowup = q.NeedsFollowup
			qs[i].SkipReason = q.SkipReason
			qs[i].AttemptCount = q.AttemptCount
			qs[i].AnsweredAt = q.AnsweredAt
			return nil
		}
	}
	return notFound("question", q.QuestionID)
}

func (s *MemoryStore) ListQuestions(_ context.Context, sessionID string) ([]pkg.QuestionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]pkg.QuestionRecord(nil), s.questions[sessionID]...), nil
}

func (s *MemoryStore) UpsertCompletenessCheck(_ context.Context, c *pkg.CompletenessCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[c.SessionID] = *c
	return nil
}

// CompletenessCheck returns the stored check for a session.
func (s *MemoryStore) CompletenessCheck(sessionID string) (pkg.CompletenessCheck, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checks[sessionID]
	return c, ok
}

func (s *MemoryStore) CreateEmergencyAlert(_ context.Context, a *pkg.EmergencyAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	s.alerts[a.SessionID] = append(s.alerts[a.SessionID], *a)
	return nil
}

func (s *MemoryStore) ListEmergencyAlerts(_ context.Context, sessionID string) ([]pkg.EmergencyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]pkg.EmergencyAlert(nil), s.alerts[sessionID]...), nil
}

func (s *MemoryStore) CreateTimeoutEvent(_ context.Context, e *pkg.TimeoutEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	s.timeouts[e.SessionID] = append(s.timeouts[e.SessionID], *e)
	return nil
}

// TimeoutEvents returns the timeout events recorded for a session.
func (s *MemoryStore) TimeoutEvents(sessionID string) []pkg.TimeoutEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]pkg.TimeoutEvent(nil), s.timeouts[sessionID]...)
}

func (s *MemoryStore) SaveSymptom(_ context.Context, sym *pkg.Symptom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym.ID = s.id()
	s.symptoms[sym.SessionID] = append(s.symptoms[sym.SessionID], *sym)
	return nil
}

// Symptoms returns the symptoms recorded for a session.
func (s *MemoryStore) Symptoms(sessionID string) []pkg.Symptom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]pkg.Symptom(nil), s.symptoms[sessionID]...)
}

func (s *MemoryStore) GetSummary(_ context.Context, sessionID string) (*pkg.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	return &sum, nil
}

func (s *MemoryStore) UpsertSummary(_ context.Context, sum *pkg.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.summaries[sum.SessionID]; ok {
		sum.ID = old.ID
	} else {
		sum.ID = s.id()
	}
	s.summaries[sum.SessionID] = *sum
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
