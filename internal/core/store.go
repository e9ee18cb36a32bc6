package core

import (
	"context"

	"intake-assistant/pkg"
)

// Store persists conversations and everything recorded about them.
// Lookups of missing rows return an error wrapping apperr.ErrNotFound,
// except GetSummary which returns nil, nil.
type Store interface {
	GetOrCreateUser(ctx context.Context, userID string) (*pkg.User, error)

	CreateConversation(ctx context.Context, c *pkg.Conversation) error
	GetConversation(ctx context.Context, sessionID string) (*pkg.Conversation, error)
	UpdateConversation(ctx context.Context, c *pkg.Conversation) error
	ListConversationsByUser(ctx context.Context, userID string) ([]pkg.Conversation, error)
	// ListActiveConversations returns ACTIVE and PAUSED conversations.
	ListActiveConversations(ctx context.Context) ([]pkg.Conversation, error)

	CreateMessage(ctx context.Context, m *pkg.Message) error
	GetTranscript(ctx context.Context, sessionID string) ([]pkg.Message, error)

	// TrackQuestion inserts the question or, when a question with the same
	// hash exists in the session, increments its attempt count. The bool
	// reports whether the question already existed.
	TrackQuestion(ctx context.Context, q *pkg.QuestionRecord) (*pkg.QuestionRecord, bool, error)
	UpdateQuestion(ctx context.Context, q *pkg.QuestionRecord) error
	ListQuestions(ctx context.Context, sessionID string) ([]pkg.QuestionRecord, error)

	UpsertCompletenessCheck(ctx context.Context, c *pkg.CompletenessCheck) error
	CreateEmergencyAlert(ctx context.Context, a *pkg.EmergencyAlert) error
	ListEmergencyAlerts(ctx context.Context, sessionID string) ([]pkg.EmergencyAlert, error)
	CreateTimeoutEvent(ctx context.Context, e *pkg.TimeoutEvent) error
	SaveSymptom(ctx context.Context, s *pkg.Symptom) error

	GetSummary(ctx context.Context, sessionID string) (*pkg.Summary, error)
	UpsertSummary(ctx context.Context, s *pkg.Summary) error

	Ping(ctx context.Context) error
}

// ContextCache holds conversation memory snapshots between turns. Get
// returns nil, nil on a miss.
type ContextCache interface {
	Get(ctx context.Context, sessionID string) (*pkg.ConversationContext, error)
	Set(ctx context.Context, c *pkg.ConversationContext) error
	Delete(ctx context.Context, sessionID string) error
}

// Publisher broadcasts session events to dashboards.
type Publisher interface {
	Publish(ctx context.Context, ev pkg.SessionEvent) error
}
