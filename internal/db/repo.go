package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"intake-assistant/internal/apperr"
	"intake-assistant/pkg"
)

// Repository is the Postgres implementation of the conversation store.
// Structured fields are kept in JSONB columns, string lists in TEXT[].
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
}

// dbErr wraps a failed statement. Lost or refused connections become
// apperr.Unavailable so callers answer 503 instead of 500.
func dbErr(op string, err error) error {
	var netErr *net.OpError
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return apperr.Unavailable("database unavailable: "+op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func jsonValue(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return b, nil
}

func scanJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// GetOrCreateUser inserts the user on first contact and refreshes
// last_active otherwise.
func (r *Repository) GetOrCreateUser(ctx context.Context, userID string) (*pkg.User, error) {
	var (
		u   pkg.User
		age sql.NullInt64
		sex sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO users (user_id) VALUES ($1)
         ON CONFLICT (user_id) DO UPDATE SET last_active = NOW()
         RETURNING id, user_id, age, biological_sex, created_at, last_active`,
		userID,
	).Scan(&u.ID, &u.UserID, &age, &sex, &u.CreatedAt, &u.LastActive)
	if err != nil {
		return nil, dbErr("upsert user", err)
	}
	if age.Valid {
		n := int(age.Int64)
		u.Age = &n
	}
	if sex.Valid {
		u.BiologicalSex = &sex.String
	}
	return &u, nil
}

const conversationColumns = `id, session_id, user_id, status, current_phase, current_field,
    emergency_level, red_flags, collected_data, agent_context, completeness_level,
    completion_score, completion_readiness, min_data_threshold_met, can_be_saved,
    skipped_questions, unclear_responses, last_activity, timeout_warnings, last_timeout_warning,
    idle_timeout_minutes, session_timeout_minutes, can_resume, resume_count, last_resume_at,
    requested_human_handoff, handoff_reason, started_at, updated_at, completed_at`

func scanConversation(row rowScanner) (*pkg.Conversation, error) {
	var (
		c                            pkg.Conversation
		data, agent, skipped, unclear []byte
		lastWarning, lastResume, done sql.NullTime
	)
	err := row.Scan(&c.ID, &c.SessionID, &c.UserID, &c.Status, &c.CurrentPhase, &c.CurrentField,
		&c.EmergencyLevel, pq.Array(&c.RedFlags), &data, &agent, &c.CompletenessLevel,
		&c.CompletionScore, &c.CompletionReadiness, &c.MinDataThresholdMet, &c.CanBeSaved,
		&skipped, &unclear, &c.LastActivity, &c.TimeoutWarnings, &lastWarning,
		&c.IdleTimeoutMinutes, &c.SessionTimeoutMinutes, &c.CanResume, &c.ResumeCount, &lastResume,
		&c.RequestedHandoff, &c.HandoffReason, &c.StartedAt, &c.UpdatedAt, &done)
	if err != nil {
		return nil, err
	}
	if err := scanJSON(data, &c.CollectedData); err != nil {
		return nil, err
	}
	if err := scanJSON(agent, &c.AgentContext); err != nil {
		return nil, err
	}
	if err := scanJSON(skipped, &c.SkippedQuestions); err != nil {
		return nil, err
	}
	if err := scanJSON(unclear, &c.UnclearResponses); err != nil {
		return nil, err
	}
	if c.CollectedData == nil {
		c.CollectedData = map[string]any{}
	}
	if c.RedFlags == nil {
		c.RedFlags = []string{}
	}
	c.LastTimeoutWarning = timePtr(lastWarning)
	c.LastResumeAt = timePtr(lastResume)
	c.CompletedAt = timePtr(done)
	return &c, nil
}

// conversationArgs returns the mutable columns in the order used by
// CreateConversation and UpdateConversation, starting at $2.
func conversationArgs(c *pkg.Conversation) ([]any, error) {
	data, err := jsonValue(emptyMap(c.CollectedData))
	if err != nil {
		return nil, err
	}
	agent, err := jsonValue(c.AgentContext)
	if err != nil {
		return nil, err
	}
	skipped, err := jsonValue(emptySlice(c.SkippedQuestions))
	if err != nil {
		return nil, err
	}
	unclear, err := jsonValue(emptySlice(c.UnclearResponses))
	if err != nil {
		return nil, err
	}
	flags := c.RedFlags
	if flags == nil {
		flags = []string{}
	}
	return []any{
		c.UserID, c.Status, c.CurrentPhase, c.CurrentField,
		c.EmergencyLevel, pq.Array(flags), data, agent, c.CompletenessLevel,
		c.CompletionScore, c.CompletionReadiness, c.MinDataThresholdMet, c.CanBeSaved,
		skipped, unclear, c.LastActivity, c.TimeoutWarnings, nullTime(c.LastTimeoutWarning),
		c.IdleTimeoutMinutes, c.SessionTimeoutMinutes, c.CanResume, c.ResumeCount, nullTime(c.LastResumeAt),
		c.RequestedHandoff, c.HandoffReason, c.StartedAt, c.UpdatedAt, nullTime(c.CompletedAt),
	}, nil
}

func emptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// CreateConversation inserts a new conversation and sets its ID.
func (r *Repository) CreateConversation(ctx context.Context, c *pkg.Conversation) error {
	args, err := conversationArgs(c)
	if err != nil {
		return err
	}
	err = r.DB.QueryRowContext(ctx,
		`INSERT INTO conversations (session_id, user_id, status, current_phase, current_field,
            emergency_level, red_flags, collected_data, agent_context, completeness_level,
            completion_score, completion_readiness, min_data_threshold_met, can_be_saved,
            skipped_questions, unclear_responses, last_activity, timeout_warnings, last_timeout_warning,
            idle_timeout_minutes, session_timeout_minutes, can_resume, resume_count, last_resume_at,
            requested_human_handoff, handoff_reason, started_at, updated_at, completed_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
                 $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
         RETURNING id`,
		append([]any{c.SessionID}, args...)...,
	).Scan(&c.ID)
	if err != nil {
		return dbErr("insert conversation", err)
	}
	return nil
}

// GetConversation loads a conversation by session id.
func (r *Repository) GetConversation(ctx context.Context, sessionID string) (*pkg.Conversation, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE session_id = $1`, sessionID)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("conversation", sessionID)
		}
		return nil, dbErr("select conversation", err)
	}
	return c, nil
}

// UpdateConversation writes every mutable column of c.
func (r *Repository) UpdateConversation(ctx context.Context, c *pkg.Conversation) error {
	args, err := conversationArgs(c)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE conversations SET
            user_id = $2, status = $3, current_phase = $4, current_field = $5,
            emergency_level = $6, red_flags = $7, collected_data = $8, agent_context = $9,
            completeness_level = $10, completion_score = $11, completion_readiness = $12,
            min_data_threshold_met = $13, can_be_saved = $14, skipped_questions = $15,
            unclear_responses = $16, last_activity = $17, timeout_warnings = $18,
            last_timeout_warning = $19, idle_timeout_minutes = $20, session_timeout_minutes = $21,
            can_resume = $22, resume_count = $23, last_resume_at = $24,
            requested_human_handoff = $25, handoff_reason = $26, started_at = $27,
            updated_at = $28, completed_at = $29
         WHERE session_id = $1`,
		append([]any{c.SessionID}, args...)...,
	)
	if err != nil {
		return dbErr("update conversation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("update conversation", err)
	}
	if n == 0 {
		return notFound("conversation", c.SessionID)
	}
	return nil
}

func (r *Repository) listConversations(ctx context.Context, query string, args ...any) ([]pkg.Conversation, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("select conversations", err)
	}
	defer rows.Close()
	var out []pkg.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListConversationsByUser returns the user's conversations, newest first.
func (r *Repository) ListConversationsByUser(ctx context.Context, userID string) ([]pkg.Conversation, error) {
	return r.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_id = $1 ORDER BY started_at DESC`, userID)
}

// ListActiveConversations returns conversations the timeout sweeper must check.
func (r *Repository) ListActiveConversations(ctx context.Context) ([]pkg.Conversation, error) {
	return r.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE status IN ($1, $2) ORDER BY last_activity ASC`,
		pkg.StatusActive, pkg.StatusPaused)
}

// CreateMessage stores a message and sets its ID.
func (r *Repository) CreateMessage(ctx context.Context, m *pkg.Message) error {
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO messages (session_id, role, content, phase, medical_category, created_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id`,
		m.SessionID, m.Role, m.Content, m.Phase, m.MedicalCategory, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return dbErr("insert message", err)
	}
	return nil
}

// GetTranscript returns the session's messages in insertion order.
func (r *Repository) GetTranscript(ctx context.Context, sessionID string) ([]pkg.Message, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, session_id, role, content, phase, medical_category, created_at
         FROM messages
         WHERE session_id = $1
         ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, dbErr("select messages", err)
	}
	defer rows.Close()
	var transcript []pkg.Message
	for rows.Next() {
		var m pkg.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Phase, &m.MedicalCategory, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		transcript = append(transcript, m)
	}
	return transcript, rows.Err()
}

const questionColumns = `id, session_id, question_id, question_category, question_text, question_hash,
    status, user_response, response_clarity, needs_followup, skip_reason, attempt_count,
    max_attempts, last_asked_at, answered_at, created_at`

func scanQuestion(row rowScanner, extra ...any) (*pkg.QuestionRecord, error) {
	var (
		q        pkg.QuestionRecord
		answered sql.NullTime
	)
	dest := []any{&q.ID, &q.SessionID, &q.QuestionID, &q.Category, &q.QuestionText, &q.QuestionHash,
		&q.Status, &q.UserResponse, &q.ResponseClarity, &q.NeedsFollowup, &q.SkipReason, &q.AttemptCount,
		&q.MaxAttempts, &q.LastAskedAt, &answered, &q.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	q.AnsweredAt = timePtr(answered)
	return &q, nil
}

// TrackQuestion inserts q or, when the session already has a question with
// the same hash, bumps its attempt count and reopens it.
func (r *Repository) TrackQuestion(ctx context.Context, q *pkg.QuestionRecord) (*pkg.QuestionRecord, bool, error) {
	var existed bool
	row := r.DB.QueryRowContext(ctx,
		`INSERT INTO question_tracking (session_id, question_id, question_category, question_text,
            question_hash, status, attempt_count, max_attempts, last_asked_at, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
         ON CONFLICT (session_id, question_hash) DO UPDATE SET
            attempt_count = question_tracking.attempt_count + 1,
            status = EXCLUDED.status,
            last_asked_at = EXCLUDED.last_asked_at
         RETURNING `+questionColumns+`, (xmax <> 0) AS existed`,
		q.SessionID, q.QuestionID, q.Category, q.QuestionText,
		q.QuestionHash, q.Status, q.AttemptCount, q.MaxAttempts, q.LastAskedAt, q.CreatedAt,
	)
	rec, err := scanQuestion(row, &existed)
	if err != nil {
		return nil, false, dbErr("track question", err)
	}
	return rec, existed, nil
}

// UpdateQuestion writes the answer state of a tracked question.
func (r *Repository) UpdateQuestion(ctx context.Context, q *pkg.QuestionRecord) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE question_tracking SET
            status = $3, user_response = $4, response_clarity = $5, needs_followup = $6,
            skip_reason = $7, attempt_count = $8, answered_at = $9
         WHERE session_id = $1 AND question_id = $2`,
		q.SessionID, q.QuestionID, q.Status, q.UserResponse, q.ResponseClarity, q.NeedsFollowup,
		q.SkipReason, q.AttemptCount, nullTime(q.AnsweredAt),
	)
	if err != nil {
		return dbErr("update question", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("question", q.QuestionID)
	}
	return nil
}

// ListQuestions returns the session's tracked questions in creation order.
func (r *Repository) ListQuestions(ctx context.Context, sessionID string) ([]pkg.QuestionRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM question_tracking WHERE session_id = $1 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, dbErr("select questions", err)
	}
	defer rows.Close()
	var out []pkg.QuestionRecord
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// UpsertCompletenessCheck stores the latest completeness evaluation.
func (r *Repository) UpsertCompletenessCheck(ctx context.Context, c *pkg.CompletenessCheck) error {
	cats, err := jsonValue(c.CategoryComplete)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO data_completeness_checks (session_id, category_complete, min_fields_required,
            min_fields_collected, points_earned, completion_percentage, meets_storage_threshold,
            can_complete_session, last_calculated)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
         ON CONFLICT (session_id) DO UPDATE SET
            category_complete = EXCLUDED.category_complete,
            min_fields_required = EXCLUDED.min_fields_required,
            min_fields_collected = EXCLUDED.min_fields_collected,
            points_earned = EXCLUDED.points_earned,
            completion_percentage = EXCLUDED.completion_percentage,
            meets_storage_threshold = EXCLUDED.meets_storage_threshold,
            can_complete_session = EXCLUDED.can_complete_session,
            last_calculated = EXCLUDED.last_calculated`,
		c.SessionID, cats, c.MinFieldsRequired, c.FieldsCollected, c.PointsEarned,
		c.CompletionPercentage, c.MeetsStorageThreshold, c.CanCompleteSession, c.LastCalculated,
	)
	if err != nil {
		return dbErr("upsert completeness check", err)
	}
	return nil
}

// CreateEmergencyAlert stores an alert and sets its ID.
func (r *Repository) CreateEmergencyAlert(ctx context.Context, a *pkg.EmergencyAlert) error {
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO emergency_alerts (session_id, user_id, alert_type, severity, trigger_symptoms,
            recommendation, user_notified, escalated, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
         RETURNING id`,
		a.SessionID, a.UserID, a.AlertType, a.Severity, pq.Array(emptySlice(a.TriggerSymptoms)),
		a.Recommendation, a.UserNotified, a.Escalated, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return dbErr("insert emergency alert", err)
	}
	return nil
}

// ListEmergencyAlerts returns the session's alerts, oldest first.
func (r *Repository) ListEmergencyAlerts(ctx context.Context, sessionID string) ([]pkg.EmergencyAlert, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, session_id, user_id, alert_type, severity, trigger_symptoms, recommendation,
            user_notified, escalated, created_at, resolved_at
         FROM emergency_alerts
         WHERE session_id = $1
         ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, dbErr("select emergency alerts", err)
	}
	defer rows.Close()
	var out []pkg.EmergencyAlert
	for rows.Next() {
		var (
			a        pkg.EmergencyAlert
			resolved sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.AlertType, &a.Severity,
			pq.Array(&a.TriggerSymptoms), &a.Recommendation, &a.UserNotified, &a.Escalated,
			&a.CreatedAt, &resolved); err != nil {
			return nil, fmt.Errorf("scan emergency alert: %w", err)
		}
		a.ResolvedAt = timePtr(resolved)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateTimeoutEvent stores a timeout warning or transition.
func (r *Repository) CreateTimeoutEvent(ctx context.Context, e *pkg.TimeoutEvent) error {
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO timeout_events (session_id, event_type, timeout_duration, warning_message,
            user_responded, occurred_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id`,
		e.SessionID, e.EventType, e.TimeoutDuration, e.WarningMessage, e.UserResponded, e.OccurredAt,
	).Scan(&e.ID)
	if err != nil {
		return dbErr("insert timeout event", err)
	}
	return nil
}

// SaveSymptom stores the symptom row written when a session finishes.
func (r *Repository) SaveSymptom(ctx context.Context, s *pkg.Symptom) error {
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO symptoms (session_id, name, description, is_primary, onset, location, duration,
            character, aggravating_factors, relieving_factors, timing, severity, radiation,
            progression, related_symptoms, treatment_attempted, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
         RETURNING id`,
		s.SessionID, s.Name, s.Description, s.IsPrimary, s.Onset, s.Location, s.Duration,
		s.Character, s.AggravatingFactors, s.RelievingFactors, s.Timing, s.Severity, s.Radiation,
		s.Progression, s.RelatedSymptoms, s.TreatmentAttempted, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return dbErr("insert symptom", err)
	}
	return nil
}

// GetSummary returns the insight summary, or nil when none was generated.
func (r *Repository) GetSummary(ctx context.Context, sessionID string) (*pkg.Summary, error) {
	var (
		s          pkg.Summary
		structured []byte
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, session_id, key_points, structured, free_text, updated_at
         FROM summaries WHERE session_id = $1`, sessionID,
	).Scan(&s.ID, &s.SessionID, pq.Array(&s.KeyPoints), &structured, &s.FreeText, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, dbErr("select summary", err)
	}
	if err := scanJSON(structured, &s.Structured); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSummary inserts or replaces the session's insight summary.
func (r *Repository) UpsertSummary(ctx context.Context, s *pkg.Summary) error {
	structured, err := jsonValue(emptyMap(s.Structured))
	if err != nil {
		return err
	}
	err = r.DB.QueryRowContext(ctx,
		`INSERT INTO summaries (session_id, key_points, structured, free_text, updated_at)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (session_id) DO UPDATE SET
            key_points = EXCLUDED.key_points,
            structured = EXCLUDED.structured,
            free_text = EXCLUDED.free_text,
            updated_at = EXCLUDED.updated_at
         RETURNING id`,
		s.SessionID, pq.Array(emptySlice(s.KeyPoints)), structured, s.FreeText, s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		return dbErr("upsert summary", err)
	}
	return nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}
