package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intake-assistant/internal/apperr"
	"intake-assistant/internal/config"
	"intake-assistant/internal/metrics"
	"intake-assistant/pkg"
)

const summaryTimeout = 90 * time.Second

// TokenIssuer signs session tokens returned to clients with a new session.
type TokenIssuer interface {
	Issue(userID, sessionID string) (string, error)
}

// ChatService runs patient turns through the engine and persists
// everything the turn produced.
type ChatService struct {
	store      Store
	engine     *Engine
	summarizer *Summarizer
	cache      ContextCache
	publisher  Publisher
	tokens     TokenIssuer
	cfg        config.IntakeConfig
	logger     *zap.Logger
	now        func() time.Time

	locks *keyedMutex
	wg    sync.WaitGroup
}

// Option configures optional ChatService collaborators.
type Option func(*ChatService)

// WithCache stores conversation memory snapshots in c.
func WithCache(c ContextCache) Option { return func(s *ChatService) { s.cache = c } }

// WithPublisher broadcasts session events through p.
func WithPublisher(p Publisher) Option { return func(s *ChatService) { s.publisher = p } }

// WithTokenIssuer issues a session token for every new session.
func WithTokenIssuer(t TokenIssuer) Option { return func(s *ChatService) { s.tokens = t } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *ChatService) { s.now = now } }

// NewChatService constructs a ChatService.
func NewChatService(store Store, engine *Engine, summarizer *Summarizer, cfg config.IntakeConfig, logger *zap.Logger, opts ...Option) *ChatService {
	s := &ChatService{
		store:      store,
		engine:     engine,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger.Named("chat"),
		now:        time.Now,
		locks:      newKeyedMutex(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Wait blocks until background summaries have finished.
func (s *ChatService) Wait() { s.wg.Wait() }

// Reply processes one patient message. An empty SessionID starts a new
// session for the user.
func (s *ChatService) Reply(ctx context.Context, req pkg.ChatRequest) (*pkg.ChatResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	message := strings.TrimSpace(req.Message)
	if userID == "" {
		return nil, apperr.BadRequest("user_id is required")
	}
	if message == "" {
		return nil, apperr.BadRequest("message is required")
	}

	now := s.now()
	var (
		conv  *pkg.Conversation
		token string
		err   error
	)
	if req.SessionID == "" {
		conv, err = s.startSession(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		if s.tokens != nil {
			if token, err = s.tokens.Issue(userID, conv.SessionID); err != nil {
				return nil, apperr.Wrap(err, "issue session token")
			}
		}
	}

	sessionID := req.SessionID
	if conv != nil {
		sessionID = conv.SessionID
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if conv == nil {
		if conv, err = s.loadForTurn(ctx, sessionID, userID, now); err != nil {
			return nil, err
		}
	}
	Touch(conv, now)

	userMsg := &pkg.Message{
		SessionID:       conv.SessionID,
		Role:            pkg.RoleUser,
		Content:         message,
		Phase:           conv.CurrentPhase,
		MedicalCategory: conv.CurrentField,
		CreatedAt:       now,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, apperr.Wrap(err, "save message")
	}

	if IsHandoffRequest(message) {
		return s.handoffTurn(ctx, conv, message, token, now)
	}

	questions, err := s.store.ListQuestions(ctx, conv.SessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load questions")
	}
	open := openQuestion(questions)

	userSkipped := IsSkipRequest(message)
	if userSkipped {
		if err := s.skipOpenQuestion(ctx, conv, open, "user_preference", now); err != nil {
			return nil, err
		}
		open = nil
	}

	transcript, err := s.store.GetTranscript(ctx, conv.SessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load transcript")
	}
	memory := s.memory(ctx, conv, transcript, questions)

	state := NewState(conv, transcript, memory.QuestionAttempts)
	state.Tone = memory.Tone
	state.UserSkipped = userSkipped
	if err := s.engine.Run(ctx, state); err != nil {
		return nil, apperr.Wrap(err, "run conversation engine")
	}

	for _, r := range state.Replies {
		m := &pkg.Message{
			SessionID:       conv.SessionID,
			Role:            pkg.RoleAssistant,
			Content:         r.Content,
			Phase:           replyPhase(r),
			MedicalCategory: r.Field,
			CreatedAt:       now,
		}
		if err := s.store.CreateMessage(ctx, m); err != nil {
			return nil, apperr.Wrap(err, "save reply")
		}
		transcript = append(transcript, *m)
		conv.CurrentPhase = m.Phase
	}

	if err := s.trackQuestions(ctx, conv, state, open, message, now); err != nil {
		return nil, err
	}

	conv.CollectedData = state.Collected
	conv.AgentContext = state.Context
	conv.AgentContext.CommunicationStyle = state.Tone
	conv.CurrentField = state.CurrentField
	conv.EmergencyLevel = state.Emergency
	conv.RedFlags = state.RedFlags
	conv.CompletionReadiness = state.Readiness

	report := EvaluateCompleteness(conv.CollectedData)
	report.Apply(conv)
	if err := s.store.UpsertCompletenessCheck(ctx, report.Check(conv.SessionID, now)); err != nil {
		s.logger.Warn("save completeness check failed", zap.String("session_id", conv.SessionID), zap.Error(err))
	}

	switch {
	case state.EmergencyRaised:
		if err := s.raiseEmergency(ctx, conv, now); err != nil {
			return nil, err
		}
	case state.Complete:
		conv.Status = pkg.StatusCompleted
		conv.CompletedAt = &now
		conv.CanResume = false
		metrics.RecordSession("completed")
	}
	conv.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, apperr.Wrap(err, "save conversation")
	}

	if conv.Status == pkg.StatusCompleted || conv.Status == pkg.StatusEmergency {
		metrics.RecordCompletionScore(report.Percentage)
		s.finalize(ctx, conv, transcript, now)
	}
	s.refreshMemory(ctx, conv, transcript)

	s.logger.Info("turn processed",
		zap.String("session_id", conv.SessionID),
		zap.Any("path", state.Path),
		zap.String("signal", string(state.Signal)),
		zap.String("next_field", conv.CurrentField),
		zap.String("status", string(conv.Status)))

	var reply string
	if n := len(state.Replies); n > 0 {
		reply = state.Replies[n-1].Content
	}
	return s.respond(conv, transcript, reply, token), nil
}

func (s *ChatService) startSession(ctx context.Context, userID string, now time.Time) (*pkg.Conversation, error) {
	if _, err := s.store.GetOrCreateUser(ctx, userID); err != nil {
		return nil, apperr.Wrap(err, "load user")
	}
	conv := &pkg.Conversation{
		SessionID:             "vi_" + uuid.NewString(),
		UserID:                userID,
		Status:                pkg.StatusActive,
		CurrentPhase:          "greeting",
		EmergencyLevel:        pkg.EmergencyNone,
		RedFlags:              []string{},
		CollectedData:         map[string]any{},
		CompletenessLevel:     pkg.CompletenessMinimal,
		SkippedQuestions:      []pkg.SkipEntry{},
		UnclearResponses:      []pkg.UnclearEntry{},
		LastActivity:          now,
		IdleTimeoutMinutes:    s.cfg.IdleTimeoutMinutes,
		SessionTimeoutMinutes: s.cfg.SessionTimeoutMinutes,
		CanResume:             true,
		StartedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, apperr.Wrap(err, "create conversation")
	}
	metrics.RecordSession("started")
	s.logger.Info("session started", zap.String("session_id", conv.SessionID), zap.String("user_id", userID))
	return conv, nil
}

// loadForTurn fetches the conversation and applies timeouts and resumption
// before a new patient message is accepted.
func (s *ChatService) loadForTurn(ctx context.Context, sessionID, userID string, now time.Time) (*pkg.Conversation, error) {
	conv, err := s.getConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, apperr.NotFound("session", sessionID)
	}

	check, err := s.applyTimeout(ctx, conv, now, CheckSessionLimit)
	if err != nil {
		return nil, err
	}
	if conv.Status == pkg.StatusTimeout || conv.Status == pkg.StatusExpired {
		return nil, apperr.Conflict(firstNonEmpty(check.Message, "session expired"), map[string]string{"status": string(conv.Status)})
	}
	if Resume(conv, now) {
		metrics.RecordSession("resumed")
		s.logger.Info("session resumed", zap.String("session_id", sessionID), zap.Int("resume_count", conv.ResumeCount))
	}
	if conv.Status.Terminal() {
		return nil, apperr.Conflict("session is no longer accepting messages", map[string]string{"status": string(conv.Status)})
	}
	return conv, nil
}

func (s *ChatService) getConversation(ctx context.Context, sessionID string) (*pkg.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("session", sessionID)
		}
		return nil, apperr.Wrap(err, "load conversation")
	}
	return conv, nil
}

func (s *ChatService) handoffTurn(ctx context.Context, conv *pkg.Conversation, message, token string, now time.Time) (*pkg.ChatResponse, error) {
	text := RequestHandoff(conv, message)
	reply := &pkg.Message{SessionID: conv.SessionID, Role: pkg.RoleAssistant, Content: text, Phase: "handoff", CreatedAt: now}
	if err := s.store.CreateMessage(ctx, reply); err != nil {
		return nil, apperr.Wrap(err, "save reply")
	}
	conv.CurrentPhase = "handoff"
	conv.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, apperr.Wrap(err, "save conversation")
	}
	s.publish(ctx, pkg.EventHandoff, conv)
	s.logger.Info("handoff requested", zap.String("session_id", conv.SessionID), zap.Bool("paused", conv.Status == pkg.StatusPaused))

	transcript, err := s.store.GetTranscript(ctx, conv.SessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load transcript")
	}
	s.refreshMemory(ctx, conv, transcript)
	return s.respond(conv, transcript, text, token), nil
}

// openQuestion is the most recently asked question still waiting for an answer.
func openQuestion(questions []pkg.QuestionRecord) *pkg.QuestionRecord {
	var open *pkg.QuestionRecord
	for i := range questions {
		q := &questions[i]
		if q.Status != pkg.QuestionAsked {
			continue
		}
		if open == nil || !q.LastAskedAt.Before(open.LastAskedAt) {
			open = q
		}
	}
	return open
}

func (s *ChatService) skipOpenQuestion(ctx context.Context, conv *pkg.Conversation, open *pkg.QuestionRecord, reason string, now time.Time) error {
	entry := pkg.SkipEntry{Field: conv.CurrentField, SkippedAt: now, Reason: reason, CanReturnLater: true}
	if open != nil {
		entry.QuestionID = open.QuestionID
		if entry.Field == "" {
			entry.Field = open.Category
		}
		open.Status = pkg.QuestionSkipped
		open.SkipReason = reason
		open.AnsweredAt = &now
		if err := s.store.UpdateQuestion(ctx, open); err != nil {
			return apperr.Wrap(err, "update question")
		}
	}
	conv.SkippedQuestions = append(conv.SkippedQuestions, entry)
	return nil
}

// trackQuestions resolves the question the patient just answered and
// records the questions asked this turn.
func (s *ChatService) trackQuestions(ctx context.Context, conv *pkg.Conversation, state *State, open *pkg.QuestionRecord, message string, now time.Time) error {
	if open != nil && state.Signal != SignalNone {
		switch state.Signal {
		case SignalAnswered:
			open.Status = pkg.QuestionAnswered
			open.UserResponse = message
			open.ResponseClarity = "clear"
			open.AnsweredAt = &now
		case SignalUnclear:
			open.Status = pkg.QuestionUnclear
			open.UserResponse = message
			open.ResponseClarity = "vague"
			open.NeedsFollowup = true
			open.AttemptCount++
			conv.UnclearResponses = append(conv.UnclearResponses, pkg.UnclearEntry{
				QuestionID:            open.QuestionID,
				Response:              message,
				FlaggedAt:             now,
				NeedsClarification:    true,
				ClarificationAttempts: state.Context.RetryCount,
			})
		case SignalSkipped:
			open.Status = pkg.QuestionSkipped
			open.UserResponse = message
			open.SkipReason = "patient_unsure"
			open.AnsweredAt = &now
			conv.SkippedQuestions = append(conv.SkippedQuestions, pkg.SkipEntry{
				QuestionID:     open.QuestionID,
				Field:          open.Category,
				SkippedAt:      now,
				Reason:         "patient_unsure",
				CanReturnLater: true,
			})
		}
		if err := s.store.UpdateQuestion(ctx, open); err != nil {
			return apperr.Wrap(err, "update question")
		}
	}

	for _, r := range state.Replies {
		if r.Step != StepQuestion {
			continue
		}
		category := r.Field
		if category == "" {
			category = "general"
		}
		q := &pkg.QuestionRecord{
			SessionID:    conv.SessionID,
			QuestionID:   fmt.Sprintf("q_%s_%s", category, uuid.NewString()[:8]),
			Category:     category,
			QuestionText: r.Content,
			QuestionHash: QuestionHash(r.Content),
			Status:       pkg.QuestionAsked,
			AttemptCount: 1,
			MaxAttempts:  s.cfg.MaxQuestionAttempts,
			LastAskedAt:  now,
			CreatedAt:    now,
		}
		rec, existed, err := s.store.TrackQuestion(ctx, q)
		if err != nil {
			return apperr.Wrap(err, "track question")
		}
		if t := NewQuestionTracking(rec, existed); t.AlreadyAsked {
			s.logger.Debug("question repeated",
				zap.String("session_id", conv.SessionID),
				zap.String("question_hash", t.QuestionHash),
				zap.Int("attempts", t.AttemptCount),
				zap.Bool("alternative_needed", t.AlternativeNeeded))
		}
	}
	return nil
}

func (s *ChatService) raiseEmergency(ctx context.Context, conv *pkg.Conversation, now time.Time) error {
	level := conv.EmergencyLevel
	source := "evaluation"
	if len(conv.RedFlags) > 0 {
		source = "triage"
	}
	alert := &pkg.EmergencyAlert{
		SessionID:       conv.SessionID,
		UserID:          conv.UserID,
		AlertType:       "symptom_" + source,
		Severity:        level,
		TriggerSymptoms: conv.RedFlags,
		Recommendation:  EmergencyMessage(level),
		UserNotified:    true,
		Escalated:       level == pkg.EmergencyCritical,
		CreatedAt:       now,
	}
	if alert.TriggerSymptoms == nil {
		alert.TriggerSymptoms = []string{}
	}
	if err := s.store.CreateEmergencyAlert(ctx, alert); err != nil {
		return apperr.Wrap(err, "save emergency alert")
	}
	conv.Status = pkg.StatusEmergency
	conv.CompletedAt = &now
	conv.CanResume = false
	metrics.RecordEmergencyAlert(string(level), source)
	metrics.RecordSession("emergency")
	s.logger.Warn("emergency raised",
		zap.String("session_id", conv.SessionID),
		zap.String("level", string(level)),
		zap.Strings("flags", conv.RedFlags))
	return nil
}

// finalize stores the primary symptom, notifies listeners and starts the
// insight summary.
func (s *ChatService) finalize(ctx context.Context, conv *pkg.Conversation, transcript []pkg.Message, now time.Time) {
	if sym := primarySymptom(conv, now); sym != nil {
		if err := s.store.SaveSymptom(ctx, sym); err != nil {
			s.logger.Warn("save symptom failed", zap.String("session_id", conv.SessionID), zap.Error(err))
		}
	}
	event := pkg.EventCompleted
	if conv.Status == pkg.StatusEmergency {
		event = pkg.EventEmergency
	}
	s.publish(ctx, event, conv)
	s.summarizeAsync(conv, transcript)
}

func primarySymptom(conv *pkg.Conversation, now time.Time) *pkg.Symptom {
	data := conv.CollectedData
	if !HasMeaningfulData(data, "primary_complaint") {
		return nil
	}
	str := func(f string) string {
		if !HasMeaningfulData(data, f) {
			return ""
		}
		return fmt.Sprint(data[f])
	}
	return &pkg.Symptom{
		SessionID:          conv.SessionID,
		Name:               str("primary_complaint"),
		Description:        str("detailed_description"),
		IsPrimary:          true,
		Onset:              str("onset"),
		Location:           str("location"),
		Duration:           str("duration"),
		Character:          str("character"),
		AggravatingFactors: str("aggravating_factors"),
		RelievingFactors:   str("relieving_factors"),
		Timing:             str("timing"),
		Severity:           str("severity"),
		Radiation:          str("radiation"),
		Progression:        str("progression"),
		RelatedSymptoms:    str("related_symptoms"),
		TreatmentAttempted: str("treatment_attempted"),
		CreatedAt:          now,
	}
}

func (s *ChatService) summarizeAsync(conv *pkg.Conversation, transcript []pkg.Message) {
	c := *conv
	msgs := append([]pkg.Message(nil), transcript...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
		defer cancel()
		if _, err := s.generateSummary(ctx, &c, msgs); err != nil {
			s.logger.Warn("insight summary failed", zap.String("session_id", c.SessionID), zap.Error(err))
		}
	}()
}

func (s *ChatService) generateSummary(ctx context.Context, conv *pkg.Conversation, transcript []pkg.Message) (*pkg.Summary, error) {
	old, err := s.store.GetSummary(ctx, conv.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	sum, sumErr := s.summarizer.Summarize(ctx, conv, transcript, old)
	if sumErr != nil {
		s.logger.Warn("summary fell back", zap.String("session_id", conv.SessionID), zap.Error(sumErr))
	}
	sum.UpdatedAt = s.now()
	if err := s.store.UpsertSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("save summary: %w", err)
	}
	s.publish(ctx, pkg.EventSummaryUpdate, conv)
	return sum, nil
}

func (s *ChatService) publish(ctx context.Context, eventType string, conv *pkg.Conversation) {
	if s.publisher == nil {
		return
	}
	ev := pkg.SessionEvent{
		Type:      eventType,
		SessionID: conv.SessionID,
		Status:    conv.Status,
		Level:     conv.EmergencyLevel,
		At:        s.now(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", eventType), zap.String("session_id", conv.SessionID), zap.Error(err))
	}
}

// memory returns the cached conversation snapshot when it matches the
// transcript, rebuilding it otherwise.
func (s *ChatService) memory(ctx context.Context, conv *pkg.Conversation, transcript []pkg.Message, questions []pkg.QuestionRecord) *pkg.ConversationContext {
	key := fmt.Sprintf("conv_%s_%d", conv.SessionID, len(transcript))
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, conv.SessionID)
		if err != nil {
			s.logger.Warn("context cache read failed", zap.String("session_id", conv.SessionID), zap.Error(err))
		}
		if cached != nil && cached.CacheKey == key {
			return cached
		}
	}
	mem := BuildContext(conv, transcript, questions, s.now())
	if s.cache != nil {
		if err := s.cache.Set(ctx, mem); err != nil {
			s.logger.Warn("context cache write failed", zap.String("session_id", conv.SessionID), zap.Error(err))
		}
	}
	return mem
}

func (s *ChatService) refreshMemory(ctx context.Context, conv *pkg.Conversation, transcript []pkg.Message) {
	if s.cache == nil {
		return
	}
	questions, err := s.store.ListQuestions(ctx, conv.SessionID)
	if err != nil {
		s.logger.Warn("load questions failed", zap.String("session_id", conv.SessionID), zap.Error(err))
		if err := s.cache.Delete(ctx, conv.SessionID); err != nil {
			s.logger.Warn("context cache delete failed", zap.String("session_id", conv.SessionID), zap.Error(err))
		}
		return
	}
	if err := s.cache.Set(ctx, BuildContext(conv, transcript, questions, s.now())); err != nil {
		s.logger.Warn("context cache write failed", zap.String("session_id", conv.SessionID), zap.Error(err))
	}
}

func replyPhase(r Reply) string {
	switch r.Step {
	case StepGreeting:
		return "greeting"
	case StepCompletion:
		return "completed"
	case StepEmergency:
		return "emergency"
	}
	if r.Field == "" {
		return "collecting_general"
	}
	return "collecting_" + r.Field
}

func (s *ChatService) respond(conv *pkg.Conversation, transcript []pkg.Message, reply, token string) *pkg.ChatResponse {
	data := conv.CollectedData
	if data == nil {
		data = map[string]any{}
	}
	progress := Progress(data)
	section := "collecting_" + conv.CurrentField
	switch {
	case conv.Status == pkg.StatusEmergency:
		section = "emergency"
	case conv.Status == pkg.StatusCompleted:
		section = "completed"
	case conv.CurrentField == "":
		section = "collecting_general"
	}
	return &pkg.ChatResponse{
		SessionID:            conv.SessionID,
		Message:              reply,
		ConversationComplete: conv.Status == pkg.StatusCompleted || conv.Status == pkg.StatusEmergency,
		Status:               conv.Status,
		CollectedData:        data,
		FieldsCollected:      progress.FieldsCompleted,
		NextField:            conv.CurrentField,
		CurrentSection:       section,
		CompletionReadiness:  conv.CompletionReadiness,
		EmergencyLevel:       conv.EmergencyLevel,
		ConversationHistory:  historyOf(transcript),
		TotalMessages:        len(transcript),
		AIContext: pkg.AgentContextView{
			LastAgentAction:       conv.AgentContext.LastAgentAction,
			LastExtraction:        conv.AgentContext.LastExtraction,
			OrchestratorReasoning: conv.AgentContext.OrchestratorReasoning,
			CurrentField:          conv.CurrentField,
			CompletionReadiness:   conv.CompletionReadiness,
		},
		OldcartsProgress: OldcartsProgress(data),
		Summary:          progress,
		SessionToken:     token,
	}
}
