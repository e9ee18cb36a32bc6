package core

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"intake-assistant/internal/apperr"
	"intake-assistant/internal/metrics"
	"intake-assistant/pkg"
)

// Status reports progress of a session.
func (s *ChatService) Status(ctx context.Context, sessionID string) (*SessionStatusView, error) {
	conv, err := s.getConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	transcript, err := s.store.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load transcript")
	}
	alerts, err := s.store.ListEmergencyAlerts(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load emergency alerts")
	}
	if alerts == nil {
		alerts = []pkg.EmergencyAlert{}
	}
	data := conv.CollectedData
	if data == nil {
		data = map[string]any{}
	}
	return &SessionStatusView{
		SessionID:            conv.SessionID,
		Status:               conv.Status,
		CurrentPhase:         conv.CurrentPhase,
		EmergencyLevel:       conv.EmergencyLevel,
		MessageCount:         len(transcript),
		FieldsCollected:      fieldsCollected(data),
		CollectedData:        data,
		ConversationComplete: conv.Status == pkg.StatusCompleted || conv.Status == pkg.StatusEmergency,
		EmergencyAlerts:      alerts,
		CreatedAt:            conv.StartedAt,
		UpdatedAt:            conv.UpdatedAt,
	}, nil
}

// Summary groups the collected data by SOAP section.
func (s *ChatService) Summary(ctx context.Context, sessionID string) (*SessionSummaryView, error) {
	conv, err := s.getConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	v := summaryView(conv)
	return &v, nil
}

// Insights returns the stored insight summary, generating it when missing
// or when refresh is set.
func (s *ChatService) Insights(ctx context.Context, sessionID string, refresh bool) (*pkg.Summary, error) {
	conv, err := s.getConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !refresh {
		sum, err := s.store.GetSummary(ctx, sessionID)
		if err != nil {
			return nil, apperr.Wrap(err, "load summary")
		}
		if sum != nil {
			return sum, nil
		}
	}
	transcript, err := s.store.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load transcript")
	}
	sum, err := s.generateSummary(ctx, conv, transcript)
	if err != nil {
		return nil, apperr.Wrap(err, "generate summary")
	}
	return sum, nil
}

// CompletedConversations lists the session's conversation when it has
// completed.
func (s *ChatService) CompletedConversations(ctx context.Context, sessionID string) (*CompletedConversationsView, error) {
	conv, err := s.getConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	v := &CompletedConversationsView{SessionID: sessionID, Conversations: []SessionDetail{}}
	if conv.Status != pkg.StatusCompleted {
		return v, nil
	}
	transcript, err := s.store.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load transcript")
	}
	v.Conversations = append(v.Conversations, sessionDetail(conv, transcript))
	v.Total = len(v.Conversations)
	return v, nil
}

// HasSessions reports whether userID has started any session.
func (s *ChatService) HasSessions(ctx context.Context, userID string) (bool, error) {
	convs, err := s.store.ListConversationsByUser(ctx, userID)
	if err != nil {
		return false, apperr.Wrap(err, "list sessions")
	}
	return len(convs) > 0, nil
}

// UserSessions lists every session of a user, newest first.
func (s *ChatService) UserSessions(ctx context.Context, userID string) (*UserSessionsView, error) {
	if userID == "" {
		return nil, apperr.BadRequest("user id is required")
	}
	convs, err := s.store.ListConversationsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(err, "list sessions")
	}
	v := &UserSessionsView{UserID: userID, Sessions: make([]SessionDetail, 0, len(convs))}
	for i := range convs {
		c := &convs[i]
		transcript, err := s.store.GetTranscript(ctx, c.SessionID)
		if err != nil {
			return nil, apperr.Wrap(err, "load transcript")
		}
		v.Sessions = append(v.Sessions, sessionDetail(c, transcript))
		switch c.Status {
		case pkg.StatusActive:
			v.Summary.Active++
		case pkg.StatusCompleted:
			v.Summary.Completed++
		case pkg.StatusEmergency:
			v.Summary.Emergency++
		}
	}
	v.TotalSessions = len(v.Sessions)
	return v, nil
}

// Completeness reports completeness, missing information and SOAP progress.
func (s *ChatService) Completeness(ctx context.Context, sessionID string) (*CompletenessView, error) {
	conv, err := s.getConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	transcript, err := s.store.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load transcript")
	}
	questions, err := s.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load questions")
	}
	mem := s.memory(ctx, conv, transcript, questions)
	report := EvaluateCompleteness(mem.CollectedData)
	return &CompletenessView{
		SessionID:   sessionID,
		Report:      report,
		MissingInfo: mem.MissingInformation,
		SOAP:        EvaluateSOAP(mem.CollectedData),
		Message:     CompletionMessage(report.Percentage),
	}, nil
}

// CheckTimeout applies the timeout rules to a session now.
func (s *ChatService) CheckTimeout(ctx context.Context, sessionID string) (*TimeoutCheck, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	conv, err := s.getConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	check, err := s.applyTimeout(ctx, conv, s.now(), EvaluateTimeout)
	if err != nil {
		return nil, err
	}
	return &check, nil
}

type timeoutRule func(*pkg.Conversation, time.Time) (TimeoutCheck, *pkg.TimeoutEvent)

// applyTimeout evaluates timeouts for conv with rule and persists any change.
// The caller holds the session lock.
func (s *ChatService) applyTimeout(ctx context.Context, conv *pkg.Conversation, now time.Time, rule timeoutRule) (TimeoutCheck, error) {
	before := conv.Status
	var (
		check TimeoutCheck
		ev    *pkg.TimeoutEvent
	)
	switch conv.Status {
	case pkg.StatusActive:
		check, ev = rule(conv, now)
	case pkg.StatusPaused:
		check, _ = EvaluateTimeout(conv, now)
		if ev = ExpirePaused(conv, now, s.cfg.ExpireAfter); ev != nil {
			check.Status = TimeoutExpired
			check.SessionStatus = conv.Status
			check.CanResume = false
		}
	default:
		check, _ = EvaluateTimeout(conv, now)
	}
	if ev == nil {
		return check, nil
	}
	if err := s.store.CreateTimeoutEvent(ctx, ev); err != nil {
		return check, apperr.Wrap(err, "save timeout event")
	}
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return check, apperr.Wrap(err, "save conversation")
	}
	if conv.Status != before {
		s.publish(ctx, pkg.EventTimeout, conv)
		metrics.RecordSession(strings.ToLower(string(conv.Status)))
		if s.cache != nil {
			if err := s.cache.Delete(ctx, conv.SessionID); err != nil {
				s.logger.Warn("context cache delete failed", zap.String("session_id", conv.SessionID), zap.Error(err))
			}
		}
		s.logger.Info("session timed out",
			zap.String("session_id", conv.SessionID),
			zap.String("from", string(before)),
			zap.String("to", string(conv.Status)))
	}
	return check, nil
}

// SkipQuestion skips the open question of a session.
func (s *ChatService) SkipQuestion(ctx context.Context, sessionID, reason string) (*SkipResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	conv, err := s.getConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, apperr.Conflict("session is no longer accepting messages", map[string]string{"status": string(conv.Status)})
	}
	questions, err := s.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(err, "load questions")
	}
	if reason == "" {
		reason = "user_preference"
	}
	now := s.now()
	open := openQuestion(questions)
	if err := s.skipOpenQuestion(ctx, conv, open, reason, now); err != nil {
		return nil, err
	}
	entry := conv.SkippedQuestions[len(conv.SkippedQuestions)-1]
	conv.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, apperr.Wrap(err, "save conversation")
	}
	return &SkipResult{
		Skipped:     true,
		Field:       entry.Field,
		QuestionID:  entry.QuestionID,
		Message:     SkipReply,
		CanContinue: true,
	}, nil
}

// RequestHandoff records that the patient wants a human.
func (s *ChatService) RequestHandoff(ctx context.Context, sessionID, reason string) (*HandoffResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	conv, err := s.getConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, apperr.Conflict("session is no longer accepting messages", map[string]string{"status": string(conv.Status)})
	}
	if reason == "" {
		reason = "patient_request"
	}
	msg := RequestHandoff(conv, reason)
	conv.UpdatedAt = s.now()
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, apperr.Wrap(err, "save conversation")
	}
	s.publish(ctx, pkg.EventHandoff, conv)
	return &HandoffResult{
		HandoffRequested: true,
		Message:          msg,
		ProgressSaved:    conv.MinDataThresholdMet,
		Status:           conv.Status,
		NextSteps:        "Contact your healthcare provider or continue during your appointment",
	}, nil
}
