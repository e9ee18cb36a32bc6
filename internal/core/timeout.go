package core

import (
	"time"

	"intake-assistant/pkg"
)

// Timeout check outcomes.
const (
	TimeoutActive      = "active"
	TimeoutApproaching = "approaching_timeout"
	TimeoutIdleWarning = "idle_warning"
	TimeoutExpired     = "timeout"
	TimeoutInactive    = "inactive"
)

// Timeout event types stored in timeout_events.
const (
	EventWarning      = "warning"
	EventFinalWarning = "final_warning"
	EventTimeout      = "timeout"
	EventExpired      = "expired"
)

const approachingRatio = 0.7

const (
	pausedMessage = "Your session has been paused due to inactivity, but don't worry - " +
		"I've saved all the information you've shared. You can return anytime " +
		"to continue where you left off."
	timedOutMessage = "Your session has timed out. Since we didn't collect enough information " +
		"to save your progress, you'll need to start over when you return."
	firstWarningMessage = "Still with me? Let me know if you'd like to continue or take a break. " +
		"I can save your progress if you need to step away."
	finalWarningMessage = "I'll pause our conversation for now to save your progress. " +
		"You can come back anytime to continue where we left off."
	gentleNudge = "How are you doing? Ready for the next question?"
)

// TimeoutCheck is the outcome of EvaluateTimeout.
type TimeoutCheck struct {
	Status              string            `json:"status"`
	SessionStatus       pkg.SessionStatus `json:"session_status"`
	IdleMinutes         float64           `json:"idle_minutes"`
	Message             string            `json:"message,omitempty"`
	WarningCount        int               `json:"warning_count,omitempty"`
	CanResume           bool              `json:"can_resume"`
	SessionSaved        bool              `json:"session_saved,omitempty"`
	MinutesUntilWarning float64           `json:"minutes_until_warning,omitempty"`
}

// EvaluateTimeout applies the idle and session timeouts to an ACTIVE
// conversation. It mutates conv and returns the event to persist, if any.
// A warning is issued at most once per idle period.
func EvaluateTimeout(conv *pkg.Conversation, now time.Time) (TimeoutCheck, *pkg.TimeoutEvent) {
	idle := now.Sub(conv.LastActivity)
	check := TimeoutCheck{
		Status:        TimeoutActive,
		SessionStatus: conv.Status,
		IdleMinutes:   idle.Minutes(),
		CanResume:     conv.CanResume,
	}
	if conv.Status != pkg.StatusActive {
		check.Status = TimeoutInactive
		return check, nil
	}

	idleLimit := time.Duration(conv.IdleTimeoutMinutes) * time.Minute
	sessionLimit := time.Duration(conv.SessionTimeoutMinutes) * time.Minute

	switch {
	case idle >= sessionLimit:
		ev := &pkg.TimeoutEvent{
			SessionID:       conv.SessionID,
			EventType:       EventTimeout,
			TimeoutDuration: int(idle.Seconds()),
			WarningMessage:  "Session timed out due to inactivity",
			OccurredAt:      now,
		}
		if conv.MinDataThresholdMet {
			conv.Status = pkg.StatusPaused
			conv.CanResume = true
			check.Message = pausedMessage
		} else {
			conv.Status = pkg.StatusTimeout
			conv.CanResume = false
			check.Message = timedOutMessage
		}
		conv.UpdatedAt = now
		check.Status = TimeoutExpired
		check.SessionStatus = conv.Status
		check.CanResume = conv.CanResume
		check.SessionSaved = conv.MinDataThresholdMet
		return check, ev

	case idle >= idleLimit:
		check.Status = TimeoutIdleWarning
		if !warningDue(conv, now, idleLimit) {
			check.WarningCount = conv.TimeoutWarnings
			check.Message = warningMessage(conv.TimeoutWarnings)
			return check, nil
		}
		conv.TimeoutWarnings++
		conv.LastTimeoutWarning = &now
		conv.UpdatedAt = now
		eventType := EventWarning
		if conv.TimeoutWarnings > 1 {
			eventType = EventFinalWarning
		}
		check.WarningCount = conv.TimeoutWarnings
		check.Message = warningMessage(conv.TimeoutWarnings)
		return check, &pkg.TimeoutEvent{
			SessionID:       conv.SessionID,
			EventType:       eventType,
			TimeoutDuration: int(idle.Seconds()),
			WarningMessage:  "Idle timeout warning sent",
			OccurredAt:      now,
		}

	case idle.Minutes() >= float64(conv.IdleTimeoutMinutes)*approachingRatio:
		check.Status = TimeoutApproaching
		check.Message = gentleNudge
		check.MinutesUntilWarning = float64(conv.IdleTimeoutMinutes) - idle.Minutes()
	}
	return check, nil
}

// CheckSessionLimit applies only the session timeout. Patient turns use it
// so that the reply that ends an idle period never records a warning.
func CheckSessionLimit(conv *pkg.Conversation, now time.Time) (TimeoutCheck, *pkg.TimeoutEvent) {
	idle := now.Sub(conv.LastActivity)
	limit := time.Duration(conv.SessionTimeoutMinutes) * time.Minute
	if conv.Status == pkg.StatusActive && idle < limit {
		return TimeoutCheck{
			Status:        TimeoutActive,
			SessionStatus: conv.Status,
			IdleMinutes:   idle.Minutes(),
			CanResume:     conv.CanResume,
		}, nil
	}
	return EvaluateTimeout(conv, now)
}

func warningDue(conv *pkg.Conversation, now time.Time, idleLimit time.Duration) bool {
	last := conv.LastTimeoutWarning
	return last == nil || last.Before(conv.LastActivity) || now.Sub(*last) >= idleLimit
}

func warningMessage(count int) string {
	if count <= 1 {
		return firstWarningMessage
	}
	return finalWarningMessage
}

// ExpirePaused moves a PAUSED conversation that has been idle for longer than
// after to EXPIRED.
func ExpirePaused(conv *pkg.Conversation, now time.Time, after time.Duration) *pkg.TimeoutEvent {
	if conv.Status != pkg.StatusPaused || after <= 0 {
		return nil
	}
	idle := now.Sub(conv.LastActivity)
	if idle < after {
		return nil
	}
	conv.Status = pkg.StatusExpired
	conv.CanResume = false
	conv.UpdatedAt = now
	return &pkg.TimeoutEvent{
		SessionID:       conv.SessionID,
		EventType:       EventExpired,
		TimeoutDuration: int(idle.Seconds()),
		WarningMessage:  "Paused session expired",
		OccurredAt:      now,
	}
}

// Resume reactivates a PAUSED or INCOMPLETE conversation. It reports whether
// anything changed.
func Resume(conv *pkg.Conversation, now time.Time) bool {
	if conv.Status != pkg.StatusPaused && conv.Status != pkg.StatusIncomplete {
		return false
	}
	conv.Status = pkg.StatusActive
	conv.ResumeCount++
	conv.LastResumeAt = &now
	conv.TimeoutWarnings = 0
	conv.LastTimeoutWarning = nil
	conv.LastActivity = now
	conv.UpdatedAt = now
	return true
}

// Touch records patient activity.
func Touch(conv *pkg.Conversation, now time.Time) {
	conv.LastActivity = now
	conv.TimeoutWarnings = 0
	conv.LastTimeoutWarning = nil
	conv.UpdatedAt = now
}
