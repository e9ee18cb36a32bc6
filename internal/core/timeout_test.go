package core

import (
	"testing"
	"time"

	"intake-assistant/pkg"
)

func activeConversation(last time.Time) *pkg.Conversation {
	return &pkg.Conversation{
		SessionID:             "vi_t",
		Status:                pkg.StatusActive,
		LastActivity:          last,
		IdleTimeoutMinutes:    5,
		SessionTimeoutMinutes: 30,
		CanResume:             true,
	}
}

func TestEvaluateTimeout(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		idle       time.Duration
		saved      bool
		wantStatus string
		wantConv   pkg.SessionStatus
		wantEvent  string
	}{
		{"fresh", time.Minute, false, TimeoutActive, pkg.StatusActive, ""},
		{"approaching", 4 * time.Minute, false, TimeoutApproaching, pkg.StatusActive, ""},
		{"idle", 6 * time.Minute, false, TimeoutIdleWarning, pkg.StatusActive, EventWarning},
		{"expired unsaved", 31 * time.Minute, false, TimeoutExpired, pkg.StatusTimeout, EventTimeout},
		{"expired saved", 31 * time.Minute, true, TimeoutExpired, pkg.StatusPaused, EventTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := activeConversation(start)
			conv.MinDataThresholdMet = tt.saved
			check, ev := EvaluateTimeout(conv, start.Add(tt.idle))
			if check.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", check.Status, tt.wantStatus)
			}
			if conv.Status != tt.wantConv || check.SessionStatus != tt.wantConv {
				t.Errorf("conversation status = %s (check %s), want %s", conv.Status, check.SessionStatus, tt.wantConv)
			}
			switch {
			case tt.wantEvent == "" && ev != nil:
				t.Errorf("unexpected event %+v", ev)
			case tt.wantEvent != "" && (ev == nil || ev.EventType != tt.wantEvent):
				t.Errorf("event = %+v, want %s", ev, tt.wantEvent)
			}
		})
	}
}

func TestEvaluateTimeoutWarnsOncePerIdlePeriod(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	conv := activeConversation(start)

	check, ev := EvaluateTimeout(conv, start.Add(6*time.Minute))
	if ev == nil || check.WarningCount != 1 || check.Message != firstWarningMessage {
		t.Fatalf("first check = %+v, event %+v", check, ev)
	}
	check, ev = EvaluateTimeout(conv, start.Add(8*time.Minute))
	if ev != nil || check.WarningCount != 1 {
		t.Fatalf("repeat check within the idle window = %+v, event %+v", check, ev)
	}
	check, ev = EvaluateTimeout(conv, start.Add(11*time.Minute))
	if ev == nil || ev.EventType != EventFinalWarning || check.WarningCount != 2 || check.Message != finalWarningMessage {
		t.Fatalf("second warning = %+v, event %+v", check, ev)
	}

	Touch(conv, start.Add(12*time.Minute))
	if conv.TimeoutWarnings != 0 || conv.LastTimeoutWarning != nil {
		t.Errorf("touch did not reset warnings: %+v", conv)
	}
}

func TestCheckSessionLimit(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		idle       time.Duration
		wantStatus string
		wantEvent  string
	}{
		{"idle window", 6 * time.Minute, TimeoutActive, ""},
		{"past session limit", 31 * time.Minute, TimeoutExpired, EventTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := activeConversation(start)
			check, ev := CheckSessionLimit(conv, start.Add(tt.idle))
			if check.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", check.Status, tt.wantStatus)
			}
			if (ev == nil) != (tt.wantEvent == "") || (ev != nil && ev.EventType != tt.wantEvent) {
				t.Errorf("event = %+v, want %q", ev, tt.wantEvent)
			}
			if tt.wantEvent == "" && (conv.TimeoutWarnings != 0 || conv.LastTimeoutWarning != nil) {
				t.Errorf("warning recorded: %+v", conv)
			}
		})
	}
}

func TestEvaluateTimeoutInactive(t *testing.T) {
	conv := activeConversation(time.Now().Add(-time.Hour))
	conv.Status = pkg.StatusCompleted
	check, ev := EvaluateTimeout(conv, time.Now())
	if check.Status != TimeoutInactive || ev != nil || conv.Status != pkg.StatusCompleted {
		t.Errorf("check = %+v, event %+v", check, ev)
	}
}

func TestExpirePausedAndResume(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	conv := activeConversation(start)
	conv.Status = pkg.StatusPaused

	if ev := ExpirePaused(conv, start.Add(time.Hour), 24*time.Hour); ev != nil {
		t.Fatalf("expired too early: %+v", ev)
	}
	if !Resume(conv, start.Add(time.Hour)) {
		t.Fatal("paused conversation did not resume")
	}
	if conv.Status != pkg.StatusActive || conv.ResumeCount != 1 || conv.LastResumeAt == nil {
		t.Errorf("resumed conversation = %+v", conv)
	}
	if Resume(conv, start.Add(2*time.Hour)) {
		t.Error("active conversation resumed again")
	}

	conv.Status = pkg.StatusPaused
	ev := ExpirePaused(conv, start.Add(26*time.Hour), 24*time.Hour)
	if ev == nil || ev.EventType != EventExpired {
		t.Fatalf("event = %+v", ev)
	}
	if conv.Status != pkg.StatusExpired || conv.CanResume {
		t.Errorf("expired conversation = %+v", conv)
	}
	if Resume(conv, start.Add(27*time.Hour)) {
		t.Error("expired conversation resumed")
	}
}
