package core

import (
	"time"

	"intake-assistant/pkg"
)

// SessionStatusView answers the session status endpoint.
type SessionStatusView struct {
	SessionID            string               `json:"session_id"`
	Status               pkg.SessionStatus    `json:"status"`
	CurrentPhase         string               `json:"current_phase"`
	EmergencyLevel       pkg.EmergencyLevel   `json:"emergency_level"`
	MessageCount         int                  `json:"message_count"`
	FieldsCollected      int                  `json:"fields_collected"`
	CollectedData        map[string]any       `json:"collected_data"`
	ConversationComplete bool                 `json:"conversation_complete"`
	EmergencyAlerts      []pkg.EmergencyAlert `json:"emergency_alerts"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// SessionSummaryView groups collected data by SOAP section.
type SessionSummaryView struct {
	SessionID          string            `json:"session_id"`
	PatientContext     map[string]any    `json:"patient_context"`
	ChiefComplaint     map[string]any    `json:"chief_complaint"`
	Oldcarts           map[string]any    `json:"oldcarts"`
	MedicalHistory     map[string]any    `json:"medical_history"`
	EmergencyFlags     []string          `json:"emergency_flags"`
	TotalFields        int               `json:"total_fields_collected"`
	ConversationStatus pkg.SessionStatus `json:"conversation_status"`
	SOAP               SOAPReport        `json:"soap_evaluation"`
}

// SessionDetail is one conversation in a listing.
type SessionDetail struct {
	SessionID            string             `json:"session_id"`
	UserID               string             `json:"user_id"`
	Status               pkg.SessionStatus  `json:"status"`
	CurrentPhase         string             `json:"current_phase"`
	EmergencyLevel       pkg.EmergencyLevel `json:"emergency_level"`
	MessageCount         int                `json:"message_count"`
	FieldsCollected      int                `json:"fields_collected"`
	CompletionPercentage float64            `json:"completion_percentage"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	CompletedAt          *time.Time         `json:"completed_at,omitempty"`
	CollectedData        map[string]any     `json:"collected_data"`
	History              []pkg.HistoryEntry `json:"conversation_history"`
}

// UserSessionsView lists every session of a user.
type UserSessionsView struct {
	UserID        string          `json:"user_id"`
	TotalSessions int             `json:"total_sessions"`
	Sessions      []SessionDetail `json:"sessions"`
	Summary       struct {
		Active    int `json:"active_sessions"`
		Completed int `json:"completed_sessions"`
		Emergency int `json:"emergency_sessions"`
	} `json:"summary"`
}

// CompletedConversationsView lists completed conversations of a session.
type CompletedConversationsView struct {
	SessionID     string          `json:"session_id"`
	Total         int             `json:"total_completed_conversations"`
	Conversations []SessionDetail `json:"conversations"`
}

// CompletenessView answers the completeness endpoint.
type CompletenessView struct {
	SessionID   string             `json:"session_id"`
	Report      CompletenessReport `json:"completeness"`
	MissingInfo pkg.MissingInfo    `json:"missing_information"`
	SOAP        SOAPReport         `json:"soap_evaluation"`
	Message     string             `json:"completion_message"`
}

// SkipResult answers a skip request.
type SkipResult struct {
	Skipped     bool   `json:"skipped"`
	Field       string `json:"field,omitempty"`
	QuestionID  string `json:"question_id,omitempty"`
	Message     string `json:"message"`
	CanContinue bool   `json:"can_continue"`
}

// HandoffResult answers a human handoff request.
type HandoffResult struct {
	HandoffRequested bool              `json:"handoff_requested"`
	Message          string            `json:"message"`
	ProgressSaved    bool              `json:"progress_saved"`
	Status           pkg.SessionStatus `json:"status"`
	NextSteps        string            `json:"next_steps"`
}

// fieldsCollected counts values that are neither empty nor engine sentinels.
func fieldsCollected(data map[string]any) int {
	n := 0
	for _, v := range data {
		if isEmptyValue(v) || v == ValueUnclear || v == ValueSkipped {
			continue
		}
		n++
	}
	return n
}

func historyOf(messages []pkg.Message) []pkg.HistoryEntry {
	out := make([]pkg.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		out = append(out, pkg.HistoryEntry{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt, Phase: m.Phase})
	}
	return out
}

func sessionDetail(c *pkg.Conversation, messages []pkg.Message) SessionDetail {
	n := fieldsCollected(c.CollectedData)
	return SessionDetail{
		SessionID:            c.SessionID,
		UserID:               c.UserID,
		Status:               c.Status,
		CurrentPhase:         c.CurrentPhase,
		EmergencyLevel:       c.EmergencyLevel,
		MessageCount:         len(messages),
		FieldsCollected:      n,
		CompletionPercentage: roundTo(float64(n)/float64(len(OldcartsFields))*100, 1),
		CreatedAt:            c.StartedAt,
		UpdatedAt:            c.UpdatedAt,
		CompletedAt:          c.CompletedAt,
		CollectedData:        c.CollectedData,
		History:              historyOf(messages),
	}
}

func summaryView(c *pkg.Conversation) SessionSummaryView {
	data := c.CollectedData
	if data == nil {
		data = map[string]any{}
	}
	org := OrganizedData(data)
	flags := c.RedFlags
	if flags == nil {
		flags = []string{}
	}
	return SessionSummaryView{
		SessionID:          c.SessionID,
		PatientContext:     org[SectionPatientContext],
		ChiefComplaint:     org[SectionChiefComplaint],
		Oldcarts:           org[SectionHPI],
		MedicalHistory:     org[SectionMedicalHistory],
		EmergencyFlags:     flags,
		TotalFields:        CountMeaningful(data),
		ConversationStatus: c.Status,
		SOAP:               EvaluateSOAP(data),
	}
}
