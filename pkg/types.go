package pkg

import "time"

// MessageRole describes who authored a message.  An interview only has two
// parties: the patient answering and the assistant asking.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one turn record in an interview transcript.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// CreateSessionRequest starts a new interview.  Destination identifies the
// clinician inbox the finished intake is delivered to.
type CreateSessionRequest struct {
	Destination string `json:"destination"`
}

// SessionResponse is returned when a session is created or reset.  Reply
// holds the greeting question.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// ChatRequest represents a request to send a message from the patient.
type ChatRequest struct {
	Content string `json:"content"`
}

// ChatResponse contains the assistant's reply and whether the interview has
// reached its terminal state.
type ChatResponse struct {
	Reply    string `json:"reply"`
	Complete bool   `json:"complete"`
}

// InboxEntry is returned in the list of finished intakes for a clinician
// inbox.  It carries just enough to triage the list.
type InboxEntry struct {
	IntakeID       string    `json:"intake_id"`
	SessionID      string    `json:"session_id"`
	ChiefComplaint string    `json:"chief_complaint"`
	RedFlags       []string  `json:"red_flags"`
	CompletedAt    time.Time `json:"completed_at"`
}
