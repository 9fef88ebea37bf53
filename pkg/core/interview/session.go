package interview

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of an interview session.
type Status string

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Participant holds the optional identity a participant supplies before
// starting.
type Participant struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Session is the persisted interview session record. It is owned
// exclusively by the lifecycle manager and mutated only through its
// operations.
type Session struct {
	ID            string      `json:"id"`
	StudyID       string      `json:"study_id"`
	ScriptVersion int         `json:"script_version"`
	Participant   Participant `json:"participant"`
	Status        Status      `json:"status"`

	StartedAt   time.Time  `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Checkpoint is the pointer captured by the most recent pause, used
	// to restore the exact navigation position on resume.
	Checkpoint *Pointer `json:"checkpoint,omitempty"`

	// ResumeToken is minted lazily on first pause and reused by every
	// subsequent pause of the same session.
	ResumeToken string `json:"resume_token,omitempty"`
}

// ResumeURL renders the shareable resume link for a paused session.
// The format is a contract with the client: {origin}/interview/{token}?resume={sessionId}.
func ResumeURL(origin, token, sessionID string) string {
	return fmt.Sprintf("%s/interview/%s?resume=%s", origin, token, sessionID)
}

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerAI          Speaker = "ai"
	SpeakerParticipant Speaker = "participant"
)

// Turn is one utterance in the interview transcript. Turns are
// append-only; both drivers produce them and flush them to persistence.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// IsProbe marks an AI follow-up exchange, as opposed to a scripted
	// primary question and its answer.
	IsProbe bool `json:"is_probe,omitempty"`
}

// Response is a participant's answer to one script item.
type Response struct {
	ItemID     string    `json:"item_id"`
	Transcript string    `json:"transcript,omitempty"`
	Selections []string  `json:"selections,omitempty"`
	Rating     int       `json:"rating,omitempty"`
	Ranking    []string  `json:"ranking,omitempty"`
	AnsweredAt time.Time `json:"answered_at"`
}
