// Package realtime abstracts the remote conversation agent used in
// streaming mode: a bidirectional audio+event session with an AI
// interviewer that probes on its own.
package realtime

import (
	"context"

	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
)

// Status is the remote agent's reported state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusListening    Status = "listening"
	StatusSpeaking     Status = "speaking"
	StatusThinking     Status = "thinking"
	StatusDisconnected Status = "disconnected"
)

// SessionConfig describes the conversation to open.
type SessionConfig struct {
	SessionID string
	// SystemPrompt frames the interviewer: study goals, probe style.
	SystemPrompt string
	VoiceID      string
	Language     string
	SampleRate   int
}

// Event is a message from the remote agent.
type Event interface {
	EventType() string
}

// StatusEvent reports a remote status change.
type StatusEvent struct {
	Status Status
}

func (e *StatusEvent) EventType() string { return "agent.status" }

// TurnEvent carries a finalized conversation turn, either side.
type TurnEvent struct {
	Turn interview.Turn
}

func (e *TurnEvent) EventType() string { return "agent.turn" }

// AudioEvent carries agent speech audio for playback.
type AudioEvent struct {
	Data []byte
}

func (e *AudioEvent) EventType() string { return "agent.audio" }

// ErrorEvent reports a remote failure. Retryable errors mean the caller
// should reconnect into the same session.
type ErrorEvent struct {
	Err       error
	Retryable bool
}

func (e *ErrorEvent) EventType() string { return "agent.error" }

// Conversation is one open agent session. Events is closed when the
// remote side disconnects, cleanly or not.
type Conversation interface {
	// SendAudio pushes a participant audio frame upstream.
	SendAudio(data []byte) error

	// Events yields agent events until disconnect.
	Events() <-chan Event

	// Close tears the session down.
	Close() error
}

// Agent opens conversations against one provider.
type Agent interface {
	Name() string
	Connect(ctx context.Context, cfg SessionConfig) (Conversation, error)
}
