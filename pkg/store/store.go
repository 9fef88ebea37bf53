// Package store defines the persistence boundary consumed by the
// interview orchestrator. The core treats every write as
// fire-and-forget: failures are logged by callers, never retried here.
package store

import (
	"context"
	"errors"

	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
)

// ErrNotFound is returned when a session lookup misses.
var ErrNotFound = errors.New("store: session not found")

// CreateSessionParams is the payload for a new session row.
type CreateSessionParams struct {
	ID            string
	StudyID       string
	ScriptVersion int
	Participant   interview.Participant
}

// Store is the persistence service for sessions, responses, and turns.
type Store interface {
	// CreateSession inserts a new session with status created.
	CreateSession(ctx context.Context, p CreateSessionParams) (*interview.Session, error)

	// ActivateSession transitions a session to active and stamps the
	// start time on first activation.
	ActivateSession(ctx context.Context, id string) error

	// PauseSession stores the checkpoint pointer, transitions the
	// session to paused, and returns its resume token. The token
	// argument is a candidate used only on the first pause; a session
	// that already holds a token keeps it, so every pause of the same
	// session yields the same resume link.
	PauseSession(ctx context.Context, id string, checkpoint interview.Pointer, token string) (string, error)

	// CompleteSession transitions a session to completed. Completion is
	// terminal; completing an already-completed session is a no-op.
	CompleteSession(ctx context.Context, id string) error

	// SessionByResumeToken resolves a resume token to its session.
	SessionByResumeToken(ctx context.Context, token string) (*interview.Session, error)

	// SubmitResponse appends a participant response for a script item.
	SubmitResponse(ctx context.Context, sessionID string, resp interview.Response) error

	// AppendTurns appends transcript turns. Callers may re-send a
	// suffix on retry; implementations must tolerate duplicates.
	AppendTurns(ctx context.Context, sessionID string, turns []interview.Turn) error
}
