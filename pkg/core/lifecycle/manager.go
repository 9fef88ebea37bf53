// Package lifecycle owns the interview session record: creation,
// pause/resume checkpointing, and completion. All mutation of the
// session happens through the Manager.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/store"
)

// Manager drives one session's lifecycle. It is safe for concurrent
// use by the driver and the transport layer.
type Manager struct {
	store store.Store

	mu      sync.Mutex
	session *interview.Session

	// completed is the one-shot completion latch: finalize side effects
	// run exactly once no matter how many paths race into Complete.
	completed atomic.Bool
	finalize  []func()
}

// NewManager creates a lifecycle manager backed by the given store.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st}
}

// OnComplete registers a finalize side effect to run exactly once when
// the session completes (releasing media, closing transports).
func (m *Manager) OnComplete(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalize = append(m.finalize, fn)
}

// Session returns a copy of the current session record.
func (m *Manager) Session() (interview.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return interview.Session{}, false
	}
	return *m.session, true
}

// Start creates the session record and transitions it created→active.
// A network failure is surfaced as a retryable "could not start" error;
// the caller may simply call Start again.
func (m *Manager) Start(ctx context.Context, script *interview.Script, participant interview.Participant) (string, error) {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return "", core.NewSessionStateError("session already started")
	}
	m.mu.Unlock()

	id := "sess_" + uuid.NewString()
	created, err := m.store.CreateSession(ctx, store.CreateSessionParams{
		ID:            id,
		StudyID:       script.StudyID,
		ScriptVersion: script.ScriptVersion,
		Participant:   participant,
	})
	if err != nil {
		return "", &core.Error{
			Type:      core.ErrAPI,
			Message:   "could not start the interview",
			Code:      "session_start_failed",
			Retryable: true,
		}
	}
	if err := m.store.ActivateSession(ctx, id); err != nil {
		return "", &core.Error{
			Type:      core.ErrAPI,
			Message:   "could not start the interview",
			Code:      "session_start_failed",
			Retryable: true,
		}
	}
	created.Status = interview.StatusActive

	m.mu.Lock()
	m.session = created
	m.mu.Unlock()
	return id, nil
}

// Pause captures the navigation pointer as the resume checkpoint and
// transitions active→paused. The resume token is minted lazily on the
// first pause and reused verbatim by every later pause.
func (m *Manager) Pause(ctx context.Context, checkpoint interview.Pointer) (string, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return "", core.NewSessionStateError("no session to pause")
	}
	if m.session.Status == interview.StatusCompleted {
		m.mu.Unlock()
		return "", core.NewSessionStateError("session already completed")
	}
	token := m.session.ResumeToken
	if token == "" {
		token = "rt_" + uuid.NewString()
	}
	id := m.session.ID
	m.mu.Unlock()

	token, err := m.store.PauseSession(ctx, id, checkpoint, token)
	if err != nil {
		return "", fmt.Errorf("pause session: %w", err)
	}

	m.mu.Lock()
	cp := checkpoint
	m.session.Checkpoint = &cp
	m.session.ResumeToken = token
	m.session.Status = interview.StatusPaused
	m.mu.Unlock()
	return token, nil
}

// Resume resolves a resume token, transitions paused→active, and
// returns the exact stored checkpoint. The flow controller must restore
// to this pointer as-is, with no re-derivation.
func (m *Manager) Resume(ctx context.Context, token string) (interview.Pointer, error) {
	sess, err := m.store.SessionByResumeToken(ctx, token)
	if err != nil {
		return interview.Pointer{}, core.NewNotFoundError("resume link is invalid or expired")
	}
	if sess.Status == interview.StatusCompleted {
		return interview.Pointer{}, core.NewSessionStateError("interview already completed")
	}
	if sess.Checkpoint == nil {
		return interview.Pointer{}, core.NewSessionStateError("session has no checkpoint")
	}

	if err := m.store.ActivateSession(ctx, sess.ID); err != nil {
		return interview.Pointer{}, fmt.Errorf("activate session: %w", err)
	}
	sess.Status = interview.StatusActive

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	return *sess.Checkpoint, nil
}

// Complete transitions the session to its terminal state. The one-shot
// latch guarantees the finalize side effects fire exactly once even
// when last-item submission and a remote disconnect race each other.
func (m *Manager) Complete(ctx context.Context) error {
	if m.completed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	var id string
	if m.session != nil {
		id = m.session.ID
		m.session.Status = interview.StatusCompleted
	}
	fns := m.finalize
	m.finalize = nil
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}

	if id == "" {
		return core.NewSessionStateError("no session to complete")
	}
	if err := m.store.CompleteSession(ctx, id); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// Completed reports whether the completion latch has fired.
func (m *Manager) Completed() bool {
	return m.completed.Load()
}

// ResumeURL renders the shareable resume link for the current session,
// or "" when the session has never been paused.
func (m *Manager) ResumeURL(origin string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.ResumeToken == "" {
		return ""
	}
	return interview.ResumeURL(origin, m.session.ResumeToken, m.session.ID)
}
