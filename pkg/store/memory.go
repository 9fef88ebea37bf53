package store

import (
	"context"
	"sync"
	"time"

	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
)

// Memory is an in-memory Store used by tests and single-process runs.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string]*interview.Session
	byToken   map[string]string
	responses map[string][]interview.Response
	turns     map[string][]interview.Turn
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]*interview.Session),
		byToken:   make(map[string]string),
		responses: make(map[string][]interview.Response),
		turns:     make(map[string][]interview.Turn),
	}
}

func (m *Memory) CreateSession(ctx context.Context, p CreateSessionParams) (*interview.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &interview.Session{
		ID:            p.ID,
		StudyID:       p.StudyID,
		ScriptVersion: p.ScriptVersion,
		Participant:   p.Participant,
		Status:        interview.StatusCreated,
	}
	m.sessions[s.ID] = s
	return cloneSession(s), nil
}

func (m *Memory) ActivateSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	s.Status = interview.StatusActive
	return nil
}

func (m *Memory) PauseSession(ctx context.Context, id string, checkpoint interview.Pointer, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return "", ErrNotFound
	}
	if s.ResumeToken != "" {
		token = s.ResumeToken
	}
	now := time.Now()
	cp := checkpoint
	s.Checkpoint = &cp
	s.ResumeToken = token
	s.Status = interview.StatusPaused
	s.PausedAt = &now
	m.byToken[token] = id
	return token, nil
}

func (m *Memory) CompleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status == interview.StatusCompleted {
		return nil
	}
	now := time.Now()
	s.Status = interview.StatusCompleted
	s.CompletedAt = &now
	return nil
}

func (m *Memory) SessionByResumeToken(ctx context.Context, token string) (*interview.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *Memory) SubmitResponse(ctx context.Context, sessionID string, resp interview.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	m.responses[sessionID] = append(m.responses[sessionID], resp)
	return nil
}

func (m *Memory) AppendTurns(ctx context.Context, sessionID string, turns []interview.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	existing := m.turns[sessionID]
	for _, t := range turns {
		if containsTurn(existing, t) {
			continue
		}
		existing = append(existing, t)
	}
	m.turns[sessionID] = existing
	return nil
}

// Session returns a copy of a session for test assertions.
func (m *Memory) Session(id string) (*interview.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return cloneSession(s), true
}

// Responses returns the stored responses for a session.
func (m *Memory) Responses(id string) []interview.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]interview.Response, len(m.responses[id]))
	copy(out, m.responses[id])
	return out
}

// Turns returns the stored turns for a session.
func (m *Memory) Turns(id string) []interview.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]interview.Turn, len(m.turns[id]))
	copy(out, m.turns[id])
	return out
}

func containsTurn(turns []interview.Turn, t interview.Turn) bool {
	for _, existing := range turns {
		if existing.Speaker == t.Speaker && existing.Text == t.Text && existing.Timestamp.Equal(t.Timestamp) {
			return true
		}
	}
	return false
}

func cloneSession(s *interview.Session) *interview.Session {
	out := *s
	if s.Checkpoint != nil {
		cp := *s.Checkpoint
		out.Checkpoint = &cp
	}
	return &out
}
