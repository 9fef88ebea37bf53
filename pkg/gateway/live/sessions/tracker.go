package sessions

import (
	"context"
	"sync"
)

// Handle is the control surface a live interview connection registers
// for the drain path.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

// Tracker indexes open interview connections by session ID. A resumed
// session that reconnects under the same ID displaces the previous
// connection, so a stale tab cannot keep driving the interview.
type Tracker struct {
	mu   sync.Mutex
	open map[string]*trackedConn
	wg   sync.WaitGroup
}

type trackedConn struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{open: make(map[string]*trackedConn)}
}

// Register adds a connection and returns its unregister function.
// Unregister is idempotent.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedConn{handle: h}

	t.mu.Lock()
	if t.open == nil {
		t.open = make(map[string]*trackedConn)
	}
	displaced := t.open[sessionID]
	t.open[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if displaced != nil {
		t.drop(sessionID, displaced)
		if displaced.handle.Cancel != nil {
			displaced.handle.Cancel()
		}
	}

	return func() { t.drop(sessionID, entry) }
}

func (t *Tracker) drop(sessionID string, entry *trackedConn) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.open[sessionID] == entry {
			delete(t.open, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// WarnAll sends a best-effort warning to every open connection. Send
// failures are ignored; the connection is about to die anyway.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	warns := make([]func(code, message string) error, 0, len(t.open))
	for _, entry := range t.open {
		if entry != nil && entry.handle.Warn != nil {
			warns = append(warns, entry.handle.Warn)
		}
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll aborts every open connection.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	cancels := make([]func(), 0, len(t.open))
	for _, entry := range t.open {
		if entry != nil && entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered connection has unregistered or the
// context expires. It reports whether the drain finished in time.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
