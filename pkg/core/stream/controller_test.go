package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/core/realtime"
	"github.com/fieldnote-ai/fieldnote/pkg/store"
)

type fakeConversation struct {
	events chan realtime.Event
	sent   [][]byte
	mu     sync.Mutex
	closed bool
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{events: make(chan realtime.Event, 100)}
}

func (f *fakeConversation) SendAudio(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConversation) Events() <-chan realtime.Event { return f.events }

func (f *fakeConversation) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

type fakeAgent struct {
	conv    *fakeConversation
	connErr error
	dials   atomic.Int32
}

func (f *fakeAgent) Name() string { return "fake" }

func (f *fakeAgent) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Conversation, error) {
	f.dials.Add(1)
	if f.connErr != nil {
		return nil, f.connErr
	}
	return f.conv, nil
}

type fakeLifecycle struct {
	completes atomic.Int32
}

func (f *fakeLifecycle) Session() (interview.Session, bool) {
	return interview.Session{ID: "sess_test"}, true
}

func (f *fakeLifecycle) Complete(ctx context.Context) error {
	f.completes.Add(1)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func aiTurn(text string) interview.Turn {
	return interview.Turn{Speaker: interview.SpeakerAI, Text: text, Timestamp: time.Now()}
}

func participantTurn(text string) interview.Turn {
	return interview.Turn{Speaker: interview.SpeakerParticipant, Text: text, Timestamp: time.Now()}
}

func TestOrbStateMapping(t *testing.T) {
	tests := []struct {
		status realtime.Status
		want   OrbState
	}{
		{realtime.StatusListening, OrbListening},
		{realtime.StatusSpeaking, OrbSpeaking},
		{realtime.StatusThinking, OrbThinking},
		{realtime.StatusConnecting, OrbThinking},
		{realtime.StatusDisconnected, OrbIdle},
	}
	for _, tt := range tests {
		if got := orbStateFor(tt.status); got != tt.want {
			t.Errorf("orbStateFor(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestTurnsFlushSuffixOnly(t *testing.T) {
	conv := newFakeConversation()
	agent := &fakeAgent{conv: conv}
	mem := store.NewMemory()
	mem.CreateSession(context.Background(), store.CreateSessionParams{ID: "sess_test"})
	c := NewController(agent, realtime.SessionConfig{SessionID: "sess_test"}, &fakeLifecycle{}, mem, nil, quietLogger())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conv.events <- &realtime.TurnEvent{Turn: aiTurn("Tell me about your day.")}
	waitFor(t, "first turn stored", func() bool {
		return len(mem.Turns("sess_test")) == 1
	})

	conv.events <- &realtime.TurnEvent{Turn: participantTurn("It was long.")}
	conv.events <- &realtime.TurnEvent{Turn: aiTurn("What made it long?")}
	waitFor(t, "three turns stored", func() bool {
		return len(mem.Turns("sess_test")) == 3
	})

	// Suffix-only: the early turns were not re-sent, so the store holds
	// each exactly once even though AppendTurns deduplicates.
	got := mem.Turns("sess_test")
	if got[0].Text != "Tell me about your day." || got[2].Text != "What made it long?" {
		t.Errorf("stored turns out of order: %+v", got)
	}
	conv.Close()
}

func TestFlushRetriesSuffixAfterStoreFailure(t *testing.T) {
	conv := newFakeConversation()
	agent := &fakeAgent{conv: conv}
	fs := &flakyStore{Memory: store.NewMemory(), failures: 1}
	fs.CreateSession(context.Background(), store.CreateSessionParams{ID: "sess_test"})
	c := NewController(agent, realtime.SessionConfig{SessionID: "sess_test"}, &fakeLifecycle{}, fs, nil, quietLogger())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First flush fails; the mark must not advance.
	conv.events <- &realtime.TurnEvent{Turn: aiTurn("First question?")}
	waitFor(t, "failed flush attempted", func() bool {
		return fs.attempts.Load() >= 1
	})
	if got := len(fs.Turns("sess_test")); got != 0 {
		t.Fatalf("store has %d turns after failed flush", got)
	}

	// Next flush re-sends the un-flushed suffix, both turns land once.
	conv.events <- &realtime.TurnEvent{Turn: participantTurn("An answer.")}
	waitFor(t, "both turns stored", func() bool {
		return len(fs.Turns("sess_test")) == 2
	})
	conv.Close()
}

// flakyStore fails the first N AppendTurns calls.
type flakyStore struct {
	*store.Memory
	failures int
	attempts atomic.Int32
}

func (f *flakyStore) AppendTurns(ctx context.Context, sessionID string, turns []interview.Turn) error {
	n := f.attempts.Add(1)
	if int(n) <= f.failures {
		return errors.New("connection reset")
	}
	return f.Memory.AppendTurns(ctx, sessionID, turns)
}

func TestNaturalCompletion(t *testing.T) {
	conv := newFakeConversation()
	agent := &fakeAgent{conv: conv}
	life := &fakeLifecycle{}
	mem := store.NewMemory()
	mem.CreateSession(context.Background(), store.CreateSessionParams{ID: "sess_test"})

	var released atomic.Int32
	c := NewController(agent, realtime.SessionConfig{SessionID: "sess_test"}, life, mem, func() {
		released.Add(1)
	}, quietLogger())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conv.events <- &realtime.TurnEvent{Turn: aiTurn("Thanks, that is everything!")}
	conv.Close()

	waitFor(t, "completion", func() bool {
		return life.completes.Load() == 1
	})
	if released.Load() != 1 {
		t.Errorf("media released %d times, want 1", released.Load())
	}
	if c.Orb() != OrbIdle {
		t.Errorf("orb = %s after completion, want idle", c.Orb())
	}
}

func TestNoCompletionWithoutTurns(t *testing.T) {
	conv := newFakeConversation()
	agent := &fakeAgent{conv: conv}
	life := &fakeLifecycle{}
	c := NewController(agent, realtime.SessionConfig{SessionID: "sess_test"}, life, store.NewMemory(), nil, quietLogger())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conv.Close()

	waitFor(t, "orb idle", func() bool { return c.Orb() == OrbIdle })
	if got := life.completes.Load(); got != 0 {
		t.Errorf("Complete called %d times for an empty conversation", got)
	}
}

func TestConnectFailureIsRetryable(t *testing.T) {
	agent := &fakeAgent{connErr: errors.New("dial tcp: refused")}
	c := NewController(agent, realtime.SessionConfig{}, &fakeLifecycle{}, store.NewMemory(), nil, quietLogger())

	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}

	// Retry with the same controller and session once the agent is back.
	agent.connErr = nil
	agent.conv = newFakeConversation()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if agent.dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", agent.dials.Load())
	}
	agent.conv.Close()
}

func TestSendAudioRelays(t *testing.T) {
	conv := newFakeConversation()
	agent := &fakeAgent{conv: conv}
	c := NewController(agent, realtime.SessionConfig{}, &fakeLifecycle{}, store.NewMemory(), nil, quietLogger())

	if err := c.SendAudio([]byte{1}); err == nil {
		t.Error("SendAudio before Start must fail")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	conv.mu.Lock()
	n := len(conv.sent)
	conv.mu.Unlock()
	if n != 1 {
		t.Errorf("relayed %d frames, want 1", n)
	}
	conv.Close()
}
