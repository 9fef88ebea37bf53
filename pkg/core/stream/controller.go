// Package stream drives streaming-mode interviews: a continuous
// conversation with a remote agent that asks its own follow-ups. The
// controller relays participant audio up, agent audio down, persists
// finalized turns, and detects when the conversation has naturally
// ended.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/core/realtime"
	"github.com/fieldnote-ai/fieldnote/pkg/store"
)

// OrbState is the presentation state of the conversation orb.
type OrbState string

const (
	OrbIdle      OrbState = "idle"
	OrbListening OrbState = "listening"
	OrbSpeaking  OrbState = "speaking"
	OrbThinking  OrbState = "thinking"
)

// orbStateFor maps the remote agent status onto the four orb states.
func orbStateFor(s realtime.Status) OrbState {
	switch s {
	case realtime.StatusListening:
		return OrbListening
	case realtime.StatusSpeaking:
		return OrbSpeaking
	case realtime.StatusConnecting, realtime.StatusThinking:
		return OrbThinking
	default:
		return OrbIdle
	}
}

// connectingFloor is how long the thinking orb stays up on connect even
// when the agent answers faster, so the transition reads as deliberate
// rather than as a flicker.
const connectingFloor = 400 * time.Millisecond

// Event is a controller event for the presentation boundary.
type Event interface {
	EventType() string
}

// OrbChangedEvent reports an orb state change.
type OrbChangedEvent struct {
	State OrbState
}

func (e *OrbChangedEvent) EventType() string { return "orb.changed" }

// TurnAddedEvent reports a newly finalized conversation turn.
type TurnAddedEvent struct {
	Turn interview.Turn
}

func (e *TurnAddedEvent) EventType() string { return "turn.added" }

// AudioEvent carries agent speech for client playback.
type AudioEvent struct {
	Data []byte
}

func (e *AudioEvent) EventType() string { return "audio.delta" }

// AgentErrorEvent surfaces a remote failure. Retryable means the client
// may call Start again without a new session.
type AgentErrorEvent struct {
	Err       *core.Error
	Retryable bool
}

func (e *AgentErrorEvent) EventType() string { return "agent.error" }

// CompletedEvent fires once when the conversation ends naturally.
type CompletedEvent struct{}

func (e *CompletedEvent) EventType() string { return "conversation.completed" }

// Lifecycle is the session surface the controller completes through.
type Lifecycle interface {
	Session() (interview.Session, bool)
	Complete(ctx context.Context) error
}

// Controller runs one streaming conversation. Safe for concurrent use.
type Controller struct {
	agent  realtime.Agent
	cfg    realtime.SessionConfig
	life   Lifecycle
	store  store.Store
	logger *slog.Logger

	// releaseMedia is invoked once on natural completion.
	releaseMedia func()

	mu      sync.Mutex
	conv    realtime.Conversation
	orb     OrbState
	turns   []interview.Turn
	flushed int
	running bool

	completed atomic.Bool
	closed    atomic.Bool

	emitMu sync.Mutex
	events chan Event
}

// NewController creates a streaming controller. releaseMedia may be nil.
func NewController(agent realtime.Agent, cfg realtime.SessionConfig, life Lifecycle, st store.Store, releaseMedia func(), logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		agent:        agent,
		cfg:          cfg,
		life:         life,
		store:        st,
		releaseMedia: releaseMedia,
		logger:       logger,
		orb:          OrbIdle,
		events:       make(chan Event, 100),
	}
}

// Events yields controller events for the presentation boundary.
func (c *Controller) Events() <-chan Event { return c.events }

// Orb returns the current orb state.
func (c *Controller) Orb() OrbState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orb
}

// Turns returns a copy of the conversation so far.
func (c *Controller) Turns() []interview.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interview.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Start connects to the agent and begins relaying. After a retryable
// failure Start may be called again; the turn buffer and the session
// carry over, only the connection is new.
func (c *Controller) Start(ctx context.Context) error {
	if c.completed.Load() {
		return core.NewSessionStateError("conversation already completed")
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return core.NewSessionStateError("conversation already running")
	}
	c.running = true
	c.mu.Unlock()

	c.setOrb(OrbThinking)
	started := time.Now()

	conv, err := c.agent.Connect(ctx, c.cfg)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.setOrb(OrbIdle)
		apiErr := &core.Error{
			Type:      core.ErrAPI,
			Message:   "could not reach the interviewer",
			Code:      "agent_connect_failed",
			Retryable: true,
		}
		c.emit(&AgentErrorEvent{Err: apiErr, Retryable: true})
		return apiErr
	}

	// Hold the thinking orb up to the floor so connects do not flicker.
	if elapsed := time.Since(started); elapsed < connectingFloor {
		time.Sleep(connectingFloor - elapsed)
	}

	c.mu.Lock()
	c.conv = conv
	c.mu.Unlock()

	go c.run(conv)
	return nil
}

// SendAudio relays a participant audio frame to the agent.
func (c *Controller) SendAudio(data []byte) error {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return core.NewSessionStateError("conversation not connected")
	}
	return conv.SendAudio(data)
}

// Close tears down the connection without completing the session.
func (c *Controller) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	conv := c.conv
	c.conv = nil
	c.mu.Unlock()
	if conv != nil {
		conv.Close()
	}
	c.emitMu.Lock()
	close(c.events)
	c.emitMu.Unlock()
}

func (c *Controller) run(conv realtime.Conversation) {
	for event := range conv.Events() {
		switch ev := event.(type) {
		case *realtime.StatusEvent:
			if ev.Status == realtime.StatusDisconnected {
				continue
			}
			c.setOrb(orbStateFor(ev.Status))
		case *realtime.TurnEvent:
			c.addTurn(ev.Turn)
		case *realtime.AudioEvent:
			c.emit(&AudioEvent{Data: ev.Data})
		case *realtime.ErrorEvent:
			c.logger.Warn("agent error", "error", ev.Err, "retryable", ev.Retryable)
			c.emit(&AgentErrorEvent{
				Err: &core.Error{
					Type:      core.ErrAPI,
					Message:   "the interviewer hit a problem",
					Code:      "agent_error",
					Retryable: ev.Retryable,
				},
				Retryable: ev.Retryable,
			})
		}
	}

	c.mu.Lock()
	c.running = false
	c.conv = nil
	hasTurns := len(c.turns) > 0
	c.mu.Unlock()

	c.setOrb(OrbIdle)

	// Natural end: the agent hung up after a real conversation.
	if hasTurns && !c.closed.Load() {
		c.complete()
	}
}

func (c *Controller) complete() {
	if c.completed.Swap(true) {
		return
	}
	c.flushTurns()
	if c.releaseMedia != nil {
		c.releaseMedia()
	}
	if err := c.life.Complete(context.Background()); err != nil {
		c.logger.Warn("complete session failed", "error", err)
	}
	c.emit(&CompletedEvent{})
}

// addTurn buffers a finalized turn and flushes the new suffix.
func (c *Controller) addTurn(turn interview.Turn) {
	c.mu.Lock()
	c.turns = append(c.turns, turn)
	c.mu.Unlock()
	c.emit(&TurnAddedEvent{Turn: turn})
	c.flushTurns()
}

// flushTurns persists the turns past the last-flushed mark. The mark
// only advances on success; a failed write re-sends the same suffix on
// the next flush and the store deduplicates.
func (c *Controller) flushTurns() {
	sess, ok := c.life.Session()
	if !ok {
		return
	}

	c.mu.Lock()
	suffix := make([]interview.Turn, len(c.turns)-c.flushed)
	copy(suffix, c.turns[c.flushed:])
	mark := len(c.turns)
	c.mu.Unlock()

	if len(suffix) == 0 {
		return
	}
	if err := c.store.AppendTurns(context.Background(), sess.ID, suffix); err != nil {
		c.logger.Warn("append turns failed", "session", sess.ID, "count", len(suffix), "error", err)
		return
	}

	c.mu.Lock()
	if mark > c.flushed {
		c.flushed = mark
	}
	c.mu.Unlock()
}

func (c *Controller) setOrb(s OrbState) {
	c.mu.Lock()
	if c.orb == s {
		c.mu.Unlock()
		return
	}
	c.orb = s
	c.mu.Unlock()
	c.emit(&OrbChangedEvent{State: s})
}

func (c *Controller) emit(event Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.closed.Load() {
		return
	}
	select {
	case c.events <- event:
	default:
		// Slow consumers lose events rather than stall the relay.
	}
}
