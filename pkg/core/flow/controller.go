// Package flow drives structured interviews: one script item at a time,
// speak the question, collect the response, persist, advance. The
// controller owns the navigation pointer; the audio pipeline owns the
// device and the voice round-trip.
package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/audio"
	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/store"
)

// Phase is the per-item machine the controller walks for each question.
type Phase int

const (
	PhaseEntering Phase = iota
	PhaseSpeaking
	PhaseAwaitingResponse
	PhaseSubmitting
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseEntering:
		return "ENTERING"
	case PhaseSpeaking:
		return "SPEAKING"
	case PhaseAwaitingResponse:
		return "AWAITING_RESPONSE"
	case PhaseSubmitting:
		return "SUBMITTING"
	case PhaseComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Pipeline is the audio surface the controller drives.
type Pipeline interface {
	State() audio.State
	Speak(ctx context.Context, req audio.SpeakRequest) (<-chan audio.SpeakResult, error)
	CancelSpeak()
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context, language string) (string, bool)
	InterruptAndRecord() error
}

// Lifecycle is the session surface the controller completes through.
type Lifecycle interface {
	Session() (interview.Session, bool)
	Complete(ctx context.Context) error
}

// Controller walks a script in structured mode. Safe for concurrent use
// by the transport layer and the pipeline's event consumers.
type Controller struct {
	script   *interview.Script
	pipeline Pipeline
	life     Lifecycle
	store    store.Store
	logger   *slog.Logger

	mu      sync.Mutex
	pointer interview.Pointer
	phase   Phase
	resumed bool
	started bool

	writeMu    sync.Mutex
	writeQueue []interview.Response
	draining   bool
}

// NewController creates a flow controller over an immutable script.
func NewController(script *interview.Script, pipeline Pipeline, life Lifecycle, st store.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		script:   script,
		pipeline: pipeline,
		life:     life,
		store:    st,
		logger:   logger,
	}
}

// Begin starts a fresh session at the first item and speaks the greeting
// block followed by the first question.
func (c *Controller) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return core.NewSessionStateError("interview already started")
	}
	c.started = true
	c.resumed = false
	c.pointer = interview.Pointer{}
	c.mu.Unlock()
	return c.speakCurrent(ctx)
}

// ResumeAt restores a paused session to the exact stored checkpoint. The
// question is re-spoken; the greeting is not.
func (c *Controller) ResumeAt(ctx context.Context, checkpoint interview.Pointer) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return core.NewSessionStateError("interview already started")
	}
	if _, ok := c.script.Item(checkpoint); !ok {
		c.mu.Unlock()
		return core.NewInvalidRequestError("checkpoint is outside the script")
	}
	c.started = true
	c.resumed = true
	c.pointer = checkpoint
	c.mu.Unlock()
	return c.speakCurrent(ctx)
}

// Pointer returns the current navigation pointer.
func (c *Controller) Pointer() interview.Pointer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pointer
}

// Phase returns the current per-item phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// CurrentItem returns the item under the pointer.
func (c *Controller) CurrentItem() (interview.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.script.Item(c.pointer)
}

// QuestionNumber returns the 1-based question number under the pointer.
func (c *Controller) QuestionNumber() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pointer.QuestionNumber(c.script)
}

// Progress returns completion percent for the pointer position.
func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pointer.Progress(c.script)
}

// Layout returns the presentation variant for the current item.
func (c *Controller) Layout() interview.LayoutVariant {
	c.mu.Lock()
	item, _ := c.script.Item(c.pointer)
	c.mu.Unlock()
	return interview.LayoutFor(c.script, item)
}

// MicState derives the mic button state from the live pipeline state.
func (c *Controller) MicState() MicState {
	return MicStateFor(c.pipeline.State())
}

// Record starts capturing the participant's answer, interrupting the
// question mid-playback when they barge in.
func (c *Controller) Record(ctx context.Context) error {
	switch c.pipeline.State() {
	case audio.StatePlaying, audio.StateSynthesizing:
		return c.pipeline.InterruptAndRecord()
	default:
		return c.pipeline.StartRecording(ctx)
	}
}

// FinishRecording stops capture and, when transcription produced text,
// submits it as the answer to the current question. A failed or empty
// transcription leaves the pointer where it is; the participant can
// record again.
func (c *Controller) FinishRecording(ctx context.Context) error {
	transcript, ok := c.pipeline.StopRecording(ctx, c.script.Language)
	if !ok {
		return nil
	}
	return c.Submit(ctx, interview.Response{Transcript: transcript})
}

// Submit records the response and advances. Persistence is
// fire-and-forget: a write failure is logged and the interview moves on.
// Completing the last item fires session completion.
func (c *Controller) Submit(ctx context.Context, resp interview.Response) error {
	c.mu.Lock()
	if c.phase == PhaseComplete {
		c.mu.Unlock()
		return core.NewSessionStateError("interview already completed")
	}
	item, ok := c.script.Item(c.pointer)
	if !ok {
		c.mu.Unlock()
		return core.NewSessionStateError("pointer is outside the script")
	}
	if resp.ItemID == "" {
		resp.ItemID = item.ID
	}
	if resp.AnsweredAt.IsZero() {
		resp.AnsweredAt = time.Now()
	}
	c.phase = PhaseSubmitting
	c.mu.Unlock()

	// Leaving the item invalidates any in-flight question audio.
	c.pipeline.CancelSpeak()

	c.persistResponse(resp)

	c.mu.Lock()
	next, done := c.pointer.Next(c.script)
	if done {
		c.phase = PhaseComplete
		c.mu.Unlock()
		return c.life.Complete(ctx)
	}
	c.pointer = next
	c.phase = PhaseEntering
	c.mu.Unlock()
	return c.speakCurrent(ctx)
}

// Skip advances past an instruction item without recording a response.
func (c *Controller) Skip(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == PhaseComplete {
		c.mu.Unlock()
		return core.NewSessionStateError("interview already completed")
	}
	c.mu.Unlock()

	c.pipeline.CancelSpeak()

	c.mu.Lock()
	next, done := c.pointer.Next(c.script)
	if done {
		c.phase = PhaseComplete
		c.mu.Unlock()
		return c.life.Complete(ctx)
	}
	c.pointer = next
	c.phase = PhaseEntering
	c.mu.Unlock()
	return c.speakCurrent(ctx)
}

// Completed reports whether the walk has reached the end of the script.
func (c *Controller) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseComplete
}

// persistResponse queues a store write without blocking the caller.
// A single drainer works the queue in order, so persisted responses
// keep submission order; a failed write is logged and skipped.
func (c *Controller) persistResponse(resp interview.Response) {
	sess, ok := c.life.Session()
	if !ok {
		c.logger.Warn("response dropped, no session", "item", resp.ItemID)
		return
	}

	c.writeMu.Lock()
	c.writeQueue = append(c.writeQueue, resp)
	if c.draining {
		c.writeMu.Unlock()
		return
	}
	c.draining = true
	c.writeMu.Unlock()
	go c.drainResponses(sess.ID)
}

func (c *Controller) drainResponses(sessionID string) {
	for {
		c.writeMu.Lock()
		if len(c.writeQueue) == 0 {
			c.draining = false
			c.writeMu.Unlock()
			return
		}
		resp := c.writeQueue[0]
		c.writeQueue = c.writeQueue[1:]
		c.writeMu.Unlock()

		if err := c.store.SubmitResponse(context.Background(), sessionID, resp); err != nil {
			c.logger.Warn("submit response failed", "session", sessionID, "item", resp.ItemID, "error", err)
		}
	}
}

// speakCurrent voices the question under the pointer. The first question
// of a fresh session is prefixed with the greeting block. The result is
// consumed asynchronously; a result that arrives after the pointer moved
// on is dropped.
func (c *Controller) speakCurrent(ctx context.Context) error {
	c.mu.Lock()
	item, ok := c.script.Item(c.pointer)
	if !ok {
		c.mu.Unlock()
		return core.NewSessionStateError("pointer is outside the script")
	}
	// Nothing to voice: items without question text (stimulus-only
	// screens, for example) and scripts without a voice skip synthesis
	// and wait for the response directly.
	if item.Question == "" || c.script.VoiceID == "" {
		c.phase = PhaseAwaitingResponse
		c.mu.Unlock()
		return nil
	}
	text := item.Question
	if c.pointer.IsFirst() && !c.resumed {
		text = Greeting(c.script) + " " + text
	}
	issuedAt := c.pointer
	c.phase = PhaseSpeaking
	c.mu.Unlock()

	var sessionID string
	if sess, ok := c.life.Session(); ok {
		sessionID = sess.ID
	}
	results, err := c.pipeline.Speak(ctx, audio.SpeakRequest{
		Text:      text,
		VoiceID:   c.script.VoiceID,
		Language:  c.script.Language,
		SessionID: sessionID,
	})
	if err != nil {
		c.mu.Lock()
		if c.pointer == issuedAt && c.phase == PhaseSpeaking {
			c.phase = PhaseAwaitingResponse
		}
		c.mu.Unlock()
		return nil
	}

	go func() {
		res := <-results
		if res.Stale {
			return
		}
		c.mu.Lock()
		if c.pointer == issuedAt && c.phase == PhaseSpeaking {
			c.phase = PhaseAwaitingResponse
		}
		c.mu.Unlock()
	}()
	return nil
}
