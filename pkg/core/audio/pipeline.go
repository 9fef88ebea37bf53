// Package audio implements the pipeline controller that owns the
// microphone/speaker resource for one interview session. It serializes
// text-to-speech playback, microphone capture, and transcription behind
// a small state machine, and guards every asynchronous result with the
// question epoch it was issued under.
package audio

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/voice/stt"
	"github.com/fieldnote-ai/fieldnote/pkg/core/voice/tts"
)

// TTSClient is the synthesis surface the controller needs.
type TTSClient interface {
	Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error)
}

// STTClient is the transcription surface the controller needs.
type STTClient interface {
	Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error)
}

// SpeakRequest describes one utterance.
type SpeakRequest struct {
	Text      string
	VoiceID   string
	Language  string
	SessionID string
}

// SpeakResult is how a Speak call resolves. Failures resolve with
// Fallback set rather than an error so the caller can continue
// text-only; Stale means the question epoch advanced while the request
// was in flight and the result was discarded without any state change.
type SpeakResult struct {
	DurationMs  int
	Fallback    bool
	Interrupted bool
	Stale       bool
}

// playbackSlackMs pads the estimated playback window so a client ack
// that arrives slightly late does not race the auto-completion timer.
const playbackSlackMs = 500

// Controller is the audio pipeline state machine. At most one of
// playing/recording is ever active, except during the single atomic
// barge-in transition in InterruptAndRecord.
type Controller struct {
	cfg Config

	tts   TTSClient
	stt   STTClient
	media MediaSource

	mu          sync.Mutex
	state       State
	epoch       uint64
	stream      MediaStream
	speakCancel context.CancelFunc
	playbackAck chan struct{}
	recBuf      bytes.Buffer

	emitMu sync.Mutex
	events chan Event
	closed atomic.Bool
}

// NewController creates a pipeline controller in the idle state.
func NewController(cfg Config, ttsClient TTSClient, sttClient STTClient, media MediaSource) *Controller {
	if cfg.SampleRate == 0 {
		cfg = DefaultConfig()
	}
	return &Controller{
		cfg:    cfg,
		tts:    ttsClient,
		stt:    sttClient,
		media:  media,
		state:  StateIdle,
		events: make(chan Event, 100),
	}
}

// State returns the current pipeline state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch returns the current question epoch.
func (c *Controller) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Events returns the channel of pipeline events for the presentation
// boundary.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Speak synthesizes and plays one utterance. It returns immediately
// with a channel that resolves exactly once. Cancelling the returned
// operation (via CancelSpeak, InterruptAndRecord, or ctx) discards the
// in-flight synthesis without playing audio.
func (c *Controller) Speak(ctx context.Context, req SpeakRequest) (<-chan SpeakResult, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return nil, core.NewSessionStateError("speak requires idle pipeline, state is " + state.String())
	}
	epoch := c.epoch
	speakCtx, cancel := context.WithCancel(ctx)
	c.speakCancel = cancel
	c.playbackAck = make(chan struct{}, 1)
	ack := c.playbackAck
	c.setStateLocked(StateSynthesizing)
	c.mu.Unlock()

	c.emit(&SpeakStartedEvent{Epoch: epoch, Text: req.Text})

	result := make(chan SpeakResult, 1)
	go c.runSpeak(speakCtx, cancel, epoch, req, ack, result)
	return result, nil
}

func (c *Controller) runSpeak(ctx context.Context, cancel context.CancelFunc, epoch uint64, req SpeakRequest, ack chan struct{}, result chan<- SpeakResult) {
	defer cancel()

	synth, err := c.tts.Synthesize(ctx, req.Text, tts.SynthesizeOptions{
		Voice:      req.VoiceID,
		Language:   req.Language,
		Format:     "pcm",
		SampleRate: c.cfg.SampleRate,
	})

	c.mu.Lock()
	if epoch != c.epoch || ctx.Err() != nil {
		// The question changed (or a barge-in fired) while synthesis was
		// in flight. Whoever advanced the epoch already owns the state
		// machine; discard this result entirely.
		c.mu.Unlock()
		result <- SpeakResult{Stale: true, Interrupted: ctx.Err() != nil}
		return
	}
	if err != nil || synth == nil || len(synth.Audio) == 0 {
		// Synthesis failure falls back to silent, text-only presentation.
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		c.emit(&SpeakFinishedEvent{Epoch: epoch, Fallback: true})
		result <- SpeakResult{Fallback: true}
		return
	}
	c.setStateLocked(StatePlaying)
	c.mu.Unlock()

	c.emit(&AudioDeltaEvent{Data: synth.Audio, Format: synth.Format})

	durationMs := c.cfg.DurationMs(len(synth.Audio))
	timer := time.NewTimer(time.Duration(durationMs+playbackSlackMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		// Interrupted mid-playback; the interrupter performed the state
		// transition and flushed client audio.
		result <- SpeakResult{Interrupted: true, DurationMs: durationMs}
		return
	case <-ack:
	case <-timer.C:
	}

	c.mu.Lock()
	if epoch != c.epoch || ctx.Err() != nil {
		c.mu.Unlock()
		result <- SpeakResult{Stale: true, Interrupted: ctx.Err() != nil, DurationMs: durationMs}
		return
	}
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	c.emit(&SpeakFinishedEvent{Epoch: epoch, DurationMs: durationMs})
	result <- SpeakResult{DurationMs: durationMs}
}

// PlaybackFinished is called when the client reports that it played the
// last delivered audio; it completes the in-flight Speak early instead
// of waiting out the estimated duration.
func (c *Controller) PlaybackFinished() {
	c.mu.Lock()
	ack := c.playbackAck
	c.mu.Unlock()
	if ack != nil {
		select {
		case ack <- struct{}{}:
		default:
		}
	}
}

// CancelSpeak abandons any in-flight Speak: the epoch advances so a
// late synthesis result is discarded, the client flushes buffered
// audio, and the pipeline returns to idle. Navigation changes must call
// this for the abandoned item.
func (c *Controller) CancelSpeak() {
	c.mu.Lock()
	cancel := c.speakCancel
	c.speakCancel = nil
	active := c.state == StateSynthesizing || c.state == StatePlaying
	if active {
		c.epoch++
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if active {
		c.emit(&AudioFlushEvent{})
	}
}

// AdvanceEpoch marks a question change that has no speak in flight, so
// any still-unresolved async result from the previous question is
// discarded when it lands.
func (c *Controller) AdvanceEpoch() {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()
}

// StartRecording begins microphone capture. Permitted only from idle.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return core.NewSessionStateError("recording requires idle pipeline, state is " + state.String())
	}
	needStream := c.stream == nil && c.media != nil
	c.mu.Unlock()

	if needStream {
		stream, err := c.media.Acquire(ctx, MediaConstraints{Audio: true})
		if err != nil {
			return ClassifyMediaError(err)
		}
		c.mu.Lock()
		c.stream = stream
		c.mu.Unlock()
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return core.NewSessionStateError("recording requires idle pipeline, state is " + state.String())
	}
	c.recBuf.Reset()
	c.setStateLocked(StateRecording)
	c.mu.Unlock()

	c.emit(&RecordingStartedEvent{})
	return nil
}

// InterruptAndRecord is the barge-in path: from playing or synthesizing
// it halts audio output, discards the in-flight synthesis buffer, and
// transitions directly to recording without passing through idle.
func (c *Controller) InterruptAndRecord() error {
	c.mu.Lock()
	if c.state != StatePlaying && c.state != StateSynthesizing {
		state := c.state
		c.mu.Unlock()
		return core.NewSessionStateError("interrupt requires playing or synthesizing, state is " + state.String())
	}
	c.epoch++
	cancel := c.speakCancel
	c.speakCancel = nil
	c.recBuf.Reset()
	c.setStateLocked(StateRecording)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.emit(&AudioFlushEvent{})
	c.emit(&RecordingStartedEvent{})
	return nil
}

// PushAudio feeds captured microphone audio. Frames arriving outside
// the recording state are dropped.
func (c *Controller) PushAudio(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return
	}
	c.recBuf.Write(data)
}

// StopRecording ends capture and transcribes it. It returns ok=false
// when transcription failed or produced nothing; the caller stays on
// the current question and lets the participant retry.
func (c *Controller) StopRecording(ctx context.Context, language string) (string, bool) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return "", false
	}
	epoch := c.epoch
	captured := make([]byte, c.recBuf.Len())
	copy(captured, c.recBuf.Bytes())
	c.recBuf.Reset()
	c.setStateLocked(StateTranscribing)
	c.mu.Unlock()

	var text string
	var failure string
	if len(captured) == 0 {
		failure = "no audio captured"
	} else {
		tr, err := c.stt.Transcribe(ctx, bytes.NewReader(captured), stt.TranscribeOptions{
			Language:   language,
			Format:     "pcm",
			SampleRate: c.cfg.SampleRate,
		})
		switch {
		case err != nil:
			failure = err.Error()
		case tr == nil || strings.TrimSpace(tr.Text) == "":
			failure = "empty transcription"
		default:
			text = strings.TrimSpace(tr.Text)
		}
	}

	c.mu.Lock()
	if epoch != c.epoch {
		// The question advanced while transcription was in flight.
		c.mu.Unlock()
		return "", false
	}
	if failure != "" {
		c.setStateLocked(StateError)
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		c.emit(&TranscriptionFailedEvent{Reason: failure})
		return "", false
	}
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	c.emit(&TranscriptEvent{Text: text})
	return text, true
}

// ReleaseMedia stops the owned media tracks. Called on pause and on
// completion; the controller is the stream's only stop/restart owner.
func (c *Controller) ReleaseMedia() {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.StopTracks()
	}
}

// RestartMedia reacquires stopped tracks after a resume.
func (c *Controller) RestartMedia() error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return nil
	}
	if err := stream.RestartTracks(); err != nil {
		return ClassifyMediaError(err)
	}
	return nil
}

// Close shuts the controller down and closes the events channel.
func (c *Controller) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.CancelSpeak()
	c.ReleaseMedia()

	c.emitMu.Lock()
	close(c.events)
	c.emitMu.Unlock()
}

// setStateLocked updates state and emits a change event. Callers hold mu.
func (c *Controller) setStateLocked(next State) {
	prev := c.state
	c.state = next
	if prev != next {
		c.emit(&StateChangedEvent{From: prev, To: next})
	}
}

// emit sends an event without blocking; if the consumer has fallen
// behind the event is dropped.
func (c *Controller) emit(event Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.closed.Load() {
		return
	}
	select {
	case c.events <- event:
	default:
	}
}
