package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fieldnote-ai/fieldnote/pkg/core/voice/stt"
	"github.com/fieldnote-ai/fieldnote/pkg/core/voice/tts"
)

type fakeTTS struct {
	mu    sync.Mutex
	audio []byte
	err   error
	block chan struct{}
	calls int
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error) {
	f.mu.Lock()
	f.calls++
	audio, err, block := f.audio, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &tts.Synthesis{Audio: audio, Format: "pcm"}, nil
}

type fakeSTT struct {
	text string
	err  error
	got  []byte
	mu   sync.Mutex
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error) {
	data, _ := io.ReadAll(audio)
	f.mu.Lock()
	f.got = data
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &stt.Transcript{Text: f.text}, nil
}

type fakeStream struct {
	mu       sync.Mutex
	stops    int
	restarts int
}

func (s *fakeStream) StopTracks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeStream) RestartTracks() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	return nil
}

type fakeMedia struct {
	err      error
	stream   *fakeStream
	acquires int
	mu       sync.Mutex
}

func (m *fakeMedia) Acquire(ctx context.Context, c MediaConstraints) (MediaStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquires++
	if m.err != nil {
		return nil, m.err
	}
	if m.stream == nil {
		m.stream = &fakeStream{}
	}
	return m.stream, nil
}

func newTestController(t *testing.T, ttsClient TTSClient, sttClient STTClient, media MediaSource) *Controller {
	t.Helper()
	c := NewController(DefaultConfig(), ttsClient, sttClient, media)
	t.Cleanup(c.Close)
	return c
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func TestSpeakPlaysToCompletion(t *testing.T) {
	// A second of audio so the estimate timer cannot beat the ack.
	audio := make([]byte, DefaultConfig().BytesPerSecond())
	c := newTestController(t, &fakeTTS{audio: audio}, &fakeSTT{}, &fakeMedia{})

	results, err := c.Speak(context.Background(), SpeakRequest{Text: "Hello there."})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	waitState(t, c, StatePlaying)
	c.PlaybackFinished()

	res := <-results
	if res.Fallback || res.Interrupted || res.Stale {
		t.Errorf("unexpected result %+v", res)
	}
	if res.DurationMs != 1000 {
		t.Errorf("DurationMs = %d, want 1000", res.DurationMs)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s after completion, want IDLE", c.State())
	}
}

func TestSpeakRequiresIdle(t *testing.T) {
	blocked := make(chan struct{})
	defer close(blocked)
	c := newTestController(t, &fakeTTS{audio: []byte{1}, block: blocked}, &fakeSTT{}, &fakeMedia{})

	if _, err := c.Speak(context.Background(), SpeakRequest{Text: "one"}); err != nil {
		t.Fatalf("first Speak: %v", err)
	}
	if _, err := c.Speak(context.Background(), SpeakRequest{Text: "two"}); err == nil {
		t.Error("second Speak while busy must fail")
	}
}

func TestSpeakFallsBackOnSynthesisFailure(t *testing.T) {
	c := newTestController(t, &fakeTTS{err: errors.New("upstream 500")}, &fakeSTT{}, &fakeMedia{})

	results, err := c.Speak(context.Background(), SpeakRequest{Text: "Hello."})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	res := <-results
	if !res.Fallback {
		t.Errorf("result = %+v, want Fallback", res)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", c.State())
	}

	// The pipeline is usable immediately after the fallback.
	if err := c.StartRecording(context.Background()); err != nil {
		t.Errorf("StartRecording after fallback: %v", err)
	}
}

func TestCancelSpeakDiscardsStaleSynthesis(t *testing.T) {
	blocked := make(chan struct{})
	c := newTestController(t, &fakeTTS{audio: []byte{1, 2}, block: blocked}, &fakeSTT{}, &fakeMedia{})

	results, err := c.Speak(context.Background(), SpeakRequest{Text: "Old question."})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	before := c.Epoch()
	c.CancelSpeak()
	if c.Epoch() != before+1 {
		t.Errorf("epoch = %d, want %d", c.Epoch(), before+1)
	}
	close(blocked)

	res := <-results
	if !res.Stale {
		t.Errorf("result = %+v, want Stale", res)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", c.State())
	}
}

func TestBargeInTransitionsToRecording(t *testing.T) {
	audio := make([]byte, DefaultConfig().BytesPerSecond()*10)
	c := newTestController(t, &fakeTTS{audio: audio}, &fakeSTT{text: "hi"}, &fakeMedia{})

	results, err := c.Speak(context.Background(), SpeakRequest{Text: "A very long question."})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	waitState(t, c, StatePlaying)

	if err := c.InterruptAndRecord(); err != nil {
		t.Fatalf("InterruptAndRecord: %v", err)
	}
	if c.State() != StateRecording {
		t.Fatalf("state = %s after barge-in, want RECORDING", c.State())
	}

	res := <-results
	if !res.Interrupted {
		t.Errorf("result = %+v, want Interrupted", res)
	}

	// The interrupted capture still works end to end.
	c.PushAudio([]byte{1, 2, 3})
	text, ok := c.StopRecording(context.Background(), "en")
	if !ok || text != "hi" {
		t.Errorf("StopRecording = %q, %v", text, ok)
	}
}

func TestBargeInRequiresOutput(t *testing.T) {
	c := newTestController(t, &fakeTTS{}, &fakeSTT{}, &fakeMedia{})
	if err := c.InterruptAndRecord(); err == nil {
		t.Error("barge-in from idle must fail")
	}
}

func TestRecordingRequiresIdle(t *testing.T) {
	audio := make([]byte, DefaultConfig().BytesPerSecond()*10)
	c := newTestController(t, &fakeTTS{audio: audio}, &fakeSTT{}, &fakeMedia{})

	if _, err := c.Speak(context.Background(), SpeakRequest{Text: "Q"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	waitState(t, c, StatePlaying)

	if err := c.StartRecording(context.Background()); err == nil {
		t.Error("StartRecording while playing must fail")
	}
}

func TestStopRecordingTranscribesCapture(t *testing.T) {
	sttClient := &fakeSTT{text: " it was great "}
	media := &fakeMedia{}
	c := newTestController(t, &fakeTTS{}, sttClient, media)

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	c.PushAudio([]byte{1, 2})
	c.PushAudio([]byte{3})

	text, ok := c.StopRecording(context.Background(), "en")
	if !ok {
		t.Fatal("StopRecording not ok")
	}
	if text != "it was great" {
		t.Errorf("transcript = %q", text)
	}
	sttClient.mu.Lock()
	got := len(sttClient.got)
	sttClient.mu.Unlock()
	if got != 3 {
		t.Errorf("transcribed %d bytes, want 3", got)
	}
	if media.acquires != 1 {
		t.Errorf("acquired media %d times, want 1", media.acquires)
	}
}

func TestStopRecordingEmptyTranscriptionFails(t *testing.T) {
	c := newTestController(t, &fakeTTS{}, &fakeSTT{text: "   "}, &fakeMedia{})

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	c.PushAudio([]byte{1})

	if text, ok := c.StopRecording(context.Background(), "en"); ok {
		t.Errorf("empty transcription returned ok with %q", text)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", c.State())
	}
	// Retry works without reacquiring anything.
	if err := c.StartRecording(context.Background()); err != nil {
		t.Errorf("retry StartRecording: %v", err)
	}
}

func TestStopRecordingWithoutAudioFails(t *testing.T) {
	c := newTestController(t, &fakeTTS{}, &fakeSTT{text: "ghost"}, &fakeMedia{})

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, ok := c.StopRecording(context.Background(), "en"); ok {
		t.Error("no captured audio must not transcribe")
	}
}

func TestPushAudioOutsideRecordingIsDropped(t *testing.T) {
	sttClient := &fakeSTT{text: "x"}
	c := newTestController(t, &fakeTTS{}, sttClient, &fakeMedia{})

	c.PushAudio([]byte{9, 9, 9})
	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	c.PushAudio([]byte{1})
	c.StopRecording(context.Background(), "en")

	sttClient.mu.Lock()
	defer sttClient.mu.Unlock()
	if len(sttClient.got) != 1 {
		t.Errorf("captured %d bytes, want only the in-recording frame", len(sttClient.got))
	}
}

func TestReleaseAndRestartMedia(t *testing.T) {
	media := &fakeMedia{}
	c := newTestController(t, &fakeTTS{}, &fakeSTT{text: "x"}, media)

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	c.StopRecording(context.Background(), "en")

	c.ReleaseMedia()
	if media.stream.stops != 1 {
		t.Errorf("stops = %d, want 1", media.stream.stops)
	}
	if err := c.RestartMedia(); err != nil {
		t.Fatalf("RestartMedia: %v", err)
	}
	if media.stream.restarts != 1 {
		t.Errorf("restarts = %d, want 1", media.stream.restarts)
	}
}
