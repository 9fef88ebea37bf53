package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/core/stream"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/live/protocol"
)

func newBareSession(t *testing.T) *LiveSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &LiveSession{
		ctx:              ctx,
		cancel:           cancel,
		now:              time.Now,
		outboundPriority: make(chan outboundFrame, 8),
		outboundNormal:   make(chan outboundFrame, 8),
		binaryAudioOut:   true,
	}
}

func drainText(t *testing.T, ch chan outboundFrame) string {
	t.Helper()
	select {
	case frame := <-ch:
		return string(frame.textPayload)
	default:
		t.Fatal("expected a queued frame")
		return ""
	}
}

func TestResponseFromAnswer(t *testing.T) {
	if got := responseFromAnswer(nil); got.Transcript != "" || got.Rating != 0 {
		t.Fatalf("nil answer should produce a zero response, got %+v", got)
	}

	rating := 4
	got := responseFromAnswer(&protocol.Answer{
		Transcript: "loved it",
		Selections: []string{"a", "b"},
		Rating:     &rating,
		Ranking:    []string{"b", "a"},
	})
	if got.Transcript != "loved it" || len(got.Selections) != 2 || got.Rating != 4 || len(got.Ranking) != 2 {
		t.Fatalf("response=%+v", got)
	}
}

func TestSendOpError_MapsCoreError(t *testing.T) {
	s := newBareSession(t)

	s.sendOpError(&core.Error{
		Type:      core.ErrAPI,
		Message:   "could not reach the interviewer",
		Code:      "agent_connect_failed",
		Retryable: true,
	})

	payload := drainText(t, s.outboundPriority)
	if !strings.Contains(payload, `"code":"agent_connect_failed"`) {
		t.Fatalf("payload=%q", payload)
	}
	if !strings.Contains(payload, `"retryable":true`) {
		t.Fatalf("payload=%q", payload)
	}
}

func TestSendOpError_HidesUnknownErrors(t *testing.T) {
	s := newBareSession(t)

	s.sendOpError(context.DeadlineExceeded)

	payload := drainText(t, s.outboundPriority)
	if !strings.Contains(payload, `"code":"internal_error"`) {
		t.Fatalf("payload=%q", payload)
	}
	if strings.Contains(payload, "deadline") {
		t.Fatalf("internal detail leaked: %q", payload)
	}
}

func TestSendDecodeError_KeepsTypedCode(t *testing.T) {
	s := newBareSession(t)

	_, err := protocol.DecodeClientMessage([]byte(`{"type":""}`))
	if err == nil {
		t.Fatal("expected a decode error")
	}
	s.sendDecodeError(err)

	payload := drainText(t, s.outboundPriority)
	if !strings.Contains(payload, `"code":"bad_request"`) {
		t.Fatalf("payload=%q", payload)
	}
	if !strings.Contains(payload, "message type is required") {
		t.Fatalf("payload=%q", payload)
	}
}

func TestSendDecodeError_FallsBackForUntypedErrors(t *testing.T) {
	s := newBareSession(t)

	s.sendDecodeError(context.DeadlineExceeded)

	payload := drainText(t, s.outboundPriority)
	if !strings.Contains(payload, `"code":"bad_request"`) {
		t.Fatalf("payload=%q", payload)
	}
	if strings.Contains(payload, "deadline") {
		t.Fatalf("internal detail leaked: %q", payload)
	}
}

func TestForwardStreamEvent_Translation(t *testing.T) {
	s := newBareSession(t)

	if done := s.forwardStreamEvent(&stream.OrbChangedEvent{State: stream.OrbSpeaking}); done {
		t.Fatal("orb change should not end the session")
	}
	payload := drainText(t, s.outboundNormal)
	if !strings.Contains(payload, `"type":"orb_state"`) || !strings.Contains(payload, `"speaking"`) {
		t.Fatalf("payload=%q", payload)
	}

	spoken := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.forwardStreamEvent(&stream.TurnAddedEvent{Turn: interview.Turn{
		Speaker:   interview.SpeakerAI,
		Text:      "Why did that surprise you?",
		Timestamp: spoken,
		IsProbe:   true,
	}})
	payload = drainText(t, s.outboundNormal)
	if !strings.Contains(payload, `"speaker":"ai"`) || !strings.Contains(payload, `"is_probe":true`) {
		t.Fatalf("payload=%q", payload)
	}

	if done := s.forwardStreamEvent(&stream.CompletedEvent{}); !done {
		t.Fatal("completion should end the session")
	}
	payload = drainText(t, s.outboundNormal)
	if !strings.Contains(payload, `"type":"completed"`) {
		t.Fatalf("payload=%q", payload)
	}
}

func TestSendAudioOut_RespectsNegotiatedTransport(t *testing.T) {
	s := newBareSession(t)

	s.sendAudioOut([]byte{0x01, 0x02})
	select {
	case frame := <-s.outboundNormal:
		if len(frame.binaryPayload) != 2 || frame.textPayload != nil {
			t.Fatalf("frame=%+v", frame)
		}
	default:
		t.Fatal("expected a binary frame")
	}

	s.binaryAudioOut = false
	s.sendAudioOut([]byte{0x01, 0x02})
	payload := drainText(t, s.outboundNormal)
	if !strings.Contains(payload, `"type":"audio"`) {
		t.Fatalf("payload=%q", payload)
	}

	s.sendAudioOut(nil)
	select {
	case <-s.outboundNormal:
		t.Fatal("empty audio should not be queued")
	default:
	}
}

func TestEnqueueNormal_DropsOldestUnderBackpressure(t *testing.T) {
	s := newBareSession(t)
	s.outboundNormal = make(chan outboundFrame, 1)

	if err := s.enqueueNormal(outboundFrame{textPayload: []byte("first")}); err != nil {
		t.Fatalf("enqueueNormal() error = %v", err)
	}
	if err := s.enqueueNormal(outboundFrame{textPayload: []byte("second")}); err != nil {
		t.Fatalf("enqueueNormal() error = %v", err)
	}

	frame := <-s.outboundNormal
	if string(frame.textPayload) != "second" {
		t.Fatalf("kept frame = %q, want the newest", frame.textPayload)
	}
}

func TestNew_RequiresDriverForMode(t *testing.T) {
	_, err := New(Dependencies{})
	if err == nil {
		t.Fatal("expected error for missing connection")
	}
}
