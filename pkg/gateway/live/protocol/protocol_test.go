package protocol

import (
	"testing"
)

func TestDecodeClientMessage_Hello(t *testing.T) {
	raw := []byte(`{
		"type":"hello",
		"protocol_version":"1",
		"study_id":"study_onboarding",
		"participant":{"name":"Dana","email":"dana@example.com"},
		"audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1},
		"features":{"audio_transport":"binary"}
	}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	hello, ok := msg.(ClientHello)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientHello", msg)
	}
	if hello.StudyID != "study_onboarding" {
		t.Fatalf("study_id=%q", hello.StudyID)
	}
	if err := ValidateHello(hello); err != nil {
		t.Fatalf("ValidateHello() error = %v", err)
	}
}

func TestValidateHello_ResumeRequiresSessionID(t *testing.T) {
	hello := ClientHello{
		Type:            "hello",
		ProtocolVersion: "1",
		ResumeToken:     "rt_abc",
		AudioIn:         AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1},
	}
	err := ValidateHello(hello)
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok || decErr.Param != "session_id" {
		t.Fatalf("err=%v", err)
	}

	hello.SessionID = "sess_abc"
	if err := ValidateHello(hello); err != nil {
		t.Fatalf("ValidateHello() error = %v", err)
	}
}

func TestValidateHello_RejectsUnknownMode(t *testing.T) {
	err := ValidateHello(ClientHello{
		Type:            "hello",
		ProtocolVersion: "1",
		StudyID:         "study_onboarding",
		Mode:            "duet",
		AudioIn:         AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok || decErr.Code != "unsupported" {
		t.Fatalf("err=%v", err)
	}
}

func TestValidateHello_RejectsBadAudioIn(t *testing.T) {
	err := ValidateHello(ClientHello{
		Type:            "hello",
		ProtocolVersion: "1",
		StudyID:         "study_onboarding",
		AudioIn:         AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 0, Channels: 1},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok || decErr.Param != "audio_in.sample_rate_hz" {
		t.Fatalf("err=%v", err)
	}
}

func TestDecodeClientMessage_Control(t *testing.T) {
	for _, op := range []string{"record", "stop_recording", "playback_finished", "submit", "skip", "pause", "end_session"} {
		raw := []byte(`{"type":"control","op":"` + op + `"}`)
		msg, err := DecodeClientMessage(raw)
		if err != nil {
			t.Fatalf("op %q: error = %v", op, err)
		}
		ctl, ok := msg.(ClientControl)
		if !ok || ctl.Op != op {
			t.Fatalf("op %q: decoded %+v", op, msg)
		}
	}
}

func TestDecodeClientMessage_SubmitWithAnswer(t *testing.T) {
	raw := []byte(`{"type":"control","op":"submit","answer":{"selections":["a","b"],"rating":4}}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	ctl := msg.(ClientControl)
	if ctl.Answer == nil || len(ctl.Answer.Selections) != 2 {
		t.Fatalf("answer=%+v", ctl.Answer)
	}
	if ctl.Answer.Rating == nil || *ctl.Answer.Rating != 4 {
		t.Fatalf("rating=%v", ctl.Answer.Rating)
	}
}

func TestDecodeClientMessage_UnknownControlOp(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"control","op":"rewind"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok || decErr.Code != "unsupported" {
		t.Fatalf("err=%v", err)
	}
}

func TestDecodeClientMessage_AudioFallback(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"audio","data":"AAAA"}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	audio, ok := msg.(ClientAudio)
	if !ok || audio.Data != "AAAA" {
		t.Fatalf("decoded %+v", msg)
	}

	if _, err := DecodeClientMessage([]byte(`{"type":"audio"}`)); err == nil {
		t.Fatal("expected error for missing data")
	}
}

func TestDecodeClientMessage_UnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"telemetry"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := DecodeClientMessage([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
