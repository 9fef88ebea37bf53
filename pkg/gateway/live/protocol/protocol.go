package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	ModeStructured = "structured"
	ModeStreaming  = "streaming"

	AudioTransportBinary     = "binary"
	AudioTransportBase64JSON = "base64_json"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes the shape of audio frames on the wire.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type HelloParticipant struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type HelloFeatures struct {
	AudioTransport string `json:"audio_transport,omitempty"`
}

type ClientHello struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Client          HelloClient      `json:"client,omitempty"`
	StudyID         string           `json:"study_id,omitempty"`
	ResumeToken     string           `json:"resume_token,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
	Participant     HelloParticipant `json:"participant,omitempty"`
	Mode            string           `json:"mode,omitempty"`
	AudioIn         AudioFormat      `json:"audio_in"`
	Features        HelloFeatures    `json:"features,omitempty"`
}

// Answer carries the typed payload of a non-voice submission. Voice answers
// arrive through the recording path, not here.
type Answer struct {
	Transcript string   `json:"transcript,omitempty"`
	Selections []string `json:"selections,omitempty"`
	Rating     *int     `json:"rating,omitempty"`
	Ranking    []string `json:"ranking,omitempty"`
}

type ClientControl struct {
	Type   string  `json:"type"`
	Op     string  `json:"op"`
	Answer *Answer `json:"answer,omitempty"`
}

// ClientAudio is the base64 fallback for clients that cannot send binary
// websocket frames.
type ClientAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// DecodeClientMessage parses a text frame from the client. The returned value
// is one of ClientHello, ClientControl, or ClientAudio.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid message", "")
	}

	switch strings.TrimSpace(envelope.Type) {
	case "":
		return nil, badRequest("message type is required", "type")
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello", "")
		}
		return msg, nil
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio", "")
		}
		if msg.Data == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case "record", "stop_recording", "playback_finished", "submit", "skip", "pause", "end_session":
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	resuming := strings.TrimSpace(msg.ResumeToken) != ""
	if resuming {
		if strings.TrimSpace(msg.SessionID) == "" {
			return badRequest("hello.session_id is required when resuming", "session_id")
		}
	} else if strings.TrimSpace(msg.StudyID) == "" {
		return badRequest("hello.study_id is required", "study_id")
	}
	switch strings.TrimSpace(msg.Mode) {
	case "", ModeStructured, ModeStreaming:
	default:
		return unsupported("unsupported session mode", "mode")
	}
	if strings.TrimSpace(msg.AudioIn.Encoding) == "" {
		return badRequest("hello.audio_in.encoding is required", "audio_in.encoding")
	}
	if msg.AudioIn.SampleRateHz <= 0 {
		return badRequest("hello.audio_in.sample_rate_hz must be > 0", "audio_in.sample_rate_hz")
	}
	if msg.AudioIn.Channels <= 0 {
		return badRequest("hello.audio_in.channels must be > 0", "audio_in.channels")
	}
	switch strings.TrimSpace(msg.Features.AudioTransport) {
	case "", AudioTransportBinary, AudioTransportBase64JSON:
		return nil
	default:
		return unsupported("unsupported audio transport", "features.audio_transport")
	}
}

type HelloAckLimits struct {
	MaxAudioFrameBytes  int `json:"max_audio_frame_bytes"`
	MaxJSONMessageBytes int `json:"max_json_message_bytes"`
}

type ServerHelloAck struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	Mode            string          `json:"mode"`
	Resumed         bool            `json:"resumed,omitempty"`
	Limits          *HelloAckLimits `json:"limits,omitempty"`
}

type ServerError struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Close     bool   `json:"close,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QuestionPointer mirrors the interview checkpoint on the wire.
type QuestionPointer struct {
	Section int `json:"section"`
	Item    int `json:"item"`
}

type ServerQuestion struct {
	Type           string          `json:"type"`
	ItemID         string          `json:"item_id"`
	Text           string          `json:"text"`
	ItemType       string          `json:"item_type"`
	Layout         string          `json:"layout"`
	Options        []string        `json:"options,omitempty"`
	HasStimulus    bool            `json:"has_stimulus,omitempty"`
	Pointer        QuestionPointer `json:"pointer"`
	QuestionNumber int             `json:"question_number"`
	TotalQuestions int             `json:"total_questions"`
	Progress       float64         `json:"progress"`
}

type ServerPipelineState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type ServerMicState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type ServerOrbState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// ServerAudioChunk is the base64 fallback for audio out. Binary transport
// sends raw frames instead.
type ServerAudioChunk struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ServerAudioFlush tells the client to drop buffered playback audio
// immediately, typically on barge-in.
type ServerAudioFlush struct {
	Type string `json:"type"`
}

type ServerTranscript struct {
	Type        string `json:"type"`
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	IsProbe     bool   `json:"is_probe,omitempty"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type ServerPaused struct {
	Type      string `json:"type"`
	ResumeURL string `json:"resume_url"`
}

type ServerCompleted struct {
	Type string `json:"type"`
}
