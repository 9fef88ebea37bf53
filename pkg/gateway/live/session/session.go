package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/audio"
	"github.com/fieldnote-ai/fieldnote/pkg/core/flow"
	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/core/lifecycle"
	"github.com/fieldnote-ai/fieldnote/pkg/core/stream"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/live/protocol"
)

type Config struct {
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	MaxSessionDuration  time.Duration
	OutboundQueueSize   int
}

// Dependencies wires one accepted websocket to a session driver. Exactly
// one of the structured pair (Flow, Pipeline) or Stream must be set,
// matching Mode.
type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Hello     protocol.ClientHello
	RequestID string
	Origin    string

	Script *interview.Script
	Mode   interview.Mode
	Life   *lifecycle.Manager

	Flow     *flow.Controller
	Pipeline *audio.Controller

	Stream *stream.Controller

	// ResumeFrom restores the navigation position on a resumed session.
	ResumeFrom *interview.Pointer

	Config Config
	Now    func() time.Time
}

type LiveSession struct {
	conn       *websocket.Conn
	logger     *slog.Logger
	hello      protocol.ClientHello
	requestID  string
	origin     string
	script     *interview.Script
	mode       interview.Mode
	life       *lifecycle.Manager
	flow       *flow.Controller
	pipeline   *audio.Controller
	stream     *stream.Controller
	resumeFrom *interview.Pointer
	cfg        Config
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	binaryAudioOut bool
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Script == nil {
		return nil, fmt.Errorf("script is required")
	}
	if deps.Life == nil {
		return nil, fmt.Errorf("lifecycle manager is required")
	}
	switch deps.Mode {
	case interview.ModeStructured:
		if deps.Flow == nil || deps.Pipeline == nil {
			return nil, fmt.Errorf("structured mode requires flow and pipeline")
		}
	case interview.ModeStreaming:
		if deps.Stream == nil {
			return nil, fmt.Errorf("streaming mode requires a stream controller")
		}
	default:
		return nil, fmt.Errorf("unknown session mode")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if deps.Config.MaxSessionDuration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), deps.Config.MaxSessionDuration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	return &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger,
		hello:            deps.Hello,
		requestID:        deps.RequestID,
		origin:           deps.Origin,
		script:           deps.Script,
		mode:             deps.Mode,
		life:             deps.Life,
		flow:             deps.Flow,
		pipeline:         deps.Pipeline,
		stream:           deps.Stream,
		resumeFrom:       deps.ResumeFrom,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, 8),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		binaryAudioOut:   deps.Hello.Features.AudioTransport != protocol.AudioTransportBase64JSON,
	}, nil
}

// Cancel aborts the session from outside, typically on server drain.
func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SendWarning pushes a warning frame ahead of queued audio.
func (s *LiveSession) SendWarning(code, message string) error {
	return s.sendJSONPriority(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (s *LiveSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	sessionID := ""
	if sess, ok := s.life.Session(); ok {
		sessionID = sess.ID
	}
	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		Mode:            s.mode.String(),
		Resumed:         s.resumeFrom != nil,
		Limits: &protocol.HelloAckLimits{
			MaxAudioFrameBytes:  s.cfg.MaxAudioFrameBytes,
			MaxJSONMessageBytes: int(s.cfg.MaxJSONMessageBytes),
		},
	}
	if err := s.sendJSONPriority(ack); err != nil {
		return err
	}

	var err error
	if s.mode == interview.ModeStreaming {
		err = s.runStreaming(readCh, writerErrCh)
	} else {
		err = s.runStructured(readCh, writerErrCh)
	}

	s.flushAndClose(writerErrCh)
	return err
}

func (s *LiveSession) runStructured(readCh <-chan inboundFrame, writerErrCh <-chan error) error {
	if s.resumeFrom != nil {
		if err := s.flow.ResumeAt(s.ctx, *s.resumeFrom); err != nil {
			s.sendOpError(err)
			return err
		}
	} else {
		if err := s.flow.Begin(s.ctx); err != nil {
			s.sendOpError(err)
			return err
		}
	}
	s.sendQuestion()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			return err
		case event, ok := <-s.pipeline.Events():
			if !ok {
				return nil
			}
			s.forwardPipelineEvent(event)
		case frame := <-readCh:
			if frame.err != nil {
				if isExpectedClose(frame.err) {
					return nil
				}
				return frame.err
			}
			if frame.messageType == websocket.BinaryMessage {
				s.pipeline.PushAudio(frame.data)
				continue
			}
			done, err := s.handleStructuredText(frame.data)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (s *LiveSession) handleStructuredText(data []byte) (done bool, err error) {
	msg, decErr := protocol.DecodeClientMessage(data)
	if decErr != nil {
		s.sendDecodeError(decErr)
		return false, nil
	}

	switch m := msg.(type) {
	case protocol.ClientAudio:
		raw, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			s.sendDecodeError(&protocol.DecodeError{Code: "bad_request", Message: "audio.data is not valid base64", Param: "data"})
			return false, nil
		}
		s.pipeline.PushAudio(raw)
	case protocol.ClientControl:
		return s.handleStructuredControl(m)
	case protocol.ClientHello:
		s.sendDecodeError(&protocol.DecodeError{Code: "bad_request", Message: "hello is only valid as the first message", Param: "type"})
	}
	return false, nil
}

func (s *LiveSession) handleStructuredControl(ctl protocol.ClientControl) (done bool, err error) {
	switch ctl.Op {
	case "record":
		if err := s.flow.Record(s.ctx); err != nil {
			s.sendOpError(err)
		}
	case "stop_recording":
		before := s.flow.Pointer()
		if err := s.flow.FinishRecording(s.ctx); err != nil {
			s.sendOpError(err)
			return false, nil
		}
		s.afterAdvance(before)
	case "playback_finished":
		s.pipeline.PlaybackFinished()
	case "submit":
		before := s.flow.Pointer()
		if err := s.flow.Submit(s.ctx, responseFromAnswer(ctl.Answer)); err != nil {
			s.sendOpError(err)
			return false, nil
		}
		s.afterAdvance(before)
	case "skip":
		before := s.flow.Pointer()
		if err := s.flow.Skip(s.ctx); err != nil {
			s.sendOpError(err)
			return false, nil
		}
		s.afterAdvance(before)
	case "pause":
		if _, err := s.life.Pause(s.ctx, s.flow.Pointer()); err != nil {
			s.sendOpError(err)
			return false, nil
		}
		_ = s.sendJSONPriority(protocol.ServerPaused{Type: "paused", ResumeURL: s.life.ResumeURL(s.origin)})
		return true, nil
	case "end_session":
		return true, nil
	}
	return false, nil
}

// afterAdvance tells the client where the interview moved to. The
// pointer comparison keeps a failed transcription from re-sending the
// same question.
func (s *LiveSession) afterAdvance(before interview.Pointer) {
	if s.flow.Completed() {
		_ = s.sendJSON(protocol.ServerCompleted{Type: "completed"})
		return
	}
	if s.flow.Pointer() == before {
		return
	}
	s.sendQuestion()
}

func (s *LiveSession) sendQuestion() {
	item, ok := s.flow.CurrentItem()
	if !ok {
		return
	}
	_ = s.sendJSON(protocol.ServerQuestion{
		Type:        "question",
		ItemID:      item.ID,
		Text:        item.Question,
		ItemType:    string(item.Type),
		Layout:      string(s.flow.Layout()),
		Options:     item.Options,
		HasStimulus: item.HasStimulus,
		Pointer: protocol.QuestionPointer{
			Section: s.flow.Pointer().Section,
			Item:    s.flow.Pointer().Item,
		},
		QuestionNumber: s.flow.QuestionNumber(),
		TotalQuestions: s.script.TotalItems(),
		Progress:       s.flow.Progress(),
	})
}

func (s *LiveSession) forwardPipelineEvent(event audio.Event) {
	switch ev := event.(type) {
	case *audio.StateChangedEvent:
		_ = s.sendJSON(protocol.ServerPipelineState{Type: "pipeline_state", State: strings.ToLower(ev.To.String())})
		_ = s.sendJSON(protocol.ServerMicState{Type: "mic_state", State: string(s.flow.MicState())})
	case *audio.AudioDeltaEvent:
		s.sendAudioOut(ev.Data)
	case *audio.AudioFlushEvent:
		_ = s.sendJSONPriority(protocol.ServerAudioFlush{Type: "audio_flush"})
	case *audio.TranscriptEvent:
		_ = s.sendJSON(protocol.ServerTranscript{
			Type:        "transcript",
			Speaker:     string(interview.SpeakerParticipant),
			Text:        ev.Text,
			TimestampMS: s.now().UnixMilli(),
		})
	case *audio.TranscriptionFailedEvent:
		_ = s.SendWarning("empty_transcription", "no usable speech was transcribed")
	}
}

func (s *LiveSession) runStreaming(readCh <-chan inboundFrame, writerErrCh <-chan error) error {
	defer s.stream.Close()

	if err := s.stream.Start(s.ctx); err != nil {
		s.sendOpError(err)
		return err
	}
	_ = s.sendJSON(protocol.ServerOrbState{Type: "orb_state", State: string(s.stream.Orb())})

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			return err
		case event, ok := <-s.stream.Events():
			if !ok {
				return nil
			}
			if s.forwardStreamEvent(event) {
				return nil
			}
		case frame := <-readCh:
			if frame.err != nil {
				if isExpectedClose(frame.err) {
					return nil
				}
				return frame.err
			}
			if frame.messageType == websocket.BinaryMessage {
				if err := s.stream.SendAudio(frame.data); err != nil {
					s.sendOpError(err)
				}
				continue
			}
			done, err := s.handleStreamingText(frame.data)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (s *LiveSession) handleStreamingText(data []byte) (done bool, err error) {
	msg, decErr := protocol.DecodeClientMessage(data)
	if decErr != nil {
		s.sendDecodeError(decErr)
		return false, nil
	}

	switch m := msg.(type) {
	case protocol.ClientAudio:
		raw, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			s.sendDecodeError(&protocol.DecodeError{Code: "bad_request", Message: "audio.data is not valid base64", Param: "data"})
			return false, nil
		}
		if err := s.stream.SendAudio(raw); err != nil {
			s.sendOpError(err)
		}
	case protocol.ClientControl:
		switch m.Op {
		case "end_session":
			return true, nil
		case "pause":
			s.sendDecodeError(&protocol.DecodeError{Code: "unsupported", Message: "a conversation session cannot be paused", Param: "op"})
		default:
			s.sendDecodeError(&protocol.DecodeError{Code: "unsupported", Message: "operation is not valid in a conversation session", Param: "op"})
		}
	case protocol.ClientHello:
		s.sendDecodeError(&protocol.DecodeError{Code: "bad_request", Message: "hello is only valid as the first message", Param: "type"})
	}
	return false, nil
}

// forwardStreamEvent returns true when the session is over.
func (s *LiveSession) forwardStreamEvent(event stream.Event) bool {
	switch ev := event.(type) {
	case *stream.OrbChangedEvent:
		_ = s.sendJSON(protocol.ServerOrbState{Type: "orb_state", State: string(ev.State)})
	case *stream.TurnAddedEvent:
		_ = s.sendJSON(protocol.ServerTranscript{
			Type:        "transcript",
			Speaker:     string(ev.Turn.Speaker),
			Text:        ev.Turn.Text,
			IsProbe:     ev.Turn.IsProbe,
			TimestampMS: ev.Turn.Timestamp.UnixMilli(),
		})
	case *stream.AudioEvent:
		s.sendAudioOut(ev.Data)
	case *stream.AgentErrorEvent:
		_ = s.sendJSONPriority(protocol.ServerError{
			Type:      "error",
			Code:      ev.Err.Code,
			Message:   ev.Err.Message,
			Retryable: ev.Retryable,
		})
	case *stream.CompletedEvent:
		_ = s.sendJSON(protocol.ServerCompleted{Type: "completed"})
		return true
	}
	return false
}

func (s *LiveSession) sendAudioOut(data []byte) {
	if len(data) == 0 {
		return
	}
	if s.binaryAudioOut {
		_ = s.enqueueNormal(outboundFrame{binaryPayload: data})
		return
	}
	_ = s.sendJSON(protocol.ServerAudioChunk{Type: "audio", Data: base64.StdEncoding.EncodeToString(data)})
}

func (s *LiveSession) sendDecodeError(err error) {
	var decErr *protocol.DecodeError
	if !errors.As(err, &decErr) {
		decErr = &protocol.DecodeError{Code: "bad_request", Message: "malformed message"}
	}
	_ = s.sendJSONPriority(protocol.ServerError{
		Type:    "error",
		Code:    decErr.Code,
		Message: decErr.Error(),
	})
}

func (s *LiveSession) sendOpError(err error) {
	if err == nil {
		return
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		code := coreErr.Code
		if code == "" {
			code = string(coreErr.Type)
		}
		_ = s.sendJSONPriority(protocol.ServerError{
			Type:      "error",
			Code:      code,
			Message:   coreErr.Message,
			Retryable: coreErr.Retryable,
		})
		return
	}
	_ = s.sendJSONPriority(protocol.ServerError{
		Type:    "error",
		Code:    "internal_error",
		Message: "something went wrong",
	})
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{textPayload: payload})
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundPriority <- outboundFrame{textPayload: payload}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *LiveSession) enqueueNormal(frame outboundFrame) error {
	select {
	case s.outboundNormal <- frame:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		// Audio backpressure: drop the oldest queued frame rather than
		// stall the session.
		select {
		case <-s.outboundNormal:
		default:
		}
		select {
		case s.outboundNormal <- frame:
			return nil
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		if messageType == websocket.BinaryMessage && s.cfg.MaxAudioFrameBytes > 0 && len(data) > s.cfg.MaxAudioFrameBytes {
			_ = s.SendWarning("frame_too_large", "audio frame exceeds the negotiated limit")
			continue
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LiveSession) flushAndClose(writerErrCh <-chan error) {
	s.cancel()
	wait := 100 * time.Millisecond
	if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
		wait = s.cfg.WriteTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-writerErrCh:
	case <-timer.C:
	}
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

func responseFromAnswer(a *protocol.Answer) interview.Response {
	if a == nil {
		return interview.Response{}
	}
	resp := interview.Response{
		Transcript: a.Transcript,
		Selections: a.Selections,
		Ranking:    a.Ranking,
	}
	if a.Rating != nil {
		resp.Rating = *a.Rating
	}
	return resp
}
