package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/audio"
	"github.com/fieldnote-ai/fieldnote/pkg/core/flow"
	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/core/lifecycle"
	"github.com/fieldnote-ai/fieldnote/pkg/core/realtime"
	"github.com/fieldnote-ai/fieldnote/pkg/core/stream"
	"github.com/fieldnote-ai/fieldnote/pkg/core/voice/stt"
	"github.com/fieldnote-ai/fieldnote/pkg/core/voice/tts"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/config"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/live/protocol"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/live/session"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/live/sessions"
	"github.com/fieldnote-ai/fieldnote/pkg/store"
)

// LiveHandler handles /v1/live websocket sessions. A hello with a
// study_id starts a fresh interview; a hello with a resume_token picks
// up a paused one at its checkpoint.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Store        store.Store
	Scripts      *ScriptLoader
	LiveSessions *sessions.Tracker

	// Injection points for tests. Nil fields fall back to the providers
	// configured in Config.
	TTS   tts.Provider
	STT   stt.Provider
	Agent realtime.Agent
	Media audio.MediaSource
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		reqID := requestIDFromContext(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID}, http.StatusMethodNotAllowed)
		return
	}
	if !h.originAllowed(r) {
		reqID := requestIDFromContext(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID}, http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", true)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		h.writeWSError(conn, "bad_request", "invalid hello frame", true)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return
	}
	if err := protocol.ValidateHello(hello); err != nil {
		code := "bad_request"
		if decErr, ok := err.(*protocol.DecodeError); ok {
			code = decErr.Code
		}
		h.writeWSError(conn, code, err.Error(), true)
		return
	}
	if strings.TrimSpace(hello.AudioIn.Encoding) != "pcm_s16le" || hello.AudioIn.Channels != 1 {
		h.writeWSError(conn, "unsupported", "audio_in must be pcm_s16le mono", true)
		return
	}

	life := lifecycle.NewManager(h.Store)

	var script *interview.Script
	var resumeFrom *interview.Pointer
	if token := strings.TrimSpace(hello.ResumeToken); token != "" {
		checkpoint, err := life.Resume(r.Context(), token)
		if err != nil {
			h.writeWSError(conn, "not_found", "resume link is not valid", true)
			return
		}
		sess, _ := life.Session()
		if sess.ID != strings.TrimSpace(hello.SessionID) {
			h.writeWSError(conn, "bad_request", "session_id does not match the resume token", true)
			return
		}
		script, err = h.Scripts.Load(sess.StudyID)
		if err != nil {
			h.writeWSError(conn, "not_found", "study script is no longer available", true)
			return
		}
		resumeFrom = &checkpoint
	} else {
		script, err = h.Scripts.Load(hello.StudyID)
		if err != nil {
			h.writeWSError(conn, "not_found", "study not found", true)
			return
		}
		participant := interview.Participant{
			Name:  strings.TrimSpace(hello.Participant.Name),
			Email: strings.TrimSpace(hello.Participant.Email),
		}
		if _, err := life.Start(r.Context(), script, participant); err != nil {
			h.writeWSError(conn, "session_start_failed", "could not start the interview", false)
			return
		}
	}

	mode := interview.SelectMode(script)
	if requested := strings.TrimSpace(hello.Mode); requested != "" && requested != mode.String() {
		h.writeWSError(conn, "unsupported", "requested mode does not match the study", true)
		return
	}
	deps := session.Dependencies{
		Conn:       conn,
		Logger:     h.Logger,
		Hello:      hello,
		RequestID:  requestIDFromContext(r.Context()),
		Origin:     h.Config.Origin,
		Script:     script,
		Mode:       mode,
		Life:       life,
		ResumeFrom: resumeFrom,
		Config: session.Config{
			MaxAudioFrameBytes:  h.Config.LiveMaxAudioFrameBytes,
			MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
			PingInterval:        h.Config.LiveWSPingInterval,
			WriteTimeout:        h.Config.LiveWSWriteTimeout,
			MaxSessionDuration:  h.Config.WSMaxSessionDuration,
		},
	}

	var pipeline *audio.Controller
	switch mode {
	case interview.ModeStreaming:
		agent, err := h.agent(r)
		if err != nil {
			h.writeWSError(conn, "agent_unavailable", "no conversation agent is configured", true)
			return
		}
		sess, _ := life.Session()
		deps.Stream = stream.NewController(agent, realtime.SessionConfig{
			SessionID:    sess.ID,
			SystemPrompt: streamSystemPrompt(script),
			VoiceID:      script.VoiceID,
			Language:     script.Language,
			SampleRate:   hello.AudioIn.SampleRateHz,
		}, life, h.Store, nil, h.Logger)
	default:
		ttsClient, sttClient, err := h.voiceClients()
		if err != nil {
			h.writeWSError(conn, "voice_unavailable", "no voice provider is configured", true)
			return
		}
		pipeline = audio.NewController(audio.Config{
			SampleRate:    hello.AudioIn.SampleRateHz,
			Channels:      hello.AudioIn.Channels,
			BitsPerSample: 16,
		}, ttsClient, sttClient, h.media())
		deps.Pipeline = pipeline
		deps.Flow = flow.NewController(script, pipeline, life, h.Store, h.Logger)
		life.OnComplete(pipeline.ReleaseMedia)
	}

	s, err := session.New(deps)
	if err != nil {
		h.writeWSError(conn, "internal_error", "failed to initialize live session", true)
		return
	}
	if pipeline != nil {
		defer pipeline.Close()
	}

	_ = conn.SetReadDeadline(time.Time{})

	unregister := func() {}
	if h.LiveSessions != nil {
		sess, _ := life.Session()
		unregister = h.LiveSessions.Register(sess.ID, sessions.Handle{
			Cancel: s.Cancel,
			Warn:   s.SendWarning,
		})
	}
	defer unregister()

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			sess, _ := life.Session()
			h.Logger.Warn("live session ended with error",
				"session_id", sess.ID,
				"request_id", requestIDFromContext(r.Context()),
				"error", err)
		}
	}
}

func (h LiveHandler) voiceClients() (tts.Provider, stt.Provider, error) {
	ttsProvider := h.TTS
	sttProvider := h.STT
	if ttsProvider == nil {
		switch {
		case h.Config.CartesiaAPIKey != "":
			ttsProvider = tts.NewCartesia(h.Config.CartesiaAPIKey)
		case h.Config.ElevenLabsAPIKey != "":
			ttsProvider = tts.NewElevenLabs(h.Config.ElevenLabsAPIKey)
		}
	}
	if sttProvider == nil && h.Config.CartesiaAPIKey != "" {
		sttProvider = stt.NewCartesia(h.Config.CartesiaAPIKey)
	}
	if ttsProvider == nil || sttProvider == nil {
		return nil, nil, core.NewAPIError("no voice provider configured")
	}
	return ttsProvider, sttProvider, nil
}

func (h LiveHandler) agent(r *http.Request) (realtime.Agent, error) {
	if h.Agent != nil {
		return h.Agent, nil
	}
	if h.Config.AgentWSURL != "" {
		return realtime.NewWSAgent(h.Config.AgentWSURL, h.Config.AgentAPIKey), nil
	}
	if h.Config.GeminiAPIKey != "" {
		return realtime.NewGeminiAgent(r.Context(), h.Config.GeminiAPIKey, h.Config.GeminiModel)
	}
	return nil, core.NewAPIError("no conversation agent configured")
}

func (h LiveHandler) media() audio.MediaSource {
	if h.Media != nil {
		return h.Media
	}
	return remoteMedia{}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, close bool) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: close})
	if close {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
	}
}

// streamSystemPrompt frames the remote agent as the interviewer for
// this study's question list.
func streamSystemPrompt(script *interview.Script) string {
	var b strings.Builder
	b.WriteString("You are a warm, curious research interviewer. Work through the following questions in order, ")
	b.WriteString("ask short follow-up probes when an answer is thin, and wrap up naturally when everything is covered.\n")
	for _, sec := range script.Sections {
		for _, item := range sec.Items {
			if item.Question == "" {
				continue
			}
			b.WriteString("- ")
			b.WriteString(item.Question)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// remoteMedia stands in for the participant's devices on the server
// side: the client owns the real microphone and pushes frames over the
// socket, so acquisition always succeeds and track control is a no-op.
type remoteMedia struct{}

type remoteMediaStream struct{}

func (remoteMedia) Acquire(ctx context.Context, c audio.MediaConstraints) (audio.MediaStream, error) {
	return remoteMediaStream{}, nil
}

func (remoteMediaStream) StopTracks() {}

func (remoteMediaStream) RestartTracks() error { return nil }
