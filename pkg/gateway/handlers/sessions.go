package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/flow"
	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/core/lifecycle"
	"github.com/fieldnote-ai/fieldnote/pkg/store"
)

// StartSessionHandler handles POST /v1/sessions. It creates and
// activates a session for a study; the client then attaches over
// /v1/live to run the interview.
type StartSessionHandler struct {
	Store   store.Store
	Scripts *ScriptLoader

	MaxBodyBytes int64
}

type startSessionRequest struct {
	StudyID     string                `json:"study_id"`
	Participant interview.Participant `json:"participant"`
}

type startSessionResponse struct {
	ID               string `json:"id"`
	StudyID          string `json:"study_id"`
	Mode             string `json:"mode"`
	TotalQuestions   int    `json:"total_questions"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Greeting         string `json:"greeting"`
}

func (h StartSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	body := http.MaxBytesReader(w, r.Body, maxBody(h.MaxBodyBytes))
	var req startSessionRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, reqID, core.NewInvalidRequestError("invalid json body"))
		return
	}

	script, err := h.Scripts.Load(req.StudyID)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	life := lifecycle.NewManager(h.Store)
	id, err := life.Start(r.Context(), script, req.Participant)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	writeJSON(w, http.StatusCreated, startSessionResponse{
		ID:               id,
		StudyID:          script.StudyID,
		Mode:             interview.SelectMode(script).String(),
		TotalQuestions:   script.TotalItems(),
		EstimatedMinutes: script.TotalMinutes(),
		Greeting:         flow.Greeting(script),
	})
}

// PauseSessionHandler handles POST /v1/sessions/{id}/pause. The resume
// token is minted on the first pause and reused by every later pause,
// so a participant's saved link stays valid however often they pause.
type PauseSessionHandler struct {
	Store store.Store

	// Origin is the public base URL resume links are rendered against.
	Origin string

	MaxBodyBytes int64
}

type pauseSessionRequest struct {
	Checkpoint interview.Pointer `json:"checkpoint"`
}

type pauseSessionResponse struct {
	ResumeURL string `json:"resume_url"`
}

func (h PauseSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, reqID, core.NewInvalidRequestErrorWithParam("session id is required", "id"))
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxBody(h.MaxBodyBytes))
	var req pauseSessionRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, reqID, core.NewInvalidRequestError("invalid json body"))
		return
	}
	if req.Checkpoint.Section < 0 || req.Checkpoint.Item < 0 {
		writeError(w, reqID, core.NewInvalidRequestErrorWithParam("checkpoint must be non-negative", "checkpoint"))
		return
	}

	token, err := h.Store.PauseSession(r.Context(), id, req.Checkpoint, "rt_"+uuid.NewString())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	writeJSON(w, http.StatusOK, pauseSessionResponse{
		ResumeURL: interview.ResumeURL(h.Origin, token, id),
	})
}

// ResumeHandler handles GET /interview/{token}. It resolves a resume
// link to the paused session so the client can reconnect over /v1/live
// with the token. The resume query parameter must name the same session
// the token belongs to.
type ResumeHandler struct {
	Store store.Store
}

type resumeResponse struct {
	SessionID     string            `json:"session_id"`
	StudyID       string            `json:"study_id"`
	Status        string            `json:"status"`
	ScriptVersion int               `json:"script_version"`
	Checkpoint    interview.Pointer `json:"checkpoint"`
}

func (h ResumeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	token := strings.TrimSpace(r.PathValue("token"))
	if token == "" {
		writeError(w, reqID, core.NewInvalidRequestErrorWithParam("resume token is required", "token"))
		return
	}

	sess, err := h.Store.SessionByResumeToken(r.Context(), token)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	if resume := strings.TrimSpace(r.URL.Query().Get("resume")); resume != "" && resume != sess.ID {
		writeError(w, reqID, core.NewInvalidRequestErrorWithParam("resume does not match this link", "resume"))
		return
	}

	checkpoint := interview.Pointer{}
	if sess.Checkpoint != nil {
		checkpoint = *sess.Checkpoint
	}
	writeJSON(w, http.StatusOK, resumeResponse{
		SessionID:     sess.ID,
		StudyID:       sess.StudyID,
		Status:        string(sess.Status),
		ScriptVersion: sess.ScriptVersion,
		Checkpoint:    checkpoint,
	})
}

func maxBody(n int64) int64 {
	if n <= 0 {
		return 1 << 20
	}
	return n
}
