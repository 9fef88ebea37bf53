package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldnote-ai/fieldnote/pkg/gateway/config"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/handlers"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/live/sessions"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/mw"
	"github.com/fieldnote-ai/fieldnote/pkg/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store   store.Store
	scripts *handlers.ScriptLoader
	live    *sessions.Tracker
}

func New(cfg config.Config, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.NewMemory()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		store:   st,
		scripts: handlers.NewScriptLoader(cfg.ScriptDir),
		live:    sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg})

	s.mux.Handle("POST /v1/sessions", handlers.StartSessionHandler{
		Store:        s.store,
		Scripts:      s.scripts,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
	})
	s.mux.Handle("POST /v1/sessions/{id}/pause", handlers.PauseSessionHandler{
		Store:        s.store,
		Origin:       s.cfg.Origin,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
	})
	s.mux.Handle("GET /interview/{token}", handlers.ResumeHandler{
		Store: s.store,
	})
	s.mux.Handle("GET /v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Store:        s.store,
		Scripts:      s.scripts,
		LiveSessions: s.live,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.cfg, s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Drain warns every live interview connection, waits out the grace
// period for them to pause or finish, and then cancels the stragglers.
func (s *Server) Drain(ctx context.Context) {
	if n := s.live.WarnAll("draining", "the server is restarting, your progress is saved"); n > 0 {
		s.logger.Info("warned live sessions", "count", n)
	}

	grace := s.cfg.ShutdownGracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if s.live.Wait(waitCtx) {
		return
	}

	if n := s.live.CancelAll(); n > 0 {
		s.logger.Warn("canceled live sessions after grace period", "count", n)
	}
	s.live.Wait(ctx)
}
