// Package mw holds the HTTP middleware stack for the gateway: request
// IDs, access logging, panic recovery, CORS, and API-key auth.
package mw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/auth"
	"github.com/fieldnote-ai/fieldnote/pkg/gateway/config"
)

type requestIDKey struct{}

// RequestIDFrom returns the request ID attached by the RequestID
// middleware, if any.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id, id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID tags every request with an ID and echoes it back in the
// X-Request-ID response header. An inbound ID is reused so a caller can
// correlate retries, but only when it looks like one of ours.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !plausibleRequestID(id) {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

func newRequestID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "req_" + hex.EncodeToString([]byte(time.Now().Format("150405.000000000")))
	}
	return "req_" + hex.EncodeToString(b[:])
}

func plausibleRequestID(id string) bool {
	if len(id) < 8 || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// Auth enforces API-key auth on the REST surface. Websocket upgrades
// pass through untouched: interview participants join from a browser,
// which cannot attach an Authorization header, and the live handler
// validates those connections during its hello handshake.
func Auth(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") || cfg.AuthMode == config.AuthModeDisabled {
			next.ServeHTTP(w, r)
			return
		}

		reqID, _ := RequestIDFrom(r.Context())

		if cfg.AuthMode != config.AuthModeOptional && cfg.AuthMode != config.AuthModeRequired {
			denyJSON(w, http.StatusInternalServerError, &core.Error{
				Type:      core.ErrAPI,
				Message:   "invalid auth_mode",
				RequestID: reqID,
			})
			return
		}

		key, ok := auth.ParseBearer(r)
		switch {
		case !ok && cfg.AuthMode == config.AuthModeRequired:
			denyJSON(w, http.StatusUnauthorized, &core.Error{
				Type:      core.ErrAuthentication,
				Message:   "missing bearer token",
				Param:     "Authorization",
				RequestID: reqID,
			})
		case !ok:
			next.ServeHTTP(w, r)
		default:
			if _, known := cfg.APIKeys[key]; !known {
				denyJSON(w, http.StatusUnauthorized, &core.Error{
					Type:      core.ErrAuthentication,
					Message:   "invalid api key",
					RequestID: reqID,
				})
				return
			}
			ctx := auth.WithPrincipal(r.Context(), &auth.Principal{APIKey: key})
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// Recover converts a handler panic into a JSON 500 so a single bad
// request cannot take the process down.
func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			reqID, _ := RequestIDFrom(r.Context())
			if logger != nil {
				logger.Error("panic recovered", "request_id", reqID, "path", r.URL.Path, "panic", v)
			}
			denyJSON(w, http.StatusInternalServerError, &core.Error{
				Type:      core.ErrAPI,
				Message:   "internal error",
				RequestID: reqID,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

type accessRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *accessRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *accessRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// AccessLog writes one structured line per request. Websocket upgrades
// hijack the connection, so their line reflects the handshake, not the
// whole session.
func AccessLog(cfg config.Config, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &accessRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		reqID, _ := RequestIDFrom(r.Context())
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", rec.bytes,
			"remote", clientAddr(cfg, r),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// clientAddr trusts X-Forwarded-For only when the deployment says a
// proxy sits in front of us; otherwise anyone could spoof it.
func clientAddr(cfg config.Config, r *http.Request) string {
	if cfg.TrustProxyHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func denyJSON(w http.ResponseWriter, status int, e *core.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error *core.Error `json:"error"`
	}{Error: e})
}
