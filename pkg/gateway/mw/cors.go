package mw

import (
	"net/http"
	"strings"

	"github.com/fieldnote-ai/fieldnote/pkg/gateway/config"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsMaxAge  = "600"
)

var (
	corsRequestHeaders = strings.Join([]string{"Authorization", "Content-Type", "X-Request-ID"}, ", ")
	corsExposedHeaders = "X-Request-ID"
)

// CORS answers browser preflights and attaches response headers for
// allowlisted origins. Origins are matched exactly; an empty allowlist
// means no cross-origin access at all.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		_, allowed := cfg.CORSAllowedOrigins[origin]

		if isPreflight(r) {
			if origin == "" || !allowed {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsRequestHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if allowed && origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}
