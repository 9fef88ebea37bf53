package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the server is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// Origin is the public base URL used to render resume links.
	Origin string

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Persistence. Empty DSN selects the in-memory store.
	DatabaseURL string

	// Script source: a directory of {study_id}.json files.
	ScriptDir string

	// Voice providers.
	CartesiaAPIKey   string
	ElevenLabsAPIKey string

	// Streaming conversation agent.
	GeminiAPIKey string
	GeminiModel  string
	AgentWSURL   string
	AgentAPIKey  string

	// Live WebSocket mode (/v1/live).
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveHandshakeTimeout    time.Duration
	WSMaxSessionDuration    time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("FIELDNOTE_ADDR", ":8080"),
		AuthMode:                AuthMode(envOr("FIELDNOTE_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                 make(map[string]struct{}),
		TrustProxyHeaders:       envBoolOr("FIELDNOTE_TRUST_PROXY_HEADERS", false),
		Origin:                  envOr("FIELDNOTE_ORIGIN", "http://localhost:8080"),
		MaxBodyBytes:            envInt64Or("FIELDNOTE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:      make(map[string]struct{}),
		DatabaseURL:             envOr("FIELDNOTE_DATABASE_URL", ""),
		ScriptDir:               envOr("FIELDNOTE_SCRIPT_DIR", "scripts"),
		CartesiaAPIKey:          envOr("CARTESIA_API_KEY", ""),
		ElevenLabsAPIKey:        envOr("ELEVENLABS_API_KEY", ""),
		GeminiAPIKey:            envOr("GEMINI_API_KEY", ""),
		GeminiModel:             envOr("FIELDNOTE_GEMINI_MODEL", ""),
		AgentWSURL:              envOr("FIELDNOTE_AGENT_WS_URL", ""),
		AgentAPIKey:             envOr("FIELDNOTE_AGENT_API_KEY", ""),
		LiveMaxAudioFrameBytes:  envIntOr("FIELDNOTE_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveMaxJSONMessageBytes: envInt64Or("FIELDNOTE_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:      envDurationOr("FIELDNOTE_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("FIELDNOTE_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveHandshakeTimeout:    envDurationOr("FIELDNOTE_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		WSMaxSessionDuration:    envDurationOr("FIELDNOTE_WS_MAX_DURATION", 2*time.Hour),
		ReadHeaderTimeout:       envDurationOr("FIELDNOTE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("FIELDNOTE_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:          envDurationOr("FIELDNOTE_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:     envDurationOr("FIELDNOTE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("FIELDNOTE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("FIELDNOTE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("FIELDNOTE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.Origin) == "" {
		return Config{}, fmt.Errorf("FIELDNOTE_ORIGIN must not be empty")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_WS_MAX_DURATION must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("FIELDNOTE_API_KEYS must be set when FIELDNOTE_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
