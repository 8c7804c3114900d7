package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr     = "RENDEZVOUS_LISTEN_ADDR"
	envVarSharedSecret   = "RENDEZVOUS_SHARED_SECRET"
	envVarAllowedOrigins = "ALLOWED_ORIGINS"
	envVarICEServers     = "ICE_SERVERS"
	envVarMode           = "RENDEZVOUS_MODE"
	envVarLogFormat      = "RENDEZVOUS_LOG_FORMAT"
	envVarLogLevel       = "RENDEZVOUS_LOG_LEVEL"

	envVarShutdownTimeout      = "SHUTDOWN_TIMEOUT"
	envVarAuthTimeout          = "AUTH_TIMEOUT"
	envVarWSIdleTimeout        = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"
	envVarCallDecisionTimeout  = "CALL_DECISION_TIMEOUT"
	envVarSendQueueLength      = "SEND_QUEUE_LENGTH"
)

const (
	DefaultListenAddr      = "127.0.0.1:8181"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultAuthTimeout     = 2 * time.Second
	DefaultWSIdleTimeout   = 60 * time.Second
	DefaultWSPingInterval  = 25 * time.Second

	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueLength      = 64

	// DefaultCallDecisionTimeout bounds how long a pending addressed-call
	// request waits for the callee's accept/reject before the caller is told
	// the call failed. The base protocol has no timeout at all, so this is a
	// knob rather than a constant.
	DefaultCallDecisionTimeout = 30 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr string

	// SharedSecret is the single static credential every client must present
	// in its join message. Empty disables auth and is only permitted in dev
	// mode.
	SharedSecret string

	// AllowedOrigins restricts browser WebSocket upgrades. "*" allows any
	// origin (dev only).
	AllowedOrigins []string

	// ICEServers are reachability-discovery (STUN/TURN) server URLs handed to
	// clients verbatim via GET /ice. The broker never contacts them.
	ICEServers []string

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	// AuthTimeout bounds how long an upgraded connection may sit without a
	// valid join message.
	AuthTimeout time.Duration

	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	CallDecisionTimeout time.Duration

	// SendQueueLength is the per-connection outbound queue. A client that
	// falls this far behind is dropped rather than allowed to stall the hub.
	SendQueueLength int
}

// Load builds a Config from the environment, then applies command-line flags
// on top. Flags win over environment variables.
func Load(args []string) (Config, error) {
	lookup := os.LookupEnv

	cfg := Config{
		ListenAddr:   envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		SharedSecret: envOrDefault(lookup, envVarSharedSecret, ""),
	}

	mode := Mode(strings.ToLower(envOrDefault(lookup, envVarMode, string(ModeDev))))
	cfg.Mode = mode

	cfg.AllowedOrigins = splitAndTrim(envOrDefault(lookup, envVarAllowedOrigins, defaultOriginsForMode(mode)))
	cfg.ICEServers = splitAndTrim(envOrDefault(lookup, envVarICEServers, ""))

	cfg.LogFormat = LogFormat(strings.ToLower(envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode))))

	level, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	durations := []struct {
		dst    *time.Duration
		name   string
		defVal time.Duration
	}{
		{&cfg.ShutdownTimeout, envVarShutdownTimeout, DefaultShutdownTimeout},
		{&cfg.AuthTimeout, envVarAuthTimeout, DefaultAuthTimeout},
		{&cfg.WSIdleTimeout, envVarWSIdleTimeout, DefaultWSIdleTimeout},
		{&cfg.WSPingInterval, envVarWSPingInterval, DefaultWSPingInterval},
		{&cfg.CallDecisionTimeout, envVarCallDecisionTimeout, DefaultCallDecisionTimeout},
	}
	for _, d := range durations {
		v, err := envDurationOrDefault(lookup, d.name, d.defVal)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	maxBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageBytes = int64(maxBytes)

	cfg.MaxMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	cfg.SendQueueLength, err = envIntOrDefault(lookup, envVarSendQueueLength, DefaultSendQueueLength)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("rendezvousd", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address")
	fs.StringVar(&cfg.SharedSecret, "shared-secret", cfg.SharedSecret, "static secret required in the join handshake")
	modeFlag := fs.String("mode", string(cfg.Mode), "dev or prod")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Mode = Mode(strings.ToLower(*modeFlag))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeDev, ModeProd:
	default:
		return fmt.Errorf("invalid %s %q (want dev or prod)", envVarMode, c.Mode)
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("invalid %s %q (want text or json)", envVarLogFormat, c.LogFormat)
	}
	if c.Mode == ModeProd && c.SharedSecret == "" {
		return fmt.Errorf("%s is required in prod mode", envVarSharedSecret)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxMessageBytes)
	}
	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxMessagesPerSecond)
	}
	if c.SendQueueLength <= 0 {
		return fmt.Errorf("%s must be positive", envVarSendQueueLength)
	}
	if c.WSPingInterval >= c.WSIdleTimeout {
		return fmt.Errorf("%s must be shorter than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	for _, raw := range c.ICEServers {
		if err := validateICEServerURL(raw); err != nil {
			return err
		}
	}
	return nil
}

// OriginAllowed reports whether a browser Origin header value passes the
// allowlist. An empty Origin (non-browser client) is always allowed.
func (c Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func validateICEServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s entry %q: %w", envVarICEServers, raw, err)
	}
	switch u.Scheme {
	case "stun", "stuns", "turn", "turns":
		return nil
	default:
		return fmt.Errorf("invalid %s entry %q: scheme must be stun/stuns/turn/turns", envVarICEServers, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, raw)
	}
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultOriginsForMode(mode Mode) string {
	if mode == ModeProd {
		return ""
	}
	return "*"
}

func splitAndTrim(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
