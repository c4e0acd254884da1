package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/pairwire/signal-relay/internal/origin"
)

const (
	envVarListenAddr      = "PAIRWIRE_SIGNAL_RELAY_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "PAIRWIRE_SIGNAL_RELAY_LOG_FORMAT"
	envVarLogLevel        = "PAIRWIRE_SIGNAL_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "PAIRWIRE_SIGNAL_RELAY_SHUTDOWN_TIMEOUT"
	envVarMode            = "PAIRWIRE_SIGNAL_RELAY_MODE"

	// Signaling websocket hardening knobs.
	envVarWSIdleTimeout                 = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarWSPingInterval                = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// TURN REST (coturn ephemeral credentials) knobs.
	envVarTURNRESTSharedSecret   = "PAIRWIRE_TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTL            = "PAIRWIRE_TURN_REST_TTL"
	envVarTURNRESTUsernamePrefix = "PAIRWIRE_TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultWSIdleTimeout  = 60 * time.Second
	DefaultWSPingInterval = 20 * time.Second

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultTURNRESTTTL            = time.Hour
	DefaultTURNRESTUsernamePrefix = "pairwire"
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
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// WSIdleTimeout closes signaling connections that produce no traffic
	// (including pong replies) for this long.
	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// ICEServers is the STUN/TURN configuration served to clients via
	// /webrtc/ice. The relay never dials these servers itself.
	ICEServers []webrtc.ICEServer

	TURNREST TURNRESTConfig

	iceConfigErr error
}

// TURNRESTConfig enables coturn-style ephemeral TURN credentials on the
// /webrtc/ice endpoint. When enabled, TURN entries in the ICE list may omit
// static credentials; they are minted per request instead.
type TURNRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
}

func (c TURNRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

// ICEConfigError reports an ICE configuration problem captured at load time.
// It fails readiness instead of startup so a bad ICE list doesn't take the
// whole signaling surface down.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	shutdownDefault := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownDefault = d
	}
	idleDefault, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	pingDefault, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytesDefault := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxMessageBytesDefault = n
	}
	maxPerSecondDefault, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	turnRESTTTLDefault, err := envDurationOrDefault(lookup, envVarTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("pairwire-signal-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "TCP address for the HTTP/WebSocket listener")
	allowedOriginsFlag := fs.String("allowed-origins", envOrDefault(lookup, envVarAllowedOrigins, ""), "comma-separated allowed browser origins (\"*\" allows any); empty means same-host only")
	modeFlag := fs.String("mode", modeDefault, "dev or prod; selects logging defaults")
	logFormatFlag := fs.String("log-format", logFormatDefault, "log output format: text or json")
	logLevelFlag := fs.String("log-level", logLevelDefault, "log level: debug, info, warn, error")
	shutdownTimeout := fs.Duration("shutdown-timeout", shutdownDefault, "graceful shutdown timeout")
	wsIdleTimeout := fs.Duration("ws-idle-timeout", idleDefault, "close signaling connections idle for this long (0 disables)")
	wsPingInterval := fs.Duration("ws-ping-interval", pingDefault, "server ping interval for signaling connections (0 disables)")
	maxMessageBytes := fs.Int64("max-signaling-message-bytes", maxMessageBytesDefault, "maximum inbound signaling frame size")
	maxPerSecond := fs.Int("max-signaling-messages-per-second", maxPerSecondDefault, "per-connection inbound message rate cap (<0 disables)")
	turnRESTSecret := fs.String("turn-rest-shared-secret", envOrDefault(lookup, envVarTURNRESTSharedSecret, ""), "shared secret for coturn ephemeral TURN credentials (empty disables)")
	turnRESTTTL := fs.Duration("turn-rest-ttl", turnRESTTTLDefault, "lifetime of minted TURN credentials")
	turnRESTPrefix := fs.String("turn-rest-username-prefix", envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix), "username prefix for minted TURN credentials")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeFlag)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatFlag)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelFlag)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(*allowedOriginsFlag)
	if err != nil {
		return Config{}, err
	}

	turnREST := TURNRESTConfig{
		SharedSecret:   *turnRESTSecret,
		TTL:            *turnRESTTTL,
		UsernamePrefix: *turnRESTPrefix,
	}
	if turnREST.Enabled() {
		if turnREST.TTL <= 0 {
			return Config{}, fmt.Errorf("%s must be positive when %s is set", envVarTURNRESTTTL, envVarTURNRESTSharedSecret)
		}
		if strings.TrimSpace(turnREST.UsernamePrefix) == "" {
			return Config{}, fmt.Errorf("%s must be non-empty when %s is set", envVarTURNRESTUsernamePrefix, envVarTURNRESTSharedSecret)
		}
		if strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	cfg := Config{
		ListenAddr:      *listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: *shutdownTimeout,
		Mode:            mode,

		WSIdleTimeout:  *wsIdleTimeout,
		WSPingInterval: *wsPingInterval,

		MaxSignalingMessageBytes:      *maxMessageBytes,
		MaxSignalingMessagesPerSecond: *maxPerSecond,

		TURNREST: turnREST,
	}

	iceServers, iceErr := loadICEServers(lookup, turnREST.Enabled())
	if iceErr != nil {
		cfg.iceConfigErr = iceErr
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

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

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" {
			out = append(out, part)
			continue
		}
		normalized, _, ok := origin.Normalize(part)
		if !ok {
			return nil, fmt.Errorf("invalid %s entry %q", envVarAllowedOrigins, part)
		}
		out = append(out, normalized)
	}
	return out, nil
}
