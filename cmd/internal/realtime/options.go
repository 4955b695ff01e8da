package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// Options configures the Gateway.
type Options struct {
	// AllowedOrigins lists the frontend origins permitted to open a socket.
	AllowedOrigins []string
	// OriginRequired rejects upgrades without an Origin header.
	OriginRequired bool
	// DevInsecure disables websocket.Accept's own origin verification (dev only).
	DevInsecure bool

	SendQueueSize int
	WriteTimeout  time.Duration
	// ReadIdleTimeout closes connections that send nothing for this long. Zero disables it;
	// dead peers are still detected by heartbeats.
	ReadIdleTimeout time.Duration

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	TypingTTL    time.Duration
	StoreTimeout time.Duration

	// RequireParticipant gates conversation:join and message:send on the bound
	// identity being a participant of the conversation.
	RequireParticipant bool
}

// DefaultOptions returns secure defaults: Origin required, localhost only.
func DefaultOptions() Options {
	return Options{
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		OriginRequired:   true,
		SendQueueSize:    wsDefaultSendQueueSize,
		WriteTimeout:     wsDefaultWriteTimeout,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
		TypingTTL:        typingTTL,
		StoreTimeout:     storeTimeout,
	}
}

// OptionsFromEnv overlays CHAT_WS_* environment variables on base.
func OptionsFromEnv(base Options) Options {
	o := base

	// NOTE: dev-only knob, it turns off Accept's origin verification.
	o.DevInsecure = envBoolWS("CHAT_WS_DEV_INSECURE", o.DevInsecure)
	o.OriginRequired = envBoolWS("CHAT_WS_ORIGIN_REQUIRED", o.OriginRequired)

	o.SendQueueSize = envIntWS("CHAT_WS_SEND_QUEUE", o.SendQueueSize)
	o.WriteTimeout = envDurationWS("CHAT_WS_WRITE_TIMEOUT", o.WriteTimeout)
	o.ReadIdleTimeout = envDurationWS("CHAT_WS_READ_IDLE_TIMEOUT", o.ReadIdleTimeout)

	o.HeartbeatEvery = envDurationWS("CHAT_WS_HEARTBEAT_INTERVAL", o.HeartbeatEvery)
	o.HeartbeatTimeout = envDurationWS("CHAT_WS_HEARTBEAT_TIMEOUT", o.HeartbeatTimeout)

	o.RateEvents = envIntWS("CHAT_WS_RATE_EVENTS", o.RateEvents)
	o.RateWindow = envDurationWS("CHAT_WS_RATE_WINDOW", o.RateWindow)

	o.TypingTTL = envDurationWS("CHAT_WS_TYPING_TTL", o.TypingTTL)
	o.StoreTimeout = envDurationWS("CHAT_WS_STORE_TIMEOUT", o.StoreTimeout)
	o.RequireParticipant = envBoolWS("CHAT_WS_REQUIRE_PARTICIPANT", o.RequireParticipant)

	return o
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SendQueueSize < wsMinSendQueueSize {
		o.SendQueueSize = wsMinSendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = def.HeartbeatEvery
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if o.RateEvents <= 0 {
		o.RateEvents = def.RateEvents
	}
	if o.RateWindow <= 0 {
		o.RateWindow = def.RateWindow
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = def.StoreTimeout
	}
	return o
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
