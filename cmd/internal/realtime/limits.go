package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message content length (runes).
	maxMessageChars = 4000

	// Max length of ids and display names carried in payloads (runes).
	maxIDChars   = 128
	maxNameChars = 100
)

const (
	// Heartbeat defaults (overridable via CHAT_WS_HEARTBEAT_*).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Typing indicators expire unless refreshed within this window.
	typingTTL = 8 * time.Second

	// Upper bound for a single persistence call issued by an event handler.
	storeTimeout = 5 * time.Second
)
