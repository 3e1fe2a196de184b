package realtime

import "time"

const (
	// Max bytes per websocket frame read. Clients only ever send hello.
	maxFrameBytes = 4 << 10 // 4 KiB
)

const (
	// Heartbeat defaults (overridable by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (client envelopes per window).
	rateLimitEvents = 20
	rateLimitWindow = 10 * time.Second
)
