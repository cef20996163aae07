package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr         string
	AssetsDir    string
	HistoryLimit int
	// StreamIdle is how long /stream waits for a frame before repeating
	// the blank test card.
	StreamIdle time.Duration
	// Keepalive is the SSE comment interval on idle status streams.
	Keepalive time.Duration
}

// DefaultConfig returns the stock monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		AssetsDir:    "./web_assets",
		HistoryLimit: 100,
		StreamIdle:   5 * time.Second,
		Keepalive:    30 * time.Second,
	}
}
