package server

import (
	"time"

	"gamenet/physics"
)

// Config collects every tunable named in spec.md §6's server CLI surface,
// plus the addition's ops knobs (admin surface, log path, metrics
// exporter URL).
type Config struct {
	Host string
	Port int

	TickRate int // Hz, default 20
	Physics  physics.Config

	Loss        float64       // 0.0-1.0
	Latency     time.Duration // base latency
	Jitter      time.Duration
	Bandwidth   int // bytes/sec cap on the simulator, 0 = unlimited

	// BroadcastBytesPerSec caps the aggregate outbound rate of the
	// broadcast phase itself, independent of the simulator's per-packet
	// impairment: it bounds how fast this process pushes snapshot bytes
	// onto the wire, not how the network treats them afterward. 0 means
	// unlimited.
	BroadcastBytesPerSec int

	ClientTimeout     time.Duration // default 5s
	MaxDatagramsPerTick int         // default 1024, live-lock guard

	AdminAddr  string // empty = admin HTTP surface disabled
	LogPath    string
	MetricsURL string // empty = no HTTP metrics export
}

// DefaultConfig mirrors the reference engine's defaults.
func DefaultConfig() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                9000,
		TickRate:            20,
		Physics:             physics.DefaultConfig(),
		ClientTimeout:       5 * time.Second,
		MaxDatagramsPerTick: 1024,
		LogPath:             "server.log",
	}
}

// Dt returns the fixed simulation timestep for this config's tick rate.
func (c Config) Dt() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
