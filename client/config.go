package client

import (
	"time"

	"gamenet/physics"
)

// Config collects every tunable named in spec.md §6's client CLI surface,
// plus the addition's log path. TickRate defaults to the same rate as the
// server; Physics must be the identical Config the server uses or
// prediction and reconciliation will never converge.
type Config struct {
	Host string
	Port int

	TickRate int
	Physics  physics.Config

	Headless bool

	Loss      float64
	Latency   time.Duration
	Jitter    time.Duration
	Bandwidth int

	// Redundancy is K in §4.6: how many of the most recent inputs are
	// re-sent in every outgoing INPUT datagram.
	Redundancy int

	// SmoothingTau is the time constant used to ease the externally
	// visible render state toward the reconciled predicted state, per
	// §4.6's "50-100ms" guidance.
	SmoothingTau time.Duration

	ConnectTimeout time.Duration
	PingInterval   time.Duration

	LogPath string
}

// DefaultConfig mirrors the server's defaults so the two sides agree on
// physics without either end having to be told explicitly.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           9000,
		TickRate:       20,
		Physics:        physics.DefaultConfig(),
		Redundancy:     3,
		SmoothingTau:   75 * time.Millisecond,
		ConnectTimeout: 5 * time.Second,
		PingInterval:   time.Second,
		LogPath:        "client.log",
	}
}

// Dt returns the fixed simulation timestep for this config's tick rate.
func (c Config) Dt() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
