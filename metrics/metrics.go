// Package metrics accumulates the network-quality time series named in
// the spec: RTT, RFC 3550 jitter, loss, bandwidth, and tick time. It is
// the in-memory collector both the server and the client embed; durable
// persistence and the optional HTTP exporter live in export.go.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
)

// Sample is one timestamped reading, relative to the logger's start time.
type Sample struct {
	T     float64 `json:"t"`
	Value float64 `json:"v"`
}

// Logger collects the session's performance time series. It is safe for
// concurrent use: the tick loop writes to it every tick, while the admin
// HTTP surface reads a snapshot of it from another goroutine.
type Logger struct {
	mu    sync.Mutex
	start time.Time

	rtt          []Sample
	jitter       []Sample
	loss         []Sample
	bandwidthOut []Sample
	bandwidthIn  []Sample
	tickTimes    []Sample

	havePrevRTT    bool
	prevRTTMs      float64
	smoothedJitter float64

	tickCount   int64
	totalTickNs int64
}

// NewLogger returns a Logger whose relative timestamps start now.
func NewLogger() *Logger {
	return &Logger{start: time.Now()}
}

func (l *Logger) elapsed() float64 {
	return time.Since(l.start).Seconds()
}

// LogRTT records one RTT sample (milliseconds) and updates the smoothed
// jitter estimate per RFC 3550 §A.8: J += (|D| - J) / 16, where D is the
// difference between this RTT and the previous one.
func (l *Logger) LogRTT(rttMs float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.elapsed()
	l.rtt = append(l.rtt, Sample{T: t, Value: rttMs})

	if l.havePrevRTT {
		d := math.Abs(rttMs - l.prevRTTMs)
		l.smoothedJitter += (d - l.smoothedJitter) / 16.0
		l.jitter = append(l.jitter, Sample{T: t, Value: l.smoothedJitter})
	}
	l.prevRTTMs = rttMs
	l.havePrevRTT = true
}

// LogLoss records the loss ratio observed over the most recent window.
func (l *Logger) LogLoss(rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loss = append(l.loss, Sample{T: l.elapsed(), Value: rate})
}

// LogBandwidth records bytes sent and received during the preceding
// interval, stored as bytes/sec.
func (l *Logger) LogBandwidth(sentBytes, recvBytes int, interval time.Duration) {
	if interval <= 0 {
		return
	}
	secs := interval.Seconds()
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.elapsed()
	l.bandwidthOut = append(l.bandwidthOut, Sample{T: t, Value: float64(sentBytes) / secs})
	l.bandwidthIn = append(l.bandwidthIn, Sample{T: t, Value: float64(recvBytes) / secs})
}

// LogTickTime records how long one server (or client) tick took.
func (l *Logger) LogTickTime(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tickTimes = append(l.tickTimes, Sample{T: l.elapsed(), Value: float64(d.Microseconds()) / 1000.0})
	l.tickCount++
	l.totalTickNs += d.Nanoseconds()
}

// AvgTickTime returns the mean tick duration observed so far.
func (l *Logger) AvgTickTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tickCount == 0 {
		return 0
	}
	return time.Duration(l.totalTickNs / l.tickCount)
}

// Summary is a point-in-time readout suitable for the admin JSON surface
// and for logging.
type Summary struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	TickCount     int64   `json:"tick_count"`
	AvgTickMs     float64 `json:"avg_tick_ms"`
	LastRTTMs     float64 `json:"last_rtt_ms"`
	LastJitterMs  float64 `json:"last_jitter_ms"`
	LastLoss      float64 `json:"last_loss"`
	BandwidthOut  float64 `json:"bandwidth_out_bytes_per_sec"`
	BandwidthIn   float64 `json:"bandwidth_in_bytes_per_sec"`
}

func lastValue(s []Sample) float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Value
}

// Snapshot returns the current Summary without mutating state.
func (l *Logger) Snapshot() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	var avgMs float64
	if l.tickCount > 0 {
		avgMs = float64(l.totalTickNs) / float64(l.tickCount) / 1e6
	}

	return Summary{
		UptimeSeconds: time.Since(l.start).Seconds(),
		TickCount:     l.tickCount,
		AvgTickMs:     avgMs,
		LastRTTMs:     lastValue(l.rtt),
		LastJitterMs:  lastValue(l.jitter),
		LastLoss:      lastValue(l.loss),
		BandwidthOut:  lastValue(l.bandwidthOut),
		BandwidthIn:   lastValue(l.bandwidthIn),
	}
}

// ReportLine renders a human-readable one-line summary for periodic log
// output, matching the terse stats lines the teacher's metrics endpoint
// and the retrieval pack's packet-test tool both print.
func (l *Logger) ReportLine() string {
	s := l.Snapshot()
	uptime := durafmt.Parse(time.Duration(s.UptimeSeconds) * time.Second).LimitFirstN(2)
	return "uptime=" + uptime.String() +
		" ticks=" + humanize.Comma(s.TickCount) +
		" avgTick=" + humanize.FtoaWithDigits(s.AvgTickMs, 3) + "ms" +
		" rtt=" + humanize.FtoaWithDigits(s.LastRTTMs, 1) + "ms" +
		" jitter=" + humanize.FtoaWithDigits(s.LastJitterMs, 1) + "ms" +
		" loss=" + humanize.FtoaWithDigits(s.LastLoss*100, 2) + "%" +
		" out=" + humanize.Bytes(uint64(s.BandwidthOut)) + "/s" +
		" in=" + humanize.Bytes(uint64(s.BandwidthIn)) + "/s"
}
