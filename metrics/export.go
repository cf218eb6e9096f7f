package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// document is the newline-free JSON shape persisted to disk, matching
// §6: arrays of timestamped samples for each series.
type document struct {
	RTT          []Sample `json:"rtt"`
	Jitter       []Sample `json:"jitter"`
	Loss         []Sample `json:"packet_loss"`
	BandwidthOut []Sample `json:"bandwidth_out"`
	BandwidthIn  []Sample `json:"bandwidth_in"`
	TickTimes    []Sample `json:"tick_times"`
}

func (l *Logger) toDocument() document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return document{
		RTT:          append([]Sample(nil), l.rtt...),
		Jitter:       append([]Sample(nil), l.jitter...),
		Loss:         append([]Sample(nil), l.loss...),
		BandwidthOut: append([]Sample(nil), l.bandwidthOut...),
		BandwidthIn:  append([]Sample(nil), l.bandwidthIn...),
		TickTimes:    append([]Sample(nil), l.tickTimes...),
	}
}

// Save writes the full session's time series to path as a single,
// newline-free JSON document, the only durable persistence the core
// performs.
func (l *Logger) Save(path string) error {
	doc := l.toDocument()
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("metrics: marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

// Exporter periodically POSTs the current metrics document to a
// collector URL, retrying transient failures with
// github.com/hashicorp/go-retryablehttp. It is entirely optional: a
// server or client run without -metrics-url never constructs one, and
// behavior is then identical to local-JSON-only persistence.
type Exporter struct {
	client *retryablehttp.Client
	url    string
}

// NewExporter builds an Exporter posting to url. The retryable client's
// own logger is silenced; failures are surfaced to the caller of Flush
// instead of being printed directly, so the engine's own zap logger stays
// the single source of log output.
func NewExporter(url string) *Exporter {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Exporter{client: client, url: url}
}

// Flush POSTs the current document to the collector URL.
func (e *Exporter) Flush(l *Logger) error {
	doc := l.toDocument()
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("metrics: marshal for export: %w", err)
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, e.url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("metrics: build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("metrics: export: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("metrics: export: collector returned %s", resp.Status)
	}
	return nil
}

// Run flushes the document to the collector on interval until stop is
// closed. Errors are handed to onErr rather than logged directly, so the
// caller's own logger records them.
func (e *Exporter) Run(l *Logger, interval time.Duration, stop <-chan struct{}, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := e.Flush(l); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
