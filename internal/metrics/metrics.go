// Package metrics provides the injected counter sink for the scan pipeline.
//
// The core increments named counters through the Sink interface; the
// log-flushing behavior is an adapter, not something the pipeline depends on.
package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Counter names used by the pipeline.
const (
	SongsUpsertedTotal        = "songs_upserted_total"
	InvalidGroupKeyTotal      = "invalid_group_key_total"
	DuplicateKeyRetriesTotal  = "duplicate_key_retries_total"
	ChartsSyncedTotal         = "charts_synced_total"
	TJADojoParsedTotal        = "tja_dojo_parsed_total"
	TJANotesTotal             = "tja_notes_total"
	TJAUnknownDirectivesTotal = "tja_unknown_directives_total"
)

// Sink receives counter increments from the pipeline.
type Sink interface {
	Add(name string, delta int64)
}

// Discard is a Sink that drops every increment.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Add(string, int64) {}

// Counters aggregates increments under a single lock and flushes the full
// counter set to the log at most once per second when something changed.
type Counters struct {
	mu        sync.Mutex
	values    map[string]int64
	log       zerolog.Logger
	interval  time.Duration
	lastFlush time.Time
}

// NewCounters creates a counter set flushing to log.
func NewCounters(log zerolog.Logger) *Counters {
	return &Counters{
		values:   make(map[string]int64),
		log:      log,
		interval: time.Second,
	}
}

// Add implements Sink.
func (c *Counters) Add(name string, delta int64) {
	if delta == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] += delta

	now := time.Now()
	if now.Sub(c.lastFlush) < c.interval {
		return
	}
	c.lastFlush = now
	evt := c.log.Info()
	for k, v := range c.values {
		evt = evt.Int64(k, v)
	}
	evt.Msg("scanner metrics")
}

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
