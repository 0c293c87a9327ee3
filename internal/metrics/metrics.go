// Package metrics owns the process-lifetime counters of the analysis engine.
package metrics

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

const latencyWindow = 512

// Counters is created once at startup and injected into the components that
// record into it. Zero values are usable.
type Counters struct {
	mu                      sync.Mutex
	dedupRetriesTotal       int64
	dedupDuplicatesAccepted int64
	unknownLifetime         int64
	generationCalls         int64
	generationFailures      int64
	generationFallbacks     int64
	latencies               []float64
	next                    int
}

// New returns an empty counter set.
func New() *Counters {
	return &Counters{}
}

// AddDedupRetries adds the attempts made by one dedup loop.
func (c *Counters) AddDedupRetries(n int) {
	c.mu.Lock()
	c.dedupRetriesTotal += int64(n)
	c.mu.Unlock()
}

// IncDuplicateAccepted records a duplicate accepted after exhausting retries.
func (c *Counters) IncDuplicateAccepted() {
	c.mu.Lock()
	c.dedupDuplicatesAccepted++
	c.mu.Unlock()
}

// IncUnknown records one UNKNOWN-tier answer.
func (c *Counters) IncUnknown() {
	c.mu.Lock()
	c.unknownLifetime++
	c.mu.Unlock()
}

// ObserveGeneration records one generator call.
func (c *Counters) ObserveGeneration(d time.Duration, err error, fallback bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generationCalls++
	if err != nil {
		c.generationFailures++
	}
	if fallback {
		c.generationFallbacks++
	}
	ms := float64(d) / float64(time.Millisecond)
	if len(c.latencies) < latencyWindow {
		c.latencies = append(c.latencies, ms)
		return
	}
	c.latencies[c.next] = ms
	c.next = (c.next + 1) % latencyWindow
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	DedupRetriesTotal       int64   `json:"dedup_retries_total"`
	DedupDuplicatesAccepted int64   `json:"dedup_duplicates_accepted"`
	UnknownAnswersTotal     int64   `json:"unknown_answers_total"`
	GenerationCalls         int64   `json:"generation_calls"`
	GenerationFailures      int64   `json:"generation_failures"`
	GenerationFallbacks     int64   `json:"generation_fallbacks"`
	LatencyP50Ms            float64 `json:"generation_latency_p50_ms"`
	LatencyP95Ms            float64 `json:"generation_latency_p95_ms"`
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		DedupRetriesTotal:       c.dedupRetriesTotal,
		DedupDuplicatesAccepted: c.dedupDuplicatesAccepted,
		UnknownAnswersTotal:     c.unknownLifetime,
		GenerationCalls:         c.generationCalls,
		GenerationFailures:      c.generationFailures,
		GenerationFallbacks:     c.generationFallbacks,
	}
	data := stats.Float64Data(append([]float64(nil), c.latencies...))
	c.mu.Unlock()

	if data.Len() > 0 {
		if p50, err := data.Percentile(50); err == nil {
			snap.LatencyP50Ms = p50
		}
		if p95, err := data.Percentile(95); err == nil {
			snap.LatencyP95Ms = p95
		}
	}
	return snap
}
