package race

import (
	"fmt"
	"time"
)

// Config wires the whole engine. All defaults live here, passed in at
// construction; the components carry no process-wide fallbacks.
type Config struct {
	// Sources is the fixed set of feed names racing against each other.
	Sources []string
	// Retention bounds how long a one-sided slot may wait for the other
	// feed before it is evicted as incomplete.
	Retention time.Duration
	// MaxPlausibleMs rejects latency samples at or above this value.
	MaxPlausibleMs int64
	// Thresholds drives both quality classification and the distribution
	// buckets. Nil picks DefaultThresholds.
	Thresholds []QualityThreshold
	// ProgressEvery flags every Kth accepted sample for live progress
	// reporting. Zero disables it.
	ProgressEvery int
}

// Engine is the transport-agnostic core: adapters push arrivals and latency
// samples in, the reporting layer polls outcomes and statistics out. Safe
// for concurrent use by any number of adapter goroutines.
type Engine struct {
	correlator *Correlator
	resolver   *Resolver
	stats      *Aggregator
}

// NewEngine validates the configuration and assembles the engine. Structural
// misconfiguration is the only fatal condition; per-event anomalies later on
// degrade to discarded-and-counted.
func NewEngine(cfg Config) (*Engine, error) {
	correlator, err := NewCorrelator(CorrelatorConfig{
		Sources:   cfg.Sources,
		Retention: cfg.Retention,
	})
	if err != nil {
		return nil, fmt.Errorf("correlator: %w", err)
	}
	resolver, err := NewResolver(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	stats, err := NewAggregator(AggregatorConfig{
		MaxPlausibleMs: cfg.MaxPlausibleMs,
		Thresholds:     resolver.Thresholds(),
		ProgressEvery:  cfg.ProgressEvery,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}
	return &Engine{
		correlator: correlator,
		resolver:   resolver,
		stats:      stats,
	}, nil
}

// SubmitArrival records one source's observation of a slot. When the source
// supplied a production time, the derived propagation latency is fed to the
// aggregator as well. The returned error only signals a malformed event,
// never a correlation anomaly.
func (e *Engine) SubmitArrival(slot uint64, source string, receivedMs int64, blockTimeMs *int64) error {
	ev, err := NewArrivalEvent(slot, source, receivedMs, blockTimeMs)
	if err != nil {
		return err
	}
	e.correlator.Ingest(ev)
	if lat, ok := ev.PropagationLatencyMs(); ok {
		e.stats.Record(LatencySample{
			ValueMs:    lat,
			Source:     source,
			Slot:       slot,
			ObservedAt: receivedMs,
		})
	}
	return nil
}

// SubmitLatencySample feeds an externally measured latency scalar to the
// aggregator. It reports whether the sample passed plausibility filtering.
func (e *Engine) SubmitLatencySample(valueMs int64, source string, slot uint64, observedAt int64) bool {
	accepted, _ := e.stats.Record(LatencySample{
		ValueMs:    valueMs,
		Source:     source,
		Slot:       slot,
		ObservedAt: observedAt,
	})
	return accepted
}

// PollOutcomes sweeps the retention window and drains every outcome resolved
// since the previous call, completed and evicted alike.
func (e *Engine) PollOutcomes() []Outcome {
	e.correlator.Sweep(time.Now())
	return e.resolveAll(e.correlator.PollResults())
}

// Flush evicts all pending slots and drains the remaining outcomes. Called
// at the run deadline so nothing already observed is lost.
func (e *Engine) Flush() []Outcome {
	e.correlator.Flush()
	return e.resolveAll(e.correlator.PollResults())
}

func (e *Engine) resolveAll(results []CorrelationResult) []Outcome {
	if len(results) == 0 {
		return nil
	}
	outcomes := make([]Outcome, 0, len(results))
	for _, res := range results {
		outcomes = append(outcomes, e.resolver.Resolve(res))
	}
	return outcomes
}

// SnapshotStats returns the summary statistics for one source.
func (e *Engine) SnapshotStats(source string) (SummaryStats, bool) {
	return e.stats.Snapshot(source)
}

// SnapshotStatsAll returns the summary statistics for every source that has
// recorded at least one sample (accepted or filtered).
func (e *Engine) SnapshotStatsAll() map[string]SummaryStats {
	return e.stats.SnapshotAll()
}

// RunningAvg reports a source's running average without a resort.
func (e *Engine) RunningAvg(source string) (float64, int) {
	return e.stats.RunningAvg(source)
}

// Diagnostics returns the correlator's anomaly counters.
func (e *Engine) Diagnostics() Diagnostics {
	return e.correlator.Diagnostics()
}

// Resolver exposes the classification bands for report rendering.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}
