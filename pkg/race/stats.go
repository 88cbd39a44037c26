package race

import (
	"fmt"
	"sort"
	"sync"
)

// Bucket is a named distribution count. UnderMs is zero for the overflow
// bucket that collects everything past the last threshold.
type Bucket struct {
	Label   string `json:"label"`
	UnderMs int64  `json:"under_ms,omitempty"`
	Count   int    `json:"count"`
}

// SummaryStats is a deterministic snapshot of one source's retained samples.
// Two runs fed the identical ordered sample sequence produce identical stats.
type SummaryStats struct {
	Source   string   `json:"source_id"`
	Count    int      `json:"count"`
	Filtered uint64   `json:"filtered"`
	AvgMs    float64  `json:"avg"`
	MinMs    int64    `json:"min"`
	MaxMs    int64    `json:"max"`
	P50Ms    int64    `json:"p50"`
	P90Ms    int64    `json:"p90"`
	P95Ms    int64    `json:"p95"`
	P99Ms    int64    `json:"p99"`
	Buckets  []Bucket `json:"buckets,omitempty"`
}

// AggregatorConfig configures sample retention and validation.
type AggregatorConfig struct {
	// MaxPlausibleMs rejects samples at or above this value. Negative
	// samples are always rejected. Rejected samples are counted, never
	// clamped into the data set.
	MaxPlausibleMs int64
	// Thresholds defines the distribution buckets reported by Snapshot.
	// Nil picks DefaultThresholds.
	Thresholds []QualityThreshold
	// ProgressEvery makes Record flag every Kth accepted sample per source
	// so callers can report a running average without a resort. Zero
	// disables progress flagging.
	ProgressEvery int
}

// Aggregator retains latency samples per source and computes summary
// statistics on demand. Percentiles are recomputed from the full retained
// set at snapshot time; Record stays cheap (append plus running sum).
type Aggregator struct {
	mu             sync.Mutex
	maxPlausibleMs int64
	thresholds     []QualityThreshold
	progressEvery  int
	bySource       map[string]*sourceSamples
}

type sourceSamples struct {
	values   []int64
	sum      int64
	filtered uint64
}

// NewAggregator validates the configuration and builds an Aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.MaxPlausibleMs <= 0 {
		return nil, fmt.Errorf("max plausible latency must be positive, got %d", cfg.MaxPlausibleMs)
	}
	if cfg.ProgressEvery < 0 {
		return nil, fmt.Errorf("progress cadence must not be negative, got %d", cfg.ProgressEvery)
	}
	thresholds := cfg.Thresholds
	if thresholds == nil {
		thresholds = DefaultThresholds
	}
	return &Aggregator{
		maxPlausibleMs: cfg.MaxPlausibleMs,
		thresholds:     thresholds,
		progressEvery:  cfg.ProgressEvery,
		bySource:       make(map[string]*sourceSamples),
	}, nil
}

// Record appends a sample to its source's retained set. Implausible samples
// (negative or at least MaxPlausibleMs) are discarded and counted instead.
// progress is true on every ProgressEvery-th accepted sample for the source.
func (a *Aggregator) Record(s LatencySample) (accepted, progress bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.bySource[s.Source]
	if !ok {
		src = &sourceSamples{}
		a.bySource[s.Source] = src
	}
	if s.ValueMs < 0 || s.ValueMs >= a.maxPlausibleMs {
		src.filtered++
		return false, false
	}
	src.values = append(src.values, s.ValueMs)
	src.sum += s.ValueMs
	if a.progressEvery > 0 && len(src.values)%a.progressEvery == 0 {
		progress = true
	}
	return true, progress
}

// RunningAvg returns the running average and count for a source without
// sorting the retained set.
func (a *Aggregator) RunningAvg(source string) (float64, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.bySource[source]
	if !ok || len(src.values) == 0 {
		return 0, 0
	}
	return float64(src.sum) / float64(len(src.values)), len(src.values)
}

// FilteredCount reports how many samples were rejected for a source.
func (a *Aggregator) FilteredCount(source string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if src, ok := a.bySource[source]; ok {
		return src.filtered
	}
	return 0
}

// Snapshot computes summary statistics for one source. The second return is
// false when the source has recorded nothing at all.
func (a *Aggregator) Snapshot(source string) (SummaryStats, bool) {
	a.mu.Lock()
	src, ok := a.bySource[source]
	if !ok {
		a.mu.Unlock()
		return SummaryStats{}, false
	}
	values := make([]int64, len(src.values))
	copy(values, src.values)
	sum, filtered := src.sum, src.filtered
	a.mu.Unlock()

	return a.summarize(source, values, sum, filtered), true
}

// SnapshotAll computes summary statistics for every known source.
func (a *Aggregator) SnapshotAll() map[string]SummaryStats {
	a.mu.Lock()
	type copied struct {
		values   []int64
		sum      int64
		filtered uint64
	}
	work := make(map[string]copied, len(a.bySource))
	for name, src := range a.bySource {
		values := make([]int64, len(src.values))
		copy(values, src.values)
		work[name] = copied{values: values, sum: src.sum, filtered: src.filtered}
	}
	a.mu.Unlock()

	out := make(map[string]SummaryStats, len(work))
	for name, w := range work {
		out[name] = a.summarize(name, w.values, w.sum, w.filtered)
	}
	return out
}

func (a *Aggregator) summarize(source string, values []int64, sum int64, filtered uint64) SummaryStats {
	stats := SummaryStats{
		Source:   source,
		Count:    len(values),
		Filtered: filtered,
	}
	if len(values) == 0 {
		return stats
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	stats.AvgMs = float64(sum) / float64(len(values))
	stats.MinMs = values[0]
	stats.MaxMs = values[len(values)-1]
	stats.P50Ms = percentile(values, 0.50)
	stats.P90Ms = percentile(values, 0.90)
	stats.P95Ms = percentile(values, 0.95)
	stats.P99Ms = percentile(values, 0.99)
	stats.Buckets = bucketCounts(values, a.thresholds)
	return stats
}

// percentile is nearest-rank over a sorted slice: sorted[int(p*(n-1))],
// clamped so p=1.0 stays in bounds for any n.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func bucketCounts(sorted []int64, thresholds []QualityThreshold) []Bucket {
	buckets := make([]Bucket, 0, len(thresholds)+1)
	remaining := sorted
	for _, th := range thresholds {
		n := sort.Search(len(remaining), func(i int) bool { return remaining[i] >= th.UnderMs })
		buckets = append(buckets, Bucket{Label: th.Label, UnderMs: th.UnderMs, Count: n})
		remaining = remaining[n:]
	}
	buckets = append(buckets, Bucket{Label: QualitySlow, Count: len(remaining)})
	return buckets
}
