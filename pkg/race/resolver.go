package race

import "fmt"

// QualityThreshold names a latency band: a side whose propagation latency is
// strictly under UnderMs (and not under any earlier band) gets Label.
type QualityThreshold struct {
	Label   string `json:"label"`
	UnderMs int64  `json:"under_ms"`
}

// DefaultThresholds matches the classification used for live block feeds:
// excellent under 500ms, good under 1s, fair under 2s, slow above.
var DefaultThresholds = []QualityThreshold{
	{Label: "EXCELLENT", UnderMs: 500},
	{Label: "GOOD", UnderMs: 1000},
	{Label: "FAIR", UnderMs: 2000},
}

// QualitySlow labels latencies beyond the last threshold, QualityUnknown
// sides whose source supplied no production time.
const (
	QualitySlow    = "SLOW"
	QualityUnknown = "UNKNOWN"
)

// SideReport is one source's view of a raced slot.
type SideReport struct {
	Source     string `json:"source_id"`
	ReceivedMs int64  `json:"observed_time"`
	LatencyMs  *int64 `json:"latency_ms,omitempty"`
	Quality    string `json:"quality"`
}

// Outcome is the resolved verdict for one correlated slot. Winner is empty
// on a tie and for incomplete slots; an incomplete slot is never counted as
// a win for the side that happens to be present.
type Outcome struct {
	Slot     uint64       `json:"ordering_key"`
	Complete bool         `json:"complete"`
	Winner   string       `json:"winner_source_id,omitempty"`
	Tie      bool         `json:"tie,omitempty"`
	MarginMs int64        `json:"margin_ms"`
	Sides    []SideReport `json:"sides"`
	// Overall is the most favorable of the sides' qualities. Each side is
	// classified against its own latency first; the combination never lets
	// one fast side mask how slow the other was in the per-side reports.
	Overall string `json:"overall_quality"`
}

// Resolver decides winners and classifies latencies.
type Resolver struct {
	thresholds []QualityThreshold
}

// NewResolver builds a Resolver. A nil thresholds slice picks the defaults;
// supplied thresholds must be positive and strictly increasing.
func NewResolver(thresholds []QualityThreshold) (*Resolver, error) {
	if thresholds == nil {
		thresholds = DefaultThresholds
	}
	var prev int64
	for i, th := range thresholds {
		if th.Label == "" {
			return nil, fmt.Errorf("quality threshold %d has empty label", i)
		}
		if th.UnderMs <= prev {
			return nil, fmt.Errorf("quality thresholds must be strictly increasing, got %dms after %dms", th.UnderMs, prev)
		}
		prev = th.UnderMs
	}
	return &Resolver{thresholds: thresholds}, nil
}

// Classify buckets a propagation latency into its quality label.
func (r *Resolver) Classify(latencyMs int64) string {
	for _, th := range r.thresholds {
		if latencyMs < th.UnderMs {
			return th.Label
		}
	}
	return QualitySlow
}

// Thresholds returns the configured bands, for reuse as distribution buckets.
func (r *Resolver) Thresholds() []QualityThreshold {
	return r.thresholds
}

// Resolve turns a correlation result into an outcome. The winner is the side
// with the strictly smaller observed time; equal observed times are a tie
// with margin zero.
func (r *Resolver) Resolve(res CorrelationResult) Outcome {
	out := Outcome{
		Slot:     res.Slot,
		Complete: res.Complete,
		Overall:  QualityUnknown,
	}

	bestRank := len(r.thresholds) + 1
	for _, name := range res.Sources() {
		ev := res.Events[name]
		side := SideReport{
			Source:     name,
			ReceivedMs: ev.ReceivedMs,
			Quality:    QualityUnknown,
		}
		if lat, ok := ev.PropagationLatencyMs(); ok {
			v := lat
			side.LatencyMs = &v
			side.Quality = r.Classify(lat)
			if rank := r.qualityRank(lat); rank < bestRank {
				bestRank = rank
				out.Overall = side.Quality
			}
		}
		out.Sides = append(out.Sides, side)
	}

	if !res.Complete || len(out.Sides) < 2 {
		return out
	}

	first := out.Sides[0]
	var second SideReport
	haveSecond := false
	for _, side := range out.Sides[1:] {
		switch {
		case side.ReceivedMs < first.ReceivedMs:
			second, haveSecond = first, true
			first = side
		case !haveSecond || side.ReceivedMs < second.ReceivedMs:
			second, haveSecond = side, true
		}
	}

	out.MarginMs = second.ReceivedMs - first.ReceivedMs
	if out.MarginMs == 0 {
		out.Tie = true
		return out
	}
	out.Winner = first.Source
	return out
}

func (r *Resolver) qualityRank(latencyMs int64) int {
	for i, th := range r.thresholds {
		if latencyMs < th.UnderMs {
			return i
		}
	}
	return len(r.thresholds)
}
