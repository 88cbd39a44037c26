package race

import "fmt"

// ArrivalEvent is a single source's observation that a slot's block exists.
// Immutable once constructed.
type ArrivalEvent struct {
	// Slot is the join key across sources: two events with equal Slot and
	// different Source refer to the same underlying block.
	Slot   uint64 `json:"ordering_key"`
	Source string `json:"source_id"`
	// ReceivedMs is the wall clock (ms since epoch) at which this process
	// learned of the slot. Recorded by the adapter, trusted verbatim.
	ReceivedMs int64 `json:"observed_time"`
	// BlockTimeMs is the producer-claimed creation time (ms since epoch),
	// nil when the source cannot supply it.
	BlockTimeMs *int64 `json:"claimed_production_time,omitempty"`
}

// NewArrivalEvent validates and builds an ArrivalEvent.
func NewArrivalEvent(slot uint64, source string, receivedMs int64, blockTimeMs *int64) (ArrivalEvent, error) {
	if source == "" {
		return ArrivalEvent{}, fmt.Errorf("arrival event for slot %d has empty source", slot)
	}
	if receivedMs <= 0 {
		return ArrivalEvent{}, fmt.Errorf("arrival event for slot %d from %s has non-positive observed time %d", slot, source, receivedMs)
	}
	return ArrivalEvent{
		Slot:        slot,
		Source:      source,
		ReceivedMs:  receivedMs,
		BlockTimeMs: blockTimeMs,
	}, nil
}

// PropagationLatencyMs returns observed time minus claimed production time,
// and false when the source supplied no production time.
func (e ArrivalEvent) PropagationLatencyMs() (int64, bool) {
	if e.BlockTimeMs == nil {
		return 0, false
	}
	return e.ReceivedMs - *e.BlockTimeMs, true
}

// LatencySample is a scalar latency measurement fed into the Aggregator.
type LatencySample struct {
	ValueMs    int64  `json:"value_ms"`
	Source     string `json:"source_id"`
	Slot       uint64 `json:"ordering_key"`
	ObservedAt int64  `json:"observed_at"`
}
