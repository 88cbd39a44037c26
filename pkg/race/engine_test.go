package race

import (
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		Sources:        []string{"stream", "rpc"},
		Retention:      time.Minute,
		MaxPlausibleMs: 60000,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngineConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no sources", Config{Retention: time.Minute, MaxPlausibleMs: 1000}},
		{"one source", Config{Sources: []string{"a"}, Retention: time.Minute, MaxPlausibleMs: 1000}},
		{"no retention", Config{Sources: []string{"a", "b"}, MaxPlausibleMs: 1000}},
		{"no plausibility bound", Config{Sources: []string{"a", "b"}, Retention: time.Minute}},
		{"bad thresholds", Config{
			Sources: []string{"a", "b"}, Retention: time.Minute, MaxPlausibleMs: 1000,
			Thresholds: []QualityThreshold{{Label: "X", UnderMs: 100}, {Label: "Y", UnderMs: 50}},
		}},
	}
	for _, tc := range cases {
		if _, err := NewEngine(tc.cfg); err == nil {
			t.Errorf("%s: expected configuration error", tc.name)
		}
	}
}

func TestEngineSubmitAndPoll(t *testing.T) {
	e := newTestEngine(t)

	blockTime := int64(10000)
	if err := e.SubmitArrival(1, "stream", 10300, &blockTime); err != nil {
		t.Fatalf("SubmitArrival: %v", err)
	}
	if err := e.SubmitArrival(1, "rpc", 10900, &blockTime); err != nil {
		t.Fatalf("SubmitArrival: %v", err)
	}

	outcomes := e.PollOutcomes()
	if len(outcomes) != 1 {
		t.Fatalf("polled %d outcomes, want 1", len(outcomes))
	}
	out := outcomes[0]
	if out.Winner != "stream" || out.MarginMs != 600 {
		t.Errorf("winner/margin = %q/%d, want stream/600", out.Winner, out.MarginMs)
	}
	if out.Overall != "EXCELLENT" {
		t.Errorf("overall = %q, want EXCELLENT (stream side is 300ms)", out.Overall)
	}
	if again := e.PollOutcomes(); len(again) != 0 {
		t.Errorf("second poll returned %d outcomes, want 0", len(again))
	}

	// SubmitArrival derived a propagation sample per side.
	streamStats, ok := e.SnapshotStats("stream")
	if !ok || streamStats.Count != 1 || streamStats.P50Ms != 300 {
		t.Errorf("stream stats = %+v, want one 300ms sample", streamStats)
	}
	rpcStats, _ := e.SnapshotStats("rpc")
	if rpcStats.Count != 1 || rpcStats.P50Ms != 900 {
		t.Errorf("rpc stats = %+v, want one 900ms sample", rpcStats)
	}
}

func TestEngineMalformedArrival(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SubmitArrival(1, "", 1000, nil); err == nil {
		t.Error("empty source accepted")
	}
	if err := e.SubmitArrival(1, "stream", 0, nil); err == nil {
		t.Error("zero observed time accepted")
	}
}

func TestEngineExplicitSamples(t *testing.T) {
	e := newTestEngine(t)

	if !e.SubmitLatencySample(420, "rpc", 9, 10000) {
		t.Error("plausible sample rejected")
	}
	if e.SubmitLatencySample(-1, "rpc", 10, 10001) {
		t.Error("negative sample accepted")
	}

	all := e.SnapshotStatsAll()
	if all["rpc"].Count != 1 || all["rpc"].Filtered != 1 {
		t.Errorf("rpc stats = %+v, want count 1 filtered 1", all["rpc"])
	}
}

func TestEngineFlushReportsPending(t *testing.T) {
	e := newTestEngine(t)

	if err := e.SubmitArrival(5, "rpc", 2000, nil); err != nil {
		t.Fatalf("SubmitArrival: %v", err)
	}

	outcomes := e.Flush()
	if len(outcomes) != 1 {
		t.Fatalf("flush produced %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Complete {
		t.Error("flushed one-sided slot must be incomplete")
	}
	if outcomes[0].Winner != "" {
		t.Errorf("flushed slot declared winner %q", outcomes[0].Winner)
	}
}

func TestEngineDiagnostics(t *testing.T) {
	e := newTestEngine(t)

	_ = e.SubmitArrival(1, "stream", 1000, nil)
	_ = e.SubmitArrival(1, "stream", 1001, nil) // duplicate side
	_ = e.SubmitArrival(2, "nobody", 1002, nil) // unconfigured source

	d := e.Diagnostics()
	if d.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", d.Duplicates)
	}
	if d.UnknownSource != 1 {
		t.Errorf("unknown source = %d, want 1", d.UnknownSource)
	}
}
