package race

import "testing"

func i64(v int64) *int64 { return &v }

func completedResult(t *testing.T, slot uint64, streamMs, rpcMs int64, streamBlock, rpcBlock *int64) CorrelationResult {
	t.Helper()
	stream, err := NewArrivalEvent(slot, "stream", streamMs, streamBlock)
	if err != nil {
		t.Fatalf("NewArrivalEvent: %v", err)
	}
	rpc, err := NewArrivalEvent(slot, "rpc", rpcMs, rpcBlock)
	if err != nil {
		t.Fatalf("NewArrivalEvent: %v", err)
	}
	return CorrelationResult{
		Slot:     slot,
		Events:   map[string]ArrivalEvent{"stream": stream, "rpc": rpc},
		Complete: true,
	}
}

func TestResolverThresholdValidation(t *testing.T) {
	bad := [][]QualityThreshold{
		{{Label: "", UnderMs: 100}},
		{{Label: "A", UnderMs: 0}},
		{{Label: "A", UnderMs: 200}, {Label: "B", UnderMs: 100}},
		{{Label: "A", UnderMs: 100}, {Label: "B", UnderMs: 100}},
	}
	for i, thresholds := range bad {
		if _, err := NewResolver(thresholds); err == nil {
			t.Errorf("case %d: expected threshold validation error", i)
		}
	}
	if _, err := NewResolver(nil); err != nil {
		t.Errorf("nil thresholds should pick defaults: %v", err)
	}
}

func TestResolverPicksWinnerAndMargin(t *testing.T) {
	r, err := NewResolver(nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	out := r.Resolve(completedResult(t, 10, 1000, 1042, nil, nil))
	if out.Winner != "stream" {
		t.Errorf("winner = %q, want stream", out.Winner)
	}
	if out.MarginMs != 42 {
		t.Errorf("margin = %d, want 42", out.MarginMs)
	}
	if out.Tie {
		t.Error("distinct observed times must not be a tie")
	}

	out = r.Resolve(completedResult(t, 11, 2000, 1950, nil, nil))
	if out.Winner != "rpc" {
		t.Errorf("winner = %q, want rpc", out.Winner)
	}
	if out.MarginMs != 50 {
		t.Errorf("margin = %d, want 50", out.MarginMs)
	}
}

func TestResolverTieBreak(t *testing.T) {
	r, _ := NewResolver(nil)

	out := r.Resolve(completedResult(t, 12, 1500, 1500, nil, nil))
	if !out.Tie {
		t.Error("equal observed times must be a tie")
	}
	if out.Winner != "" {
		t.Errorf("tie declared a winner: %q", out.Winner)
	}
	if out.MarginMs != 0 {
		t.Errorf("tie margin = %d, want 0", out.MarginMs)
	}
}

func TestResolverIncompleteIsNeverAWin(t *testing.T) {
	r, _ := NewResolver(nil)

	ev, err := NewArrivalEvent(13, "rpc", 1000, nil)
	if err != nil {
		t.Fatalf("NewArrivalEvent: %v", err)
	}
	out := r.Resolve(CorrelationResult{
		Slot:   13,
		Events: map[string]ArrivalEvent{"rpc": ev},
	})
	if out.Complete {
		t.Error("one-sided result must stay marked incomplete")
	}
	if out.Winner != "" {
		t.Errorf("incomplete slot counted as a win for %q", out.Winner)
	}
	if len(out.Sides) != 1 {
		t.Errorf("sides = %d, want 1", len(out.Sides))
	}
}

func TestResolverClassify(t *testing.T) {
	r, _ := NewResolver(nil)

	cases := []struct {
		latency int64
		want    string
	}{
		{0, "EXCELLENT"},
		{499, "EXCELLENT"},
		{500, "GOOD"},
		{999, "GOOD"},
		{1000, "FAIR"},
		{1999, "FAIR"},
		{2000, QualitySlow},
		{50000, QualitySlow},
	}
	for _, tc := range cases {
		if got := r.Classify(tc.latency); got != tc.want {
			t.Errorf("Classify(%d) = %q, want %q", tc.latency, got, tc.want)
		}
	}
}

func TestResolverPerSideQualityAndOverall(t *testing.T) {
	r, _ := NewResolver(nil)

	// stream: 1000-700=300ms (EXCELLENT); rpc: 3100-700=2400ms (SLOW).
	out := r.Resolve(completedResult(t, 14, 1000, 3100, i64(700), i64(700)))

	byName := make(map[string]SideReport)
	for _, side := range out.Sides {
		byName[side.Source] = side
	}
	if q := byName["stream"].Quality; q != "EXCELLENT" {
		t.Errorf("stream quality = %q, want EXCELLENT", q)
	}
	if q := byName["rpc"].Quality; q != QualitySlow {
		t.Errorf("rpc quality = %q, want SLOW", q)
	}
	if byName["rpc"].LatencyMs == nil || *byName["rpc"].LatencyMs != 2400 {
		t.Errorf("rpc latency = %v, want 2400", byName["rpc"].LatencyMs)
	}
	if out.Overall != "EXCELLENT" {
		t.Errorf("overall = %q, want EXCELLENT", out.Overall)
	}
}

func TestResolverOverallUnknownWithoutBlockTimes(t *testing.T) {
	r, _ := NewResolver(nil)

	out := r.Resolve(completedResult(t, 15, 1000, 1100, nil, nil))
	if out.Overall != QualityUnknown {
		t.Errorf("overall = %q, want UNKNOWN when no side has a production time", out.Overall)
	}
	for _, side := range out.Sides {
		if side.LatencyMs != nil {
			t.Errorf("side %s reported a latency without a production time", side.Source)
		}
		if side.Quality != QualityUnknown {
			t.Errorf("side %s quality = %q, want UNKNOWN", side.Source, side.Quality)
		}
	}
}
