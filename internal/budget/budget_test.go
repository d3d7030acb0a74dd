package budget

import (
	"math"
	"testing"
	"time"
)

func TestWouldExceedIsInclusive(t *testing.T) {
	cases := []struct {
		name  string
		cost  float64
		limit float64
		want  bool
	}{
		{"well under", 2.5, 10.0, false},
		{"just under", 9.999999, 10.0, false},
		{"exactly at limit", 10.0, 10.0, true},
		{"over", 10.000001, 10.0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WouldExceed(tc.cost, tc.limit); got != tc.want {
				t.Fatalf("WouldExceed(%v, %v) = %v, want %v",
					tc.cost, tc.limit, got, tc.want)
			}
		})
	}
}

func TestTokenCostUsesModelPrices(t *testing.T) {
	pt := DefaultPriceTable()

	got := pt.TokenCost("palette-chat-v2", 1000, 1000)
	want := 0.003 + 0.015
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("TokenCost = %v, want %v", got, want)
	}
}

func TestTokenCostFallsBackToDefault(t *testing.T) {
	pt := DefaultPriceTable()

	got := pt.TokenCost("some-unlisted-model", 2000, 0)
	want := 2 * pt.DefaultModel.InputPerKTok
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("TokenCost = %v, want %v", got, want)
	}
}

func TestTrackerAccruesAllCategories(t *testing.T) {
	pt := &PriceTable{
		ComputePerHour: 3.6, // 0.001/s keeps the arithmetic readable
		StoragePerOp:   0.01,
		Models: map[string]ModelPrice{
			"m": {InputPerKTok: 1.0, OutputPerKTok: 2.0},
		},
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	tr := &Tracker{prices: pt, now: func() time.Time { return clock }, baseline: 5.0}
	tr.resumedAt = clock

	// 1.0 input + 1.0 output, 3 ops at 0.01, then 10s of compute at 0.001/s.
	tr.RecordUsage("m", 1000, 500)
	tr.RecordStorageOps(3)
	clock = base.Add(10 * time.Second)

	inference, compute, storage, total := tr.Categories()
	if math.Abs(inference-2.0) > 1e-9 {
		t.Fatalf("inference = %v, want 2.0", inference)
	}
	if math.Abs(compute-0.01) > 1e-9 {
		t.Fatalf("compute = %v, want 0.01", compute)
	}
	if math.Abs(storage-0.03) > 1e-9 {
		t.Fatalf("storage = %v, want 0.03", storage)
	}
	wantTotal := 5.0 + 2.0 + 0.01 + 0.03
	if math.Abs(total-wantTotal) > 1e-9 {
		t.Fatalf("total = %v, want %v", total, wantTotal)
	}
	if got := tr.Current(); math.Abs(got-wantTotal) > 1e-9 {
		t.Fatalf("Current = %v, want %v", got, wantTotal)
	}
}

func TestTrackerBaselineCarriesResumedCost(t *testing.T) {
	tr := NewTracker(DefaultPriceTable(), 7.25)
	if got := tr.Current(); got < 7.25 {
		t.Fatalf("Current = %v, want at least the 7.25 baseline", got)
	}
}
