package metrics

import (
	"testing"
	"time"
)

func TestPercentileEmpty(t *testing.T) {
	if p := percentile(nil, 0.5); p != nil {
		t.Fatalf("want nil for empty sample set, got %v", *p)
	}
}

func TestPercentileOrderStatistic(t *testing.T) {
	samples := []time.Duration{
		50 * time.Millisecond,
		10 * time.Millisecond,
		30 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}

	// Sorted: 10,20,30,40,50 ms. floor(0.5*5)=2 -> 30ms (0-indexed).
	p50 := percentile(samples, 0.5)
	if p50 == nil || *p50 != 30 {
		t.Fatalf("want p50=30ms, got %v", p50)
	}

	// floor(0.95*5)=4 -> 50ms.
	p95 := percentile(samples, 0.95)
	if p95 == nil || *p95 != 50 {
		t.Fatalf("want p95=50ms, got %v", p95)
	}
}

func TestPercentileDoesNotMutateInput(t *testing.T) {
	samples := []time.Duration{3 * time.Millisecond, 1 * time.Millisecond, 2 * time.Millisecond}
	original := append([]time.Duration(nil), samples...)

	percentile(samples, 0.5)

	for i := range samples {
		if samples[i] != original[i] {
			t.Fatalf("percentile mutated its input slice: %v != %v", samples, original)
		}
	}
}

func TestMeanMillis(t *testing.T) {
	samples := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	if got := meanMillis(samples); got != 20 {
		t.Fatalf("want mean 20ms, got %v", got)
	}
	if got := meanMillis(nil); got != 0 {
		t.Fatalf("want 0 for empty input, got %v", got)
	}
}
