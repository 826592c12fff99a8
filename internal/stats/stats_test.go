package stats

import (
	"math"
	"testing"
)

func TestEMASeedsOnFirstUpdate(t *testing.T) {
	t.Parallel()
	e := NewEMA(10)
	if e.Seeded() {
		t.Fatal("EMA should not be seeded before first update")
	}
	got := e.Update(100)
	if got != 100 {
		t.Errorf("first update = %v, want 100", got)
	}
	if !e.Seeded() {
		t.Error("EMA should be seeded after first update")
	}
}

func TestEMAConverges(t *testing.T) {
	t.Parallel()
	e := NewEMA(5)
	e.Update(100)
	for i := 0; i < 200; i++ {
		e.Update(110)
	}
	if math.Abs(e.Value()-110) > 0.01 {
		t.Errorf("EMA did not converge: got %v, want ~110", e.Value())
	}
}

func TestRollingVolatilityZeroOnSingleObservation(t *testing.T) {
	t.Parallel()
	r := NewRollingVolatility(20)
	sd := r.Update(100)
	if sd != 0 {
		t.Errorf("std dev after first price = %v, want 0", sd)
	}
}

func TestRollingVolatilityNonNegative(t *testing.T) {
	t.Parallel()
	r := NewRollingVolatility(5)
	prices := []float64{100, 101, 99, 102, 98, 105, 95}
	for _, p := range prices {
		if sd := r.Update(p); sd < 0 {
			t.Fatalf("std dev went negative: %v", sd)
		}
	}
}

func TestRollingVolatilitySlidesWindow(t *testing.T) {
	t.Parallel()
	r := NewRollingVolatility(3)
	for _, p := range []float64{100, 101, 100, 101, 100, 101, 100, 101} {
		r.Update(p)
	}
	// Window holds at most 3 returns regardless of how many updates occurred.
	if r.count != 3 {
		t.Errorf("count = %d, want 3 (window capacity)", r.count)
	}
}

func TestRollingWindowStatsZScore(t *testing.T) {
	t.Parallel()
	s := NewRollingWindowStats(10)
	for i := 1; i <= 9; i++ {
		s.Update(float64(i))
	}
	// Mean of 1..9 is 5; feeding 5 again should give a z-score near 0.
	s.Update(5)
	if math.Abs(s.ZScore()) > 1 {
		t.Errorf("z-score for a near-mean value too extreme: %v", s.ZScore())
	}
}

func TestRollingWindowStatsZeroStdGivesZeroZScore(t *testing.T) {
	t.Parallel()
	s := NewRollingWindowStats(5)
	for i := 0; i < 5; i++ {
		s.Update(42)
	}
	if z := s.ZScore(); z != 0 {
		t.Errorf("z-score with zero variance = %v, want 0", z)
	}
}

func TestRollingWindowStatsCurrent(t *testing.T) {
	t.Parallel()
	s := NewRollingWindowStats(3)
	s.Update(1)
	s.Update(2)
	s.Update(3)
	if s.Current() != 3 {
		t.Errorf("Current() = %v, want 3", s.Current())
	}
}
