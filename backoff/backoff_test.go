package backoff

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	s := NewConstant(5 * time.Second)
	for _, attempt := range []int{1, 2, 10} {
		if got := s.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential_Doubles(t *testing.T) {
	s := NewExponential(time.Second, time.Minute)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := s.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	s := NewExponential(time.Second, 10*time.Second)
	if got := s.Delay(20); got != 10*time.Second {
		t.Errorf("Delay(20) = %v, want cap 10s", got)
	}
}

func TestExponential_NoMax(t *testing.T) {
	s := NewExponential(time.Second, 0)
	if got := s.Delay(6); got != 32*time.Second {
		t.Errorf("Delay(6) = %v, want 32s (uncapped)", got)
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	s := NewExponentialWithJitter(time.Second, 10*time.Second)
	s.Rand = rand.New(rand.NewPCG(1, 2))

	for attempt := 1; attempt <= 8; attempt++ {
		base := time.Second * (1 << (attempt - 1))
		if base > 10*time.Second {
			base = 10 * time.Second
		}
		for range 50 {
			d := s.Delay(attempt)
			if d < 0 || d > base {
				t.Fatalf("Delay(%d) = %v, want within [0, %v]", attempt, d, base)
			}
		}
	}
}

func TestExponentialWithJitter_Spreads(t *testing.T) {
	s := NewExponentialWithJitter(10*time.Second, time.Minute)
	s.Rand = rand.New(rand.NewPCG(3, 4))

	seen := make(map[time.Duration]bool)
	for range 20 {
		seen[s.Delay(3)] = true
	}
	if len(seen) < 2 {
		t.Error("jitter produced identical delays across 20 draws")
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := DefaultStrategy()
	if _, ok := s.(*ExponentialWithJitter); !ok {
		t.Fatalf("expected ExponentialWithJitter, got %T", s)
	}
	if d := s.Delay(4); d > 30*time.Second {
		t.Errorf("Delay(4) = %v exceeds the 30s cap", d)
	}
}
