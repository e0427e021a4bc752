package elo

import "testing"

func TestCalculateEqualRatingsDecisive(t *testing.T) {
	c := NewCalculator(32)
	a, b := c.Calculate(1500, 1500, 3, 1)
	if a != 1516 || b != 1484 {
		t.Fatalf("expected 1516/1484, got %d/%d", a, b)
	}
}

func TestCalculateTieEqualRatings(t *testing.T) {
	c := NewCalculator(32)
	a, b := c.Calculate(1500, 1500, 2, 2)
	if a != 1500 || b != 1500 {
		t.Fatalf("tie at equal ratings should not move: %d/%d", a, b)
	}
}

func TestCalculateTieUnequalRatingsFavoursUnderdog(t *testing.T) {
	c := NewCalculator(32)
	a, b := c.Calculate(1700, 1500, 1, 1)
	if a >= 1700 || b <= 1500 {
		t.Fatalf("underdog should gain on a tie: %d/%d", a, b)
	}
}

func TestCalculateDeterministic(t *testing.T) {
	c := NewCalculator(24)
	a1, b1 := c.Calculate(1432, 1611, 0, 5)
	for i := 0; i < 100; i++ {
		a2, b2 := c.Calculate(1432, 1611, 0, 5)
		if a1 != a2 || b1 != b2 {
			t.Fatalf("run %d differs: %d/%d vs %d/%d", i, a1, b1, a2, b2)
		}
	}
}

func TestDecisiveChangesAreSymmetric(t *testing.T) {
	c := NewCalculator(32)
	cases := []struct{ a, b int }{
		{1500, 1500}, {1500, 1600}, {1200, 1900}, {2000, 1000}, {0, 10000}, {1337, 1338},
	}
	for _, tc := range cases {
		for _, sc := range [][2]int{{1, 0}, {0, 1}, {11, 9}} {
			na, nb := c.Calculate(tc.a, tc.b, sc[0], sc[1])
			da, db := na-tc.a, nb-tc.b
			if da != -db {
				t.Fatalf("elo %d/%d score %v: changes %d and %d not symmetric", tc.a, tc.b, sc, da, db)
			}
		}
	}
}

func TestExpectedComplementary(t *testing.T) {
	for _, pair := range [][2]int{{1500, 1500}, {1400, 1800}, {10, 9000}} {
		sum := Expected(pair[0], pair[1]) + Expected(pair[1], pair[0])
		if sum < 0.999999 || sum > 1.000001 {
			t.Fatalf("expected scores for %v sum to %f", pair, sum)
		}
	}
}

func TestNewCalculatorDefaultsK(t *testing.T) {
	if got := NewCalculator(0).K(); got != DefaultK {
		t.Fatalf("K = %d, want %d", got, DefaultK)
	}
}

func TestNoClamping(t *testing.T) {
	c := NewCalculator(400)
	a, _ := c.Calculate(100, 100, 0, 1)
	if a != -100 {
		t.Fatalf("expected unclamped -100, got %d", a)
	}
	if InRange(-1) || InRange(10001) || !InRange(0) || !InRange(10000) {
		t.Fatalf("InRange bounds wrong")
	}
}
