package elo

import "math"

const (
	DefaultK      = 32
	DefaultRating = 1500

	MinRating = 0
	MaxRating = 10000
)

// Calculator computes rating changes with the logistic expected-score model.
type Calculator struct {
	k int
}

func NewCalculator(k int) *Calculator {
	if k <= 0 {
		k = DefaultK
	}
	return &Calculator{k: k}
}

func (c *Calculator) K() int { return c.k }

// Expected returns the expected score of a player rated eloA against eloB.
func Expected(eloA, eloB int) float64 {
	return 1 / (1 + math.Pow(10, float64(eloB-eloA)/400))
}

// Actual maps a score line to the actual result pair. Equal scores are a tie.
func Actual(scoreA, scoreB int) (float64, float64) {
	switch {
	case scoreA > scoreB:
		return 1, 0
	case scoreA < scoreB:
		return 0, 1
	default:
		return 0.5, 0.5
	}
}

// Change is the rounded rating delta for one side.
func (c *Calculator) Change(actual, expected float64) int {
	return int(math.Round(float64(c.k) * (actual - expected)))
}

// Calculate returns both new ratings. Results are not clamped to
// [MinRating, MaxRating]; persistence rejects out-of-range values.
func (c *Calculator) Calculate(eloA, eloB, scoreA, scoreB int) (int, int) {
	expA := Expected(eloA, eloB)
	expB := Expected(eloB, eloA)
	actA, actB := Actual(scoreA, scoreB)
	return eloA + c.Change(actA, expA), eloB + c.Change(actB, expB)
}

// InRange reports whether elo is a storable rating.
func InRange(elo int) bool {
	return elo >= MinRating && elo <= MaxRating
}
