package engine

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// Stream yields reproducible floats in [0,1).
type Stream func() float64

// NewStream derives a stream from a string seed. The same seed always
// yields the same sequence.
func NewStream(seed string) Stream {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	s := h.Sum64()
	r := rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
	return r.Float64
}

// OutcomeSeed is the per-team, per-cycle seed used by the outcome engine.
func OutcomeSeed(scenarioSeed int64, teamID string, cycle int) string {
	return fmt.Sprintf("%d-%s-%d", scenarioSeed, teamID, cycle)
}

const (
	lcgMultiplier = 1103515245
	lcgIncrement  = 12345
	lcgMask       = 0x7fffffff
)

// NewIntStream is a linear congruential stream over an integer seed.
func NewIntStream(seed int64) Stream {
	state := uint64(seed)
	return func() float64 {
		state = (state*lcgMultiplier + lcgIncrement) & lcgMask
		return float64(state) / float64(lcgMask+1)
	}
}
