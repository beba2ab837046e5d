package waveform

import (
	"math/rand"
	"sync"
)

// SharedSource wraps a *rand.Rand with a mutex so every device's Engine
// can draw from the single per-agent PRNG stream spec §4.1 calls for,
// safely across their independent tick goroutines. math/rand.Rand alone
// has no internal locking and is unsafe shared across goroutines.
type SharedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSharedSource wraps rng for concurrent use by multiple Engines. The
// caller seeds rng once at agent process start.
func NewSharedSource(rng *rand.Rand) *SharedSource {
	return &SharedSource{rng: rng}
}

func (s *SharedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
