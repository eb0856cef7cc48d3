// Package rng supplies the uniform random draws consumed by the game engines.
//
// Engines never call a global generator; they receive a Source. The default
// is backed by crypto/rand, a seeded PCG source makes simulations replayable,
// and Sequence scripts exact draws for tests.
package rng

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Source returns uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

type cryptoSource struct{}

// Float64 reads 53 random bits so every value is exactly representable.
func (cryptoSource) Float64() float64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return rand.Float64()
	}
	u := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(u) / (1 << 53)
}

// Default returns the crypto-backed source.
func Default() Source { return cryptoSource{} }

type seededSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeeded returns a replayable PCG source.
func NewSeeded(seed uint64) Source {
	return &seededSource{r: rand.New(rand.NewPCG(seed, 0))}
}

func (s *seededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Sequence replays a fixed list of draws, cycling when exhausted.
// Values outside [0, 1) are clamped into range.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequence creates a scripted source. At least one value is required.
func NewSequence(values ...float64) *Sequence {
	if len(values) == 0 {
		values = []float64{0}
	}
	return &Sequence{values: append([]float64(nil), values...)}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	if v < 0 {
		return 0
	}
	if v >= 1 {
		return 1 - 1.0/(1<<53)
	}
	return v
}

// Drawn reports how many values have been consumed.
func (s *Sequence) Drawn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
