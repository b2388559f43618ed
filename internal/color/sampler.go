package color

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Sampler draws uniformly random colors. The source is injectable so tests
// can replay a sequence. Safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSampler returns a Sampler seeded with seed. Two samplers with the same
// seed produce the same sequence.
func NewSampler(seed uint64) *Sampler {
	return NewSamplerFrom(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// NewTimeSampler returns a Sampler seeded from the wall clock.
func NewTimeSampler() *Sampler {
	return NewSampler(uint64(time.Now().UnixNano()))
}

// NewSamplerFrom wraps an existing random source.
func NewSamplerFrom(rnd *rand.Rand) *Sampler {
	return &Sampler{rnd: rnd}
}

// Sample returns a color with each channel drawn independently from [0,255].
func (s *Sampler) Sample() Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Color{
		R: uint8(s.rnd.UintN(256)),
		G: uint8(s.rnd.UintN(256)),
		B: uint8(s.rnd.UintN(256)),
	}
}
