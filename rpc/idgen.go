package rpc

import (
	"math"
	"math/rand/v2"
	"sync/atomic"
)

// IDGenerator produces correlation ids for outgoing requests.
type IDGenerator interface {
	Next() uint64
}

// idStep is the multiplier applied to the seed on every id (the 32-bit FNV prime).
const idStep = 16777619

// MultiplicativeIDs advances a seed by a fixed multiplicative step and masks it
// to the non-negative int64 range. Ids are not cryptographically unique and are
// only fresh within the lifetime of one generator.
type MultiplicativeIDs struct {
	state atomic.Uint64
}

// NewMultiplicativeIDs returns a generator seeded with seed. The seed is forced
// odd: the step is odd, so the sequence then never reaches zero.
func NewMultiplicativeIDs(seed uint64) *MultiplicativeIDs {
	g := &MultiplicativeIDs{}
	g.state.Store((seed | 1) & math.MaxInt64)
	return g
}

// NewRandomIDs seeds a MultiplicativeIDs from the process random source.
func NewRandomIDs() *MultiplicativeIDs {
	return NewMultiplicativeIDs(rand.Uint64())
}

func (g *MultiplicativeIDs) Next() uint64 {
	for {
		cur := g.state.Load()
		next := (cur * idStep) & math.MaxInt64
		if g.state.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// SequentialIDs hands out 1, 2, 3, ...
type SequentialIDs struct {
	counter atomic.Uint64
}

func (g *SequentialIDs) Next() uint64 {
	return g.counter.Add(1)
}
