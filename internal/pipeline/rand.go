package pipeline

import (
	"math/rand/v2"
	"sync"
)

// Rand is a mutex-guarded random source shared by the workers of one run.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a randomly seeded source.
func NewRand() *Rand {
	return &Rand{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededRand returns a deterministic source.
func NewSeededRand(seed uint64) *Rand {
	return &Rand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// IntN returns a uniform int in [0, n).
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.IntN(n)
}

// Shuffle shuffles n elements using swap.
func (r *Rand) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.r.Shuffle(n, swap)
}

// Perm returns a random permutation of [0, n).
func (r *Rand) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Perm(n)
}

// pick returns a uniformly chosen element of s. s must not be empty.
func pick[T any](r *Rand, s []T) T {
	return s[r.IntN(len(s))]
}
