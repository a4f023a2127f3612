// Package lockpool serialises writes to the same entity while letting
// writes to different entities proceed in parallel. A fixed number of
// stripes, each an independent mutex, is selected by hashing the
// entity's (tenant, id), so unrelated writes almost never contend for
// the same stripe.
package lockpool

import (
	"hash/fnv"
	"sync"
)

// Pool is a fixed-width array of mutexes. Keys are hashed to a stripe;
// every write to a given (tenant, id) pair always lands on the same
// stripe, so locking that stripe serialises writes to that entity, while
// unrelated entities hashing to other stripes proceed concurrently.
type Pool struct {
	stripes []sync.Mutex
}

// New builds a Pool with the given number of stripes. width is rounded up
// to at least 1.
func New(width int) *Pool {
	if width < 1 {
		width = 1
	}
	return &Pool{stripes: make([]sync.Mutex, width)}
}

func (p *Pool) index(tenant, id string) int {
	h := fnv.New64a()
	h.Write([]byte(tenant))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return int(h.Sum64() % uint64(len(p.stripes)))
}

// Lock acquires the stripe for (tenant, id), blocking until available.
func (p *Pool) Lock(tenant, id string) {
	p.stripes[p.index(tenant, id)].Lock()
}

// Unlock releases the stripe for (tenant, id).
func (p *Pool) Unlock(tenant, id string) {
	p.stripes[p.index(tenant, id)].Unlock()
}

// With runs fn while holding the stripe for (tenant, id).
func (p *Pool) With(tenant, id string, fn func() error) error {
	p.Lock(tenant, id)
	defer p.Unlock(tenant, id)
	return fn()
}
