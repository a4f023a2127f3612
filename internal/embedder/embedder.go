// Package embedder implements the embedding-provider capability: a small
// set of provider variants registered at startup and selected by a string
// tag. It also runs a bounded-concurrency pool in front of every
// provider: a caller that cannot get a slot before its context is done
// fails with an overloaded error.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/percolate-dev/percolate-core/internal/perrors"
)

// Provider is the capability external embedding models implement.
type Provider interface {
	// Embed returns one fixed-dimension vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dim is the fixed dimensionality this provider produces.
	Dim() int
}

// Registry holds the provider variants known to this process, keyed by the
// name schemas reference via default_embedding_provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry builds a registry holding only the "local-hash" provider.
// Register further providers with Register; the local-hash fallback is
// always present so tests and offline nodes have
// a usable default.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register("local-hash", NewLocalHashProvider(256))
	return r
}

// Register adds or replaces a named provider variant.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Known reports whether name is registered; used by the schema registry to
// validate default_embedding_provider at registration time.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, perrors.DependencyUnavailable(fmt.Sprintf("embedding provider %q not registered", name), nil)
	}
	return p, nil
}

// Pool bounds concurrent in-flight embedding requests across all providers
// to its depth. Callers beyond that wait for a slot until their context is
// done and then fail Overloaded; the number of waiting callers is not
// counted or capped.
type Pool struct {
	registry *Registry
	sem      chan struct{}
}

// NewPool wraps registry with a bounded-concurrency gate of the given
// depth.
func NewPool(registry *Registry, depth int) *Pool {
	if depth < 1 {
		depth = 1
	}
	return &Pool{registry: registry, sem: make(chan struct{}, depth)}
}

// Embed acquires one of the pool's depth slots (waiting until ctx is done,
// then failing Overloaded) and delegates to the named provider.
func (p *Pool) Embed(ctx context.Context, provider string, texts []string) ([][]float32, error) {
	prov, err := p.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, perrors.Overloaded("embedding pool exhausted, queue deadline exceeded")
	}
	defer func() { <-p.sem }()

	vecs, err := prov.Embed(ctx, texts)
	if err != nil {
		return nil, perrors.DependencyUnavailable("embedding provider call failed", err)
	}
	return vecs, nil
}

// LocalHashProvider is a deterministic, dependency-free provider used as the
// default fallback and in tests: it hashes each text into a fixed-dimension
// vector. It is not semantically meaningful, but it is stable, always
// available, and exercises the full write/search path without a network
// call.
type LocalHashProvider struct {
	dim int
}

// NewLocalHashProvider builds a provider producing vectors of the given
// dimension.
func NewLocalHashProvider(dim int) *LocalHashProvider {
	return &LocalHashProvider{dim: dim}
}

func (p *LocalHashProvider) Dim() int { return p.dim }

func (p *LocalHashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, p.dim)
	}
	return out, nil
}

// hashVector expands repeated SHA-256 rounds into dim float32 components in
// [-1, 1], then L2-normalises so cosine distance behaves sensibly.
func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	sum := sha256.Sum256([]byte(text))
	seed := sum[:]
	for i := 0; i < dim; i++ {
		if i > 0 && i%32 == 0 {
			next := sha256.Sum256(seed)
			seed = next[:]
		}
		chunk := seed[(i%32)/4*4 : (i%32)/4*4+4]
		u := binary.BigEndian.Uint32(chunk)
		vec[i] = float32(u)/float32(1<<32)*2 - 1
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}

// TextHash returns the stable digest of the concatenated embedding-field
// text, used to detect whether a stored vector is stale relative to its
// entity's current properties.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}
