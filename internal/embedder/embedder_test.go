package embedder

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestRegistryKnownLocalHashByDefault(t *testing.T) {
	r := NewRegistry()
	if !r.Known("local-hash") {
		t.Fatal("NewRegistry should always register local-hash")
	}
	if r.Known("does-not-exist") {
		t.Fatal("Known should report false for an unregistered provider")
	}
}

func TestRegistryGetUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("does-not-exist"); err == nil {
		t.Fatal("Get should fail for an unregistered provider")
	}
}

func TestLocalHashProviderDeterministic(t *testing.T) {
	p := NewLocalHashProvider(32)
	ctx := context.Background()

	a, err := p.Embed(ctx, []string{"hello world"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	b, err := p.Embed(ctx, []string{"hello world"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}

	if len(a[0]) != 32 || len(b[0]) != 32 {
		t.Fatalf("expected 32-dim vectors, got %d and %d", len(a[0]), len(b[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("Embed should be deterministic for the same text, component %d differs", i)
		}
	}
}

func TestLocalHashProviderDistinguishesText(t *testing.T) {
	p := NewLocalHashProvider(32)
	ctx := context.Background()

	vecs, err := p.Embed(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	same := true
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("distinct input texts should not hash to the same vector")
	}
}

func TestLocalHashProviderNormalized(t *testing.T) {
	p := NewLocalHashProvider(16)
	vecs, err := p.Embed(context.Background(), []string{"normalize me"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}

	var sumSq float64
	for _, x := range vecs[0] {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-3 {
		t.Fatalf("expected an L2-normalised vector, got norm %v", norm)
	}
}

func TestTextHashStable(t *testing.T) {
	if TextHash("same text") != TextHash("same text") {
		t.Fatal("TextHash should be stable for identical input")
	}
	if TextHash("one") == TextHash("two") {
		t.Fatal("TextHash should differ for different input")
	}
}

func TestPoolEmbedDelegatesToNamedProvider(t *testing.T) {
	r := NewRegistry()
	pool := NewPool(r, 4)

	vecs, err := pool.Embed(context.Background(), "local-hash", []string{"pool test"})
	if err != nil {
		t.Fatalf("Pool.Embed returned error: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 256 {
		t.Fatalf("expected 1 vector of dim 256 from local-hash, got %d vectors of dim %d", len(vecs), len(vecs[0]))
	}
}

func TestPoolEmbedUnknownProvider(t *testing.T) {
	pool := NewPool(NewRegistry(), 4)
	if _, err := pool.Embed(context.Background(), "ghost", []string{"x"}); err == nil {
		t.Fatal("Pool.Embed should fail for an unregistered provider")
	}
}

func TestPoolEmbedOverloadedOnExhaustedDeadline(t *testing.T) {
	release := make(chan struct{})
	r := NewRegistry()
	r.Register("slow", blockingProvider{release: release})
	pool := NewPool(r, 1)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = pool.Embed(context.Background(), "slow", []string{"occupy"})
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pool.Embed(ctx, "local-hash", []string{"queued"})
	close(release)
	if err == nil {
		t.Fatal("Embed should fail once the pool is saturated and the context deadline passes")
	}
}

// blockingProvider holds its single pool slot until release is closed,
// letting the overload test above force the pool into saturation.
type blockingProvider struct {
	release chan struct{}
}

func (b blockingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	<-b.release
	return make([][]float32, len(texts)), nil
}

func (blockingProvider) Dim() int { return 0 }
