// ABOUTME: Performance benchmarks for the page cache
// ABOUTME: Measures hit latency and the single-flight Fetch path

package cache

import (
	"context"
	"testing"

	"github.com/nainya/docsession/pkg/render"
)

func BenchmarkCacheGet(b *testing.B) {
	numPages := 64
	c := newCache(b, int64(numPages)*pageFootprint, "doc")
	for p := 0; p < numPages; p++ {
		if err := c.Put(key("doc", p), artifact("doc", p, pageFootprint), PutOptions{}); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := c.Get(key("doc", i%numPages)); !ok {
			b.Fatal("page not cached")
		}
	}
}

func BenchmarkCacheFetch(b *testing.B) {
	// half the pages fit, so the loop mixes hits with loads and evictions
	numPages := 64
	c := newCache(b, int64(numPages/2)*pageFootprint, "doc")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := i % numPages
		load := func(context.Context) (*render.Artifact, error) {
			return artifact("doc", p, pageFootprint), nil
		}
		if _, err := c.Fetch(ctx, key("doc", p), load, nil, PutOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCacheFetchParallel(b *testing.B) {
	numPages := 64
	c := newCache(b, int64(numPages)*pageFootprint, "doc")
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			p := i % numPages
			i++
			load := func(context.Context) (*render.Artifact, error) {
				return artifact("doc", p, pageFootprint), nil
			}
			if _, err := c.Fetch(ctx, key("doc", p), load, nil, PutOptions{}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
