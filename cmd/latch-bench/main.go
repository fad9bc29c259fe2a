package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
	"github.com/mirkobrombin/go-latch/v1/latch"
)

var (
	concurrency = flag.Int("c", 8, "Number of concurrent workers")
	operations  = flag.Int("n", 1000000, "Total number of latch/unlatch pairs")
	keyspace    = flag.Int("k", 10000, "Distinct keys per worker")
	sizeHint    = flag.Int("s", latch.DefaultSizeHint, "Shard count hint")
)

func main() {
	flag.Parse()

	log.Printf("Starting benchmark: %d ops, %d workers, %d keys/worker, hint %d",
		*operations, *concurrency, *keyspace, *sizeHint)

	set := latch.NewInMemoryUint64(*sizeHint)
	log.Printf("Shard count: %d", set.Shards())

	ctx := context.Background()
	perWorker := *operations / *concurrency
	var violations atomic.Uint64

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < *concurrency; w++ {
		base := uint64(w) * uint64(*keyspace)
		seed := int64(w + 1)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			held := make(map[uint64]bool, *keyspace)
			for i := 0; i < perWorker; i++ {
				key := base + uint64(rng.Intn(*keyspace))
				if held[key] {
					if err := set.Unlatch(ctx, key); err != nil {
						return err
					}
					delete(held, key)
					continue
				}
				err := set.Latch(ctx, key)
				if errors.Is(err, latcherrors.ErrAlreadyLatched) {
					violations.Add(1)
					return err
				}
				if err != nil {
					return err
				}
				held[key] = true
			}
			for key := range held {
				if err := set.Unlatch(ctx, key); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("Benchmark failed: %v (violations detected: %d)", err, violations.Load())
	}
	elapsed := time.Since(start)

	st := set.Stats()
	log.Printf("Done in %v: %.0f ops/sec, %d keys leaked, %d violations",
		elapsed, float64(*operations)/elapsed.Seconds(), st.Held, violations.Load())
}
