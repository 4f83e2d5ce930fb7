package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/intmaps/internal/config"
	"github.com/standardbeagle/intmaps/internal/durable"

	"github.com/urfave/cli/v2"
)

// BenchResult summarizes one bench run
type BenchResult struct {
	Workers   int
	Keys      int
	Stripes   int
	Creations int64
	Size      int
	Elapsed   time.Duration
	Bytes     int
}

type sizedMap interface {
	durable.Map
	SizeInBytes() int
}

func benchCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	stripes := c.Int("stripes")
	if stripes == 0 {
		stripes = cfg.Concurrency.Stripes
	}

	result, err := runBench(c, cfg, c.Int("workers"), c.Int("keys"), stripes)
	if err != nil {
		return err
	}

	ops := float64(result.Workers) * float64(result.Keys)
	fmt.Fprintf(c.App.Writer, "bench: %d workers x %s keys, %d stripes\n",
		result.Workers, humanize.Comma(int64(result.Keys)), result.Stripes)
	fmt.Fprintf(c.App.Writer, "  operations:   %s in %s (%s)\n",
		humanize.Comma(int64(ops)), result.Elapsed.Round(time.Microsecond),
		humanize.SIWithDigits(ops/result.Elapsed.Seconds(), 1, "ops/s"))
	fmt.Fprintf(c.App.Writer, "  creations:    %s (exactly once per key)\n", humanize.Comma(result.Creations))
	fmt.Fprintf(c.App.Writer, "  table memory: %s\n", humanize.IBytes(uint64(result.Bytes)))
	return nil
}

// runBench has every worker LookupOrInsert the same keys in a different
// order and checks that each key was created exactly once
func runBench(c *cli.Context, cfg *config.Config, workers, keys, stripes int) (*BenchResult, error) {
	if workers < 1 || keys < 1 {
		return nil, fmt.Errorf("workers and keys must be positive, got %d and %d", workers, keys)
	}

	var m sizedMap
	var err error
	if stripes > 1 {
		m, err = durable.NewStripedMap(stripes, cfg.Multimap.InitialCapacity, cfg.Multimap.LoadFactor)
	} else {
		m, err = durable.NewNonDurableMapWithCapacity(cfg.Multimap.InitialCapacity, cfg.Multimap.LoadFactor)
	}
	if err != nil {
		return nil, err
	}
	if striped, ok := m.(*durable.StripedMap); ok {
		stripes = striped.StripesCount()
	} else {
		stripes = 1
	}

	var creations atomic.Int64
	create := func(key int32) (int32, error) {
		creations.Add(1)
		return key, nil
	}
	accept := func(int32) (bool, error) { return true, nil }

	start := time.Now()
	g, ctx := errgroup.WithContext(c.Context)
	for w := 0; w < workers; w++ {
		offset := w * (keys / workers)
		g.Go(func() error {
			for i := 0; i < keys; i++ {
				if i%4096 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				key := int32((i+offset)%keys) + 1
				got, err := m.LookupOrInsert(key, accept, create)
				if err != nil {
					return err
				}
				if got != key {
					return fmt.Errorf("key %d: got value %d", key, got)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	size, err := m.Size()
	if err != nil {
		return nil, err
	}
	if creations.Load() != int64(keys) || size != keys {
		return nil, fmt.Errorf("expected %d creations and entries, got %d creations and %d entries",
			keys, creations.Load(), size)
	}

	return &BenchResult{
		Workers:   workers,
		Keys:      keys,
		Stripes:   stripes,
		Creations: creations.Load(),
		Size:      size,
		Elapsed:   elapsed,
		Bytes:     m.SizeInBytes(),
	}, nil
}
