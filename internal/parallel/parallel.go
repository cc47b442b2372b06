// Package parallel splits CPU kernels across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution of a kernel.
type Config struct {
	Workers  int // goroutines to use; <= 1 runs inline
	MinItems int // below this many items the loop runs inline
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Workers:  runtime.NumCPU(),
		MinItems: 2,
	}
}

// Sequential runs every loop inline. Useful in tests that need determinism
// of floating point accumulation order.
func Sequential() Config {
	return Config{Workers: 1}
}

// For calls f(i) for every i in [0, n). Items are handed out in contiguous
// chunks, one chunk per worker; f must be safe to call concurrently for
// distinct i.
func For(n int, cfg Config, f func(i int)) {
	if cfg.Workers <= 1 || n < max(cfg.MinItems, 2) {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	workers := min(cfg.Workers, n)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates the batch×channel grid common to NCHW kernels.
func ForBatch(batch, channels int, cfg Config, f func(n, c int)) {
	For(batch*channels, cfg, func(k int) {
		f(k/channels, k%channels)
	})
}
