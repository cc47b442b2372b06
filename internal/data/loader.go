package data

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrExhausted is returned by Loader.Next at the end of an epoch.
var ErrExhausted = errors.New("data loader exhausted")

// LoaderConfig configures batching.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool  // skip a trailing partial batch
	Workers   int   // concurrent Get calls per batch; 0 means GOMAXPROCS
	Seed      int64 // shuffle seed
}

// Loader iterates a Dataset in minibatches. It is not safe for concurrent
// use; the samples of one batch are loaded in parallel.
type Loader struct {
	ds    Dataset
	cfg   LoaderConfig
	rng   *rand.Rand
	order []int
	pos   int
}

// NewLoader creates a loader positioned at the start of the first epoch.
func NewLoader(ds Dataset, cfg LoaderConfig) (*Loader, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if ds.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}
	if cfg.DropLast && ds.Len() < cfg.BatchSize {
		return nil, fmt.Errorf("dataset has %d samples, fewer than one batch of %d", ds.Len(), cfg.BatchSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	l := &Loader{
		ds:    ds,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		order: make([]int, ds.Len()),
	}
	l.Reset()
	return l, nil
}

// Reset starts a new epoch, reshuffling when configured.
func (l *Loader) Reset() {
	for i := range l.order {
		l.order[i] = i
	}
	if l.cfg.Shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.pos = 0
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := len(l.order) / l.cfg.BatchSize
	if !l.cfg.DropLast && len(l.order)%l.cfg.BatchSize != 0 {
		n++
	}
	return n
}

// Next loads the next batch, or returns ErrExhausted when the epoch is over.
func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	remaining := len(l.order) - l.pos
	n := min(l.cfg.BatchSize, remaining)
	if n == 0 || (l.cfg.DropLast && n < l.cfg.BatchSize) {
		return nil, ErrExhausted
	}

	indices := append([]int(nil), l.order[l.pos:l.pos+n]...)
	l.pos += n

	samples := make([]Sample, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Workers)
	for i, idx := range indices {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := l.ds.Get(idx)
			if err != nil {
				return err
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	return stack(samples, indices)
}

// NextCycle is Next that starts a new epoch on exhaustion.
func (l *Loader) NextCycle(ctx context.Context) (*Batch, error) {
	b, err := l.Next(ctx)
	if errors.Is(err, ErrExhausted) {
		l.Reset()
		return l.Next(ctx)
	}
	return b, err
}
