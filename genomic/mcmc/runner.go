package mcmc

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/genopred/genopred/genomic"
)

// Chain is one Markov chain. Step advances it by one iteration and Sample
// reports the monitored parameters named by Params.
type Chain interface {
	Params() []string
	Step() error
	Sample() []float64
}

// Recorder is implemented by chains that accumulate coefficient posteriors.
// Record is called once per kept sample.
type Recorder interface {
	Record()
}

// BurninAware is implemented by chains that adapt during burn-in.
type BurninAware interface {
	EndBurnin()
}

// Factory builds chain id with its dedicated RNG.
type Factory func(id int, rng *rand.Rand) (Chain, error)

// pollInterval is how often the indicator reads the progress counters.
const pollInterval = 200 * time.Millisecond

// Config groups runner parameters.
type Config struct {
	Chains     int
	Iterations int // post-burn-in iterations per chain
	Burnin     int
	Thin       int
	MaxSamples int       // ring capacity per chain; 0 keeps every thinned sample
	Progress   io.Writer // progress bar destination; nil disables it
}

// ConfigFrom copies the runner fields of an MCMC configuration.
func ConfigFrom(cfg genomic.MCMCConfig, progress io.Writer) Config {
	return Config{
		Chains:     cfg.Chains,
		Iterations: cfg.Iterations,
		Burnin:     cfg.Burnin,
		Thin:       cfg.Thin,
		Progress:   progress,
	}
}

// Runner drives several chains to completion or cancellation.
type Runner struct {
	cfg      Config
	seed     genomic.SeedKey
	progress []atomic.Int64
	phases   []atomic.Int32
}

// NewRunner panics on a configuration that cannot run.
func NewRunner(cfg Config, seed genomic.SeedKey) *Runner {
	if cfg.Chains < 1 {
		panic(fmt.Sprintf("mcmc: chains must be >= 1, got %d", cfg.Chains))
	}
	if cfg.Iterations < 1 {
		panic(fmt.Sprintf("mcmc: iterations must be >= 1, got %d", cfg.Iterations))
	}
	if cfg.Thin < 1 {
		panic(fmt.Sprintf("mcmc: thin must be >= 1, got %d", cfg.Thin))
	}
	if cfg.Burnin < 0 {
		panic(fmt.Sprintf("mcmc: burnin must be >= 0, got %d", cfg.Burnin))
	}
	return &Runner{
		cfg:      cfg,
		seed:     seed,
		progress: make([]atomic.Int64, cfg.Chains),
		phases:   make([]atomic.Int32, cfg.Chains),
	}
}

// Result is the outcome of a run. On cancellation it holds every sample
// stored before the chains stopped.
type Result struct {
	Params  []string
	Chains  []Chain
	Stores  []*Store
	Phases  []Phase
	Summary []ParamSummary
	Seed    genomic.SeedKey
}

// Progress returns the number of completed iterations per chain.
func (r *Runner) Progress() []int64 {
	out := make([]int64, len(r.progress))
	for k := range r.progress {
		out[k] = r.progress[k].Load()
	}
	return out
}

// Phase returns the current phase of chain k.
func (r *Runner) Phase(k int) Phase { return Phase(r.phases[k].Load()) }

// Run builds every chain with factory and samples them concurrently. A chain
// error stops the other chains; ctx cancellation stops all of them between
// iterations and yields the partial result with ErrCancelled.
func (r *Runner) Run(ctx context.Context, factory Factory) (*Result, error) {
	rngs := genomic.NewPartitionedRNG(r.seed)
	chains := make([]Chain, r.cfg.Chains)
	for k := range chains {
		c, err := factory(k, rngs.ForChain(k))
		if err != nil {
			return nil, fmt.Errorf("building chain %d: %w", k, err)
		}
		chains[k] = c
	}
	params := chains[0].Params()
	capacity := r.cfg.MaxSamples
	if capacity <= 0 {
		capacity = max(1, r.cfg.Iterations/r.cfg.Thin)
	}
	stores := make([]*Store, len(chains))
	for k := range stores {
		stores[k] = NewStore(params, capacity)
	}

	logrus.Infof("mcmc: %d chains, %d burn-in + %d iterations, thin %d, seed %d",
		r.cfg.Chains, r.cfg.Burnin, r.cfg.Iterations, r.cfg.Thin, r.seed)

	stop := make(chan struct{})
	watched := r.watch(stop)

	g, gctx := errgroup.WithContext(ctx)
	for k := range chains {
		g.Go(func() error { return r.runChain(gctx, k, chains[k], stores[k]) })
	}
	err := g.Wait()
	close(stop)
	<-watched

	res := &Result{
		Params: params,
		Chains: chains,
		Stores: stores,
		Phases: make([]Phase, len(chains)),
		Seed:   r.seed,
	}
	for k := range chains {
		res.Phases[k] = r.Phase(k)
	}
	res.Summary = Summarize(stores)
	if err != nil && ctx.Err() != nil {
		logrus.Warnf("mcmc: cancelled after %v iterations", r.Progress())
	}
	return res, err
}

func (r *Runner) runChain(ctx context.Context, k int, c Chain, store *Store) error {
	r.phases[k].Store(int32(PhaseBurning))
	for it := 0; it < r.cfg.Burnin; it++ {
		if err := r.iterate(ctx, k, it, c); err != nil {
			return err
		}
	}
	if b, ok := c.(BurninAware); ok {
		b.EndBurnin()
	}
	rec, _ := c.(Recorder)
	r.phases[k].Store(int32(PhaseSampling))
	for it := 0; it < r.cfg.Iterations; it++ {
		if err := r.iterate(ctx, k, r.cfg.Burnin+it, c); err != nil {
			return err
		}
		if (it+1)%r.cfg.Thin != 0 {
			continue
		}
		store.Push(c.Sample())
		if rec != nil {
			rec.Record()
		}
	}
	r.phases[k].Store(int32(PhaseFinalized))
	logrus.Debugf("mcmc: chain %d finalized with %d samples", k, store.Total())
	return nil
}

// iterate checks for cancellation and runs one step.
func (r *Runner) iterate(ctx context.Context, k, it int, c Chain) error {
	if ctx.Err() != nil {
		r.phases[k].Store(int32(PhaseAborted))
		return fmt.Errorf("mcmc chain %d at iteration %d: %w", k, it, genomic.ErrCancelled)
	}
	if err := c.Step(); err != nil {
		r.phases[k].Store(int32(PhaseAborted))
		return fmt.Errorf("mcmc chain %d: %w", k, err)
	}
	r.progress[k].Add(1)
	return nil
}

// watch starts the progress indicator. The returned channel is closed once
// the indicator has drawn its final state.
func (r *Runner) watch(stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	if r.cfg.Progress == nil {
		close(done)
		return done
	}
	total := int64(r.cfg.Chains) * int64(r.cfg.Burnin+r.cfg.Iterations)
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(r.cfg.Progress),
		progressbar.OptionSetDescription("mcmc"),
		progressbar.OptionShowCount(),
	)
	go func() {
		defer close(done)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				bar.Set64(r.completed())
				bar.Finish()
				return
			case <-ticker.C:
				bar.Set64(r.completed())
			}
		}
	}()
	return done
}

func (r *Runner) completed() int64 {
	var n int64
	for k := range r.progress {
		n += r.progress[k].Load()
	}
	return n
}
