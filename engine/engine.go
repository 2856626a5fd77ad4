package engine

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/canfuzz/fuzzer"
)

// Stats is a snapshot of engine progress.
type Stats struct {
	Start          time.Time
	LastFind       time.Time
	RunID          string
	Execs          uint64
	Crashes        uint64
	Timeouts       uint64
	CoverageErrors uint64
	Corpus         int
	Edges          int
	Covered        int
	Elapsed        time.Duration
	Done           bool
}

// ExecsPerSec returns the average execution rate.
func (s Stats) ExecsPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Execs) / s.Elapsed.Seconds()
}

// Engine is the reference mutation engine. One Engine runs one Fuzz call
// at a time.
type Engine struct {
	cfg   Config
	id    string
	mu    sync.Mutex
	stats Stats
}

// New creates an engine.
func New(cfg Config) *Engine {
	id := uuid.NewString()
	return &Engine{
		cfg:   cfg.withDefaults(),
		id:    id,
		stats: Stats{RunID: id},
	}
}

// ID returns the run id used in logs.
func (e *Engine) ID() string {
	return e.id
}

// Stats returns the current progress.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	if !s.Done && !s.Start.IsZero() {
		s.Elapsed = time.Since(s.Start)
	}
	return s
}

func (e *Engine) update(fn func(*Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// Fuzz implements fuzzer.Engine.
func (e *Engine) Fuzz(ctx context.Context, target fuzzer.Target, dirs fuzzer.Dirs) error {
	seed := e.cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	name := filepath.Base(filepath.Dir(dirs.Root))
	metrics, err := NewMetrics(e.cfg.Registerer, name)
	if err != nil {
		return err
	}

	if e.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Duration)
		defer cancel()
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	r := &run{
		engine:  e,
		target:  target,
		dirs:    dirs,
		metrics: metrics,
		corpus:  NewCorpus(),
		mutator: NewMutator(rng, e.cfg),
		rng:     rng,
		log:     Logger().With(zap.String("run", e.id), zap.String("target", name)),
	}
	start := time.Now()
	e.update(func(s *Stats) {
		*s = Stats{RunID: e.id, Start: start}
	})
	r.log.Info("engine started",
		zap.Uint64("seed", seed),
		zap.String("corpus", dirs.Corpus),
		zap.Uint64("max_execs", e.cfg.MaxExecs),
		zap.Duration("duration", e.cfg.Duration))

	err = r.loop(ctx)

	e.update(func(s *Stats) {
		s.Elapsed = time.Since(s.Start)
		s.Done = true
	})
	r.report()
	if err != nil {
		r.log.Error("engine stopped", zap.Error(err))
		return err
	}
	r.log.Info("engine finished", zap.Uint64("execs", r.execs))
	return nil
}

type run struct {
	lastReport time.Time
	engine     *Engine
	target     fuzzer.Target
	metrics    *Metrics
	corpus     *Corpus
	mutator    *Mutator
	rng        *rand.Rand
	log        *zap.Logger
	dirs       fuzzer.Dirs
	max        MaxMap
	execs      uint64
	edges      int
}

func (r *run) loop(ctx context.Context) error {
	seeds, err := LoadSeeds(r.dirs.Corpus, r.engine.cfg.MaxInputSize)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		seeds = [][]byte{{}}
	}
	for _, s := range seeds {
		if r.done(ctx) {
			return nil
		}
		if err := r.execute(ctx, s, true); err != nil {
			return err
		}
	}
	if r.corpus.Len() == 0 {
		r.corpus.Add(nil, 1)
		r.syncCorpus()
	}
	r.log.Info("seeds evaluated",
		zap.Int("seeds", len(seeds)),
		zap.Int("queued", r.corpus.Len()),
		zap.Int("covered", r.max.Covered()))

	for !r.done(ctx) {
		e := r.corpus.Pick(r.rng)
		var other []byte
		if r.corpus.Len() > 1 {
			other = r.corpus.Pick(r.rng).Input
		}
		if err := r.execute(ctx, r.mutator.Mutate(e.Input, other), false); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) done(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	limit := r.engine.cfg.MaxExecs
	return limit > 0 && r.execs >= limit
}

// execute runs one input and files it. The error is the fatal error of
// the result, unless the run is already being cancelled.
func (r *run) execute(ctx context.Context, input []byte, seed bool) error {
	start := time.Now()
	res := r.target.Execute(ctx, input)
	r.metrics.ExecDuration.Observe(time.Since(start).Seconds())

	if res.Fatal != nil {
		if ctx.Err() != nil {
			return nil
		}
		return res.Fatal
	}

	r.execs++
	r.metrics.Execs.Inc()
	r.metrics.Outcomes.WithLabelValues(res.Outcome.String()).Inc()

	switch res.Outcome {
	case fuzzer.Crash:
		if err := r.saveFinding(r.dirs.Crashes, input, &res); err != nil {
			return err
		}
	case fuzzer.Timeout:
		if err := r.saveFinding(r.dirs.Timeouts, input, &res); err != nil {
			return err
		}
	}

	if res.CoverageErr != nil {
		r.metrics.CoverageErrors.Inc()
		r.engine.update(func(s *Stats) { s.CoverageErrors++ })
	} else if err := r.consider(input, &res, seed); err != nil {
		return err
	}

	r.engine.update(func(s *Stats) { s.Execs = r.execs })
	if time.Since(r.lastReport) >= r.engine.cfg.StatsInterval {
		r.report()
	}
	return nil
}

// consider queues the input if it raised the max map.
func (r *run) consider(input []byte, res *fuzzer.ExecutionResult, seed bool) error {
	if n := len(res.Coverage); n > r.edges {
		r.edges = n
		r.metrics.Edges.Set(float64(n))
		r.engine.update(func(s *Stats) { s.Edges = n })
	}
	if res.Outcome != fuzzer.Ok && !r.engine.cfg.KeepCrashing {
		return nil
	}
	if !r.max.Novel(res.Coverage) {
		return nil
	}
	if r.corpus.Has(input) {
		return nil
	}

	raised, fresh := r.max.Merge(res.Coverage)
	entry, _ := r.corpus.Add(input, raised)
	if _, _, err := saveInput(r.dirs.Queue, input); err != nil {
		return err
	}
	r.syncCorpus()
	r.metrics.EdgesCovered.Set(float64(r.max.Covered()))
	now := time.Now()
	r.engine.update(func(s *Stats) {
		s.Covered = r.max.Covered()
		s.LastFind = now
	})
	r.log.Debug("queued input",
		zap.String("name", entry.Name),
		zap.Int("size", len(input)),
		zap.Int("raised", raised),
		zap.Int("new_edges", fresh),
		zap.Bool("seed", seed))
	return nil
}

func (r *run) syncCorpus() {
	n := r.corpus.Len()
	r.metrics.Corpus.Set(float64(n))
	r.engine.update(func(s *Stats) { s.Corpus = n })
}

func (r *run) saveFinding(dir string, input []byte, res *fuzzer.ExecutionResult) error {
	path, created, err := saveInput(dir, input)
	if err != nil || !created {
		return err
	}
	r.engine.update(func(s *Stats) {
		if res.Outcome == fuzzer.Crash {
			s.Crashes++
		} else {
			s.Timeouts++
		}
	})
	r.log.Info("saved finding",
		zap.Stringer("outcome", res.Outcome),
		zap.String("path", path),
		zap.String("method", res.Method),
		zap.Stringer("code", res.Code),
		zap.String("diagnostic", res.Diagnostic))
	return nil
}

func (r *run) report() {
	r.lastReport = time.Now()
	s := r.engine.Stats()
	r.log.Info("progress",
		zap.Uint64("execs", s.Execs),
		zap.Float64("execs_per_sec", s.ExecsPerSec()),
		zap.Int("corpus", s.Corpus),
		zap.Int("covered", s.Covered),
		zap.Int("edges", s.Edges),
		zap.Uint64("crashes", s.Crashes),
		zap.Uint64("timeouts", s.Timeouts),
		zap.Uint64("coverage_errors", s.CoverageErrors))
	if fn := r.engine.cfg.OnStats; fn != nil {
		fn(s)
	}
}
