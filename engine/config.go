package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultMaxInputSize = 4096
	DefaultMaxStack     = 8
	DefaultSpliceRate   = 0.1
)

// Config controls an engine run.
type Config struct {
	// Registerer receives the engine metrics. Nil keeps them private.
	Registerer prometheus.Registerer

	// OnStats is called with a snapshot every StatsInterval and once when
	// the loop ends.
	OnStats func(Stats)

	// Dictionary holds tokens inserted by the dictionary mutation.
	Dictionary [][]byte

	// Seed makes a run reproducible. Zero picks a random seed.
	Seed uint64

	// MaxExecs stops the run after this many executions. Zero is no limit.
	MaxExecs uint64

	// Duration stops the run after this long. Zero is no limit.
	Duration time.Duration

	// StatsInterval is how often progress is logged. Defaults to 5s.
	StatsInterval time.Duration

	// MaxInputSize caps mutated inputs.
	MaxInputSize int

	// MaxStack is the largest number of mutations applied per input.
	MaxStack int

	// SpliceRate is the probability of splicing two entries instead of
	// mutating one. Zero uses DefaultSpliceRate, negative disables it.
	SpliceRate float64

	// KeepCrashing keeps inputs that crash in the queue when they add
	// coverage.
	KeepCrashing bool
}

func (c Config) withDefaults() Config {
	if c.StatsInterval <= 0 {
		c.StatsInterval = 5 * time.Second
	}
	if c.MaxInputSize <= 0 {
		c.MaxInputSize = DefaultMaxInputSize
	}
	if c.MaxStack <= 0 {
		c.MaxStack = DefaultMaxStack
	}
	switch {
	case c.SpliceRate == 0:
		c.SpliceRate = DefaultSpliceRate
	case c.SpliceRate < 0:
		c.SpliceRate = 0
	case c.SpliceRate > 1:
		c.SpliceRate = 1
	}
	return c
}
