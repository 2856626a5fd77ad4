package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/canfuzz/errors"
)

// Entry is one input kept in the queue.
type Entry struct {
	Input []byte
	Name  string

	// Score is the number of max map entries this input raised when
	// it was added, at least 1.
	Score int
}

// Corpus is the in-memory queue. Entries are never removed.
type Corpus struct {
	entries []*Entry
	names   map[string]struct{}
	total   int
}

// NewCorpus creates an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{names: make(map[string]struct{})}
}

// Len returns the number of entries.
func (c *Corpus) Len() int {
	return len(c.entries)
}

// Entries returns the entries in insertion order.
func (c *Corpus) Entries() []*Entry {
	return slices.Clone(c.entries)
}

// Has reports whether an input with the same content is queued.
func (c *Corpus) Has(input []byte) bool {
	_, ok := c.names[Name(input)]
	return ok
}

// Add queues a copy of input. Inputs already present are ignored.
func (c *Corpus) Add(input []byte, score int) (*Entry, bool) {
	name := Name(input)
	if _, ok := c.names[name]; ok {
		return nil, false
	}
	e := &Entry{Input: slices.Clone(input), Name: name, Score: max(score, 1)}
	c.names[name] = struct{}{}
	c.entries = append(c.entries, e)
	c.total += e.Score
	return e, true
}

// Pick chooses an entry with probability proportional to its score.
func (c *Corpus) Pick(rng *rand.Rand) *Entry {
	if len(c.entries) == 0 {
		return nil
	}
	n := rng.IntN(c.total)
	for _, e := range c.entries {
		if n < e.Score {
			return e
		}
		n -= e.Score
	}
	return c.entries[len(c.entries)-1]
}

// Name is the artifact file name of an input.
func Name(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// saveInput writes input to dir under its content name. An existing file
// is left alone.
func saveInput(dir string, input []byte) (string, bool, error) {
	path := filepath.Join(dir, Name(input))
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := os.WriteFile(path, input, 0o644); err != nil {
		return "", false, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "write artifact "+path)
	}
	return path, true, nil
}

// LoadSeeds reads every regular file of dir, skipping files larger than
// limit. A missing directory yields no seeds.
func LoadSeeds(dir string, limit int) ([][]byte, error) {
	if dir == "" {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read seed directory "+dir)
	}

	var seeds [][]byte
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read seed "+path)
		}
		if len(data) > limit {
			Logger().Warn("seed exceeds the input size limit",
				zap.String("path", path),
				zap.Int("size", len(data)),
				zap.Int("limit", limit))
			continue
		}
		seeds = append(seeds, data)
	}
	return seeds, nil
}
