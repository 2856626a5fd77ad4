package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/canfuzz/fuzzer"
)

func TestBucket(t *testing.T) {
	tests := []struct {
		count, want byte
	}{
		{0, 0}, {1, 1}, {2, 2}, {3, 4}, {4, 8}, {7, 8}, {8, 16}, {15, 16},
		{16, 32}, {31, 32}, {32, 64}, {127, 64}, {128, 128}, {255, 128},
	}
	for _, tt := range tests {
		if got := Bucket(tt.count); got != tt.want {
			t.Errorf("Bucket(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}
}

func TestMaxMap(t *testing.T) {
	var m MaxMap
	if !m.Novel([]byte{0, 1}) {
		t.Error("first hit is not novel")
	}
	if m.Novel([]byte{0, 0}) {
		t.Error("empty coverage is novel")
	}

	raised, fresh := m.Merge([]byte{0, 1, 0})
	if raised != 1 || fresh != 1 || m.Covered() != 1 || m.Len() != 3 {
		t.Fatalf("Merge = %d, %d; covered %d len %d", raised, fresh, m.Covered(), m.Len())
	}
	if m.Novel([]byte{0, 1, 0}) {
		t.Error("same coverage is novel")
	}
	if !m.Novel([]byte{0, 2, 0}) {
		t.Error("higher bucket is not novel")
	}
	if m.Novel([]byte{0, 1, 0}) || m.Novel([]byte{0, 0, 0}) {
		t.Error("lower coverage is novel")
	}
	// 5 and 6 share a bucket
	m.Merge([]byte{0, 5, 0})
	if m.Novel([]byte{0, 6, 0}) {
		t.Error("same bucket is novel")
	}
	raised, fresh = m.Merge([]byte{3, 200, 0})
	if raised != 2 || fresh != 1 || m.Covered() != 2 {
		t.Errorf("Merge = %d, %d; covered %d", raised, fresh, m.Covered())
	}
}

func TestCorpus(t *testing.T) {
	c := NewCorpus()
	if c.Pick(rand.New(rand.NewPCG(1, 2))) != nil {
		t.Error("Pick on an empty corpus returned an entry")
	}
	if _, ok := c.Add([]byte("a"), 0); !ok {
		t.Fatal("Add(a) rejected")
	}
	if _, ok := c.Add([]byte("a"), 5); ok {
		t.Error("duplicate input accepted")
	}
	c.Add([]byte("b"), 9)
	if c.Len() != 2 || !c.Has([]byte("b")) {
		t.Fatalf("corpus = %d entries", c.Len())
	}

	rng := rand.New(rand.NewPCG(1, 2))
	picks := map[string]int{}
	for range 10000 {
		picks[string(c.Pick(rng).Input)]++
	}
	// scores 1 and 9
	if picks["b"] < 7*picks["a"] {
		t.Errorf("picks = %v, want b about nine times as often as a", picks)
	}
}

func TestMutatorBounds(t *testing.T) {
	cfg := Config{MaxInputSize: 64, Dictionary: [][]byte{[]byte("token")}}
	a := NewMutator(rand.New(rand.NewPCG(7, 7)), cfg)
	b := NewMutator(rand.New(rand.NewPCG(7, 7)), cfg)

	in := []byte("0123456789abcdef")
	orig := slices.Clone(in)
	changed := 0
	for range 2000 {
		out := a.Mutate(in, []byte("other input"))
		if len(out) > 64 {
			t.Fatalf("mutated input has %d bytes, limit 64", len(out))
		}
		if !slices.Equal(out, b.Mutate(in, []byte("other input"))) {
			t.Fatal("mutators with the same seed diverged")
		}
		if !slices.Equal(out, in) {
			changed++
		}
	}
	if !slices.Equal(in, orig) {
		t.Error("Mutate modified its input")
	}
	if changed < 1500 {
		t.Errorf("only %d of 2000 mutations changed the input", changed)
	}

	empty := NewMutator(rand.New(rand.NewPCG(1, 1)), Config{})
	grew := false
	for range 100 {
		if len(empty.Mutate(nil, nil)) > 0 {
			grew = true
		}
	}
	if !grew {
		t.Error("mutations never grow an empty input")
	}
}

func TestLoadSeeds(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{"a": "first", "b": "second", "big": "0123456789"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	seeds, err := LoadSeeds(dir, 8)
	if err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}
	got := make([]string, len(seeds))
	for i, s := range seeds {
		got[i] = string(s)
	}
	if diff := cmp.Diff([]string{"first", "second"}, got); diff != "" {
		t.Errorf("seeds mismatch (-want +got):\n%s", diff)
	}

	if seeds, err := LoadSeeds(filepath.Join(dir, "missing"), 8); err != nil || seeds != nil {
		t.Errorf("missing dir: %v, %v", seeds, err)
	}
}

// fakeTarget hits edge 1 when the input starts with 'h' and edge 2 when
// it starts with "hi", which crashes. Inputs starting with 'T' time out.
type fakeTarget struct {
	onCrash func()
	fatalAt int
	calls   int
}

func (f *fakeTarget) Execute(ctx context.Context, input []byte) fuzzer.ExecutionResult {
	f.calls++
	if f.fatalAt > 0 && f.calls == f.fatalAt {
		return fuzzer.ExecutionResult{Fatal: errors.New("replica gone")}
	}
	res := fuzzer.ExecutionResult{Actor: "fake", Method: "go", Coverage: []byte{1, 0, 0}}
	switch {
	case len(input) > 0 && input[0] == 'T':
		res.Outcome = fuzzer.Timeout
	case len(input) > 1 && input[0] == 'h' && input[1] == 'i':
		res.Coverage[1], res.Coverage[2] = 1, 1
		res.Outcome = fuzzer.Crash
		if f.onCrash != nil {
			f.onCrash()
		}
	case len(input) > 0 && input[0] == 'h':
		res.Coverage[1] = 1
	}
	return res
}

func testDirs(t *testing.T) fuzzer.Dirs {
	t.Helper()
	d := fuzzer.NewDirs(t.TempDir(), "fake", "", time.Now())
	if err := d.Create(); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestFuzzStopsAtMaxExecs(t *testing.T) {
	var last Stats
	e := New(Config{Seed: 1, MaxExecs: 500, OnStats: func(s Stats) { last = s }})
	if err := e.Fuzz(context.Background(), &fakeTarget{}, testDirs(t)); err != nil {
		t.Fatalf("Fuzz: %v", err)
	}
	s := e.Stats()
	if s.Execs != 500 {
		t.Errorf("Execs = %d, want 500", s.Execs)
	}
	if !s.Done || !last.Done {
		t.Error("final stats not marked done")
	}
	if s.RunID != e.ID() || s.Edges != 3 || s.Corpus < 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestFuzzFindsCrash(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dirs := testDirs(t)

	e := New(Config{Seed: 42, MaxExecs: 1_000_000})
	if err := e.Fuzz(ctx, &fakeTarget{onCrash: cancel}, dirs); err != nil {
		t.Fatalf("Fuzz: %v", err)
	}
	s := e.Stats()
	if s.Crashes != 1 {
		t.Fatalf("Crashes = %d after %d execs, want 1", s.Crashes, s.Execs)
	}

	files, err := os.ReadDir(dirs.Crashes)
	if err != nil || len(files) != 1 {
		t.Fatalf("crash dir: %v, %v", files, err)
	}
	data, err := os.ReadFile(filepath.Join(dirs.Crashes, files[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 2 || data[0] != 'h' || data[1] != 'i' {
		t.Errorf("crash input = %q", data)
	}
	if files[0].Name() != Name(data) {
		t.Errorf("crash file %s is not named by content", files[0].Name())
	}
}

func TestFuzzSeeds(t *testing.T) {
	dirs := testDirs(t)
	dirs.Corpus = t.TempDir()
	for name, data := range map[string]string{"crash": "hi", "slow": "T", "plain": "h"} {
		if err := os.WriteFile(filepath.Join(dirs.Corpus, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	e := New(Config{Seed: 3, MaxExecs: 3})
	if err := e.Fuzz(context.Background(), &fakeTarget{}, dirs); err != nil {
		t.Fatalf("Fuzz: %v", err)
	}
	s := e.Stats()
	if s.Crashes != 1 || s.Timeouts != 1 || s.Corpus != 1 {
		t.Errorf("stats = %+v, want one crash, one timeout and one queued seed", s)
	}
	for dir, want := range map[string]string{dirs.Crashes: "hi", dirs.Timeouts: "T", dirs.Queue: "h"} {
		if _, err := os.Stat(filepath.Join(dir, Name([]byte(want)))); err != nil {
			t.Errorf("%q not saved in %s: %v", want, dir, err)
		}
	}
}

func TestFuzzSeedsWithoutNewCoverage(t *testing.T) {
	dirs := testDirs(t)
	dirs.Corpus = t.TempDir()
	for name, data := range map[string]string{"a": "a", "b": "b", "c": "c"} {
		if err := os.WriteFile(filepath.Join(dirs.Corpus, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	e := New(Config{Seed: 5, MaxExecs: 3})
	if err := e.Fuzz(context.Background(), &fakeTarget{}, dirs); err != nil {
		t.Fatalf("Fuzz: %v", err)
	}
	if got := e.Stats().Corpus; got != 1 {
		t.Errorf("Corpus = %d, want 1: seeds with the same coverage must not all be queued", got)
	}
	files, err := os.ReadDir(dirs.Queue)
	if err != nil || len(files) != 1 {
		t.Errorf("queue dir: %v, %v", files, err)
	}
}

func TestFuzzFatal(t *testing.T) {
	e := New(Config{Seed: 1})
	err := e.Fuzz(context.Background(), &fakeTarget{fatalAt: 10}, testDirs(t))
	if err == nil || err.Error() != "replica gone" {
		t.Fatalf("Fuzz: err = %v, want the fatal error", err)
	}
	if got := e.Stats().Execs; got != 9 {
		t.Errorf("Execs = %d, want 9", got)
	}
}

func TestFuzzMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(Config{Seed: 1, MaxExecs: 50, Registerer: reg})
	if err := e.Fuzz(context.Background(), &fakeTarget{}, testDirs(t)); err != nil {
		t.Fatalf("Fuzz: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[f.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[f.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	if values["canfuzz_execs_total"] != 50 {
		t.Errorf("execs_total = %v, want 50", values["canfuzz_execs_total"])
	}
	if values["canfuzz_edges"] != 3 {
		t.Errorf("edges = %v, want 3", values["canfuzz_edges"])
	}
	if values["canfuzz_outcomes_total"] != 50 {
		t.Errorf("outcomes_total = %v, want 50", values["canfuzz_outcomes_total"])
	}

	if _, err := NewMetrics(reg, "fake"); err == nil {
		t.Error("registering the same metrics twice succeeded")
	}
}
