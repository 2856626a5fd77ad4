package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/canfuzz/engine"
	"github.com/wippyai/canfuzz/fuzzer"
	"github.com/wippyai/canfuzz/replica"
)

const sampleConfig = `
target: ledger
method: transfer
isolate: true
tick: 2s
callTimeout: 250ms
journalLimit: 64
seeds: seeds
maxInputSize: 512
dictionary: ["icrc1", "memo"]
classify:
  "504": crash
  default: timeout
actors:
  - name: index
    path: wasm/index.wasm
  - name: ledger
    role: coverage
    env: LEDGER_WASM
    initArg: "4449444c"
`

func TestLoadTargetConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "canfuzz.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadTargetConfig(path)
	if err != nil {
		t.Fatalf("LoadTargetConfig: %v", err)
	}

	h := cfg.Harness()
	if h.Method != "transfer" || !h.Isolate || h.Tick != 2*time.Second {
		t.Errorf("harness = %+v", h)
	}

	fc := cfg.FuzzerConfig()
	if fc.ArtifactRoot != filepath.Join(dir, "artifacts") || fc.SeedDir != filepath.Join(dir, "seeds") {
		t.Errorf("dirs = %q, %q", fc.ArtifactRoot, fc.SeedDir)
	}
	if fc.Replica.CallTimeout != 250*time.Millisecond {
		t.Errorf("call timeout = %v", fc.Replica.CallTimeout)
	}
	if fc.Replica.JournalLimit != 64 {
		t.Errorf("journal limit = %d, want 64", fc.Replica.JournalLimit)
	}
	if fc.Classifier.Policy[replica.CanisterContractViolation] != fuzzer.Crash || fc.Classifier.Default != fuzzer.Timeout {
		t.Errorf("classifier = %+v", fc.Classifier)
	}
	if fc.Classifier.Policy[replica.CanisterTrapped] != fuzzer.Crash {
		t.Error("default policy entries lost")
	}

	s := cfg.FuzzState()
	if diff := cmp.Diff([]string{"index", "ledger"}, s.Names()); diff != "" {
		t.Errorf("actors mismatch (-want +got):\n%s", diff)
	}
	ledger, _ := s.ActorByName("ledger")
	index, _ := s.ActorByName("index")
	if !ledger.IsCoverageTarget() || index.IsCoverageTarget() {
		t.Error("roles not applied")
	}
	if diff := cmp.Diff([]byte("DIDL"), ledger.InitArg); diff != "" {
		t.Errorf("init arg mismatch (-want +got):\n%s", diff)
	}
	if got, want := index.Source.String(), "path:"+filepath.Join(dir, "wasm/index.wasm"); got != want {
		t.Errorf("index source = %q, want %q", got, want)
	}
	if got := ledger.Source.String(); got != "env:LEDGER_WASM" {
		t.Errorf("ledger source = %q", got)
	}

	ec := cfg.EngineConfig(engine.Config{MaxExecs: 7})
	if ec.MaxInputSize != 512 || len(ec.Dictionary) != 2 || ec.MaxExecs != 7 {
		t.Errorf("engine config = %+v", ec)
	}
}

func TestParseTargetConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no target", "method: m\nactors: [{name: a, path: a.wasm}]", "target must be set"},
		{"no method", "target: t\nactors: [{name: a, path: a.wasm}]", "method must be set"},
		{"no actors", "target: t\nmethod: m", "at least one actor"},
		{"duplicate", "target: t\nmethod: m\nactors: [{name: a, path: a.wasm}, {name: a, path: b.wasm}]", "duplicate actor"},
		{"both sources", "target: t\nmethod: m\nactors: [{name: a, path: a.wasm, env: A}]", "exactly one of path and env"},
		{"bad role", "target: t\nmethod: m\nactors: [{name: a, path: a.wasm, role: main}]", "unknown role"},
		{"bad init arg", "target: t\nmethod: m\nactors: [{name: a, path: a.wasm, initArg: zz}]", "bad initArg"},
		{"bad outcome", "target: t\nmethod: m\nclassify: {\"502\": boom}\nactors: [{name: a, path: a.wasm}]", "unknown outcome"},
		{"bad code", "target: t\nmethod: m\nclassify: {trap: crash}\nactors: [{name: a, path: a.wasm}]", "not a reject code"},
		{"bad yaml", "target: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTargetConfig([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}
