package fuzzer_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	canfuzzerrors "github.com/wippyai/canfuzz/errors"
	"github.com/wippyai/canfuzz/fuzzer"
	"github.com/wippyai/canfuzz/replica"
)

func TestAssignOnce(t *testing.T) {
	d := fuzzer.NewActor("a").Build()
	if _, ok := d.ID(); ok {
		t.Fatal("fresh descriptor has an identity")
	}
	if err := d.Assign(3); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := d.Assign(4); !errors.Is(err, canfuzzerrors.ErrAlreadyBound) {
		t.Errorf("second Assign: err = %v, want already bound", err)
	}
	if id, _ := d.ID(); id != 3 {
		t.Errorf("ID = %d, want 3", id)
	}
}

func TestCoverageTargetResolution(t *testing.T) {
	support := func(name string) *fuzzer.ActorDescriptor { return fuzzer.NewActor(name).Build() }
	coverage := func(name string) *fuzzer.ActorDescriptor { return fuzzer.NewActor(name).AsCoverage().Build() }

	tests := []struct {
		name    string
		actors  []*fuzzer.ActorDescriptor
		want    string
		wantErr error
	}{
		{"single", []*fuzzer.ActorDescriptor{support("s"), coverage("c")}, "c", nil},
		{"none", []*fuzzer.ActorDescriptor{support("s")}, "", canfuzzerrors.ErrNoCoverageTarget},
		{"empty", nil, "", canfuzzerrors.ErrNoCoverageTarget},
		{"multiple", []*fuzzer.ActorDescriptor{coverage("a"), coverage("b")}, "", canfuzzerrors.ErrMultipleCoverageTargets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fuzzer.NewFuzzState("target", tt.actors)
			d, err := s.CoverageTarget()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CoverageTarget: %v", err)
			}
			if d.Name != tt.want {
				t.Errorf("coverage target = %q, want %q", d.Name, tt.want)
			}
		})
	}
}

func TestFuzzStateLookups(t *testing.T) {
	s := fuzzer.NewState("t").
		WithActor(fuzzer.NewActor("ledger").AsCoverage().Build()).
		WithActor(fuzzer.NewActor("index").Build()).
		Build()

	if diff := cmp.Diff([]string{"ledger", "index"}, s.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.CoverageTargetID(); !errors.Is(err, &canfuzzerrors.Error{Kind: canfuzzerrors.KindNotInitialized}) {
		t.Errorf("CoverageTargetID before install: err = %v", err)
	}
	if _, err := s.ActorID("missing"); !errors.Is(err, &canfuzzerrors.Error{Kind: canfuzzerrors.KindNotFound}) {
		t.Errorf("ActorID(missing): err = %v", err)
	}

	for i, d := range s.Actors() {
		if err := d.Assign(replica.ActorID(10 + i)); err != nil {
			t.Fatalf("Assign: %v", err)
		}
	}
	if id, err := s.CoverageTargetID(); err != nil || id != 10 {
		t.Errorf("CoverageTargetID = %d, %v, want 10", id, err)
	}
	if id, err := s.ActorID("index"); err != nil || id != 11 {
		t.Errorf("ActorID(index) = %d, %v, want 11", id, err)
	}

	r := &replica.Replica{}
	if err := s.InitState(r); err != nil {
		t.Fatalf("InitState: %v", err)
	}
	if err := s.InitState(r); !errors.Is(err, canfuzzerrors.ErrAlreadyBound) {
		t.Errorf("second InitState: err = %v, want already bound", err)
	}
	if s.Replica() != r {
		t.Error("Replica does not return the bound handle")
	}
}

func TestSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.wasm")
	if err := os.WriteFile(path, []byte("\x00asm"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CANFUZZ_TEST_WASM", path)
	t.Setenv("CANFUZZ_TEST_EMPTY", "")

	tests := []struct {
		name string
		src  fuzzer.ModuleSource
		ok   bool
	}{
		{"path", fuzzer.PathSource{Path: path}, true},
		{"missing path", fuzzer.PathSource{Path: filepath.Join(dir, "nope.wasm")}, false},
		{"env", fuzzer.EnvSource{Var: "CANFUZZ_TEST_WASM"}, true},
		{"empty env", fuzzer.EnvSource{Var: "CANFUZZ_TEST_EMPTY"}, false},
		{"unset env", fuzzer.EnvSource{Var: "CANFUZZ_TEST_UNSET"}, false},
		{"bytes", fuzzer.BytesSource{Wasm: []byte("\x00asm")}, true},
		{"empty bytes", fuzzer.BytesSource{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.src.Resolve()
			if !tt.ok {
				if err == nil {
					t.Fatalf("Resolve(%s) succeeded", tt.src)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%s): %v", tt.src, err)
			}
			if string(data) != "\x00asm" {
				t.Errorf("Resolve(%s) = %q", tt.src, data)
			}
		})
	}
}

func TestSourceStrings(t *testing.T) {
	tests := []struct {
		src  fuzzer.ModuleSource
		want string
	}{
		{fuzzer.PathSource{Path: "/w/ledger.wasm"}, "path:/w/ledger.wasm"},
		{fuzzer.EnvSource{Var: "LEDGER_WASM"}, "env:LEDGER_WASM"},
		{fuzzer.BytesSource{Wasm: make([]byte, 12)}, "bytes:12"},
	}
	for _, tt := range tests {
		if got := tt.src.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
