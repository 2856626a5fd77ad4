package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/canfuzz/engine"
	"github.com/wippyai/canfuzz/fuzzer"
	"github.com/wippyai/canfuzz/instrument"
	"github.com/wippyai/canfuzz/replica"
)

// TargetConfig is the content of a canfuzz.yaml file.
type TargetConfig struct {
	// Fuzz target name, used for the artifact directory.
	Target string `yaml:"target"`
	// Update method receiving every input.
	Method string `yaml:"method"`
	// Restore the coverage target after every input.
	Isolate bool `yaml:"isolate"`
	// Replica clock advance per input.
	Tick time.Duration `yaml:"tick"`
	// Per-message execution budget. Negative disables it.
	CallTimeout time.Duration `yaml:"callTimeout"`
	// Update messages kept for rebuilding the target after a timeout.
	// 0 selects the replica default, negative keeps every message.
	JournalLimit int `yaml:"journalLimit"`
	// Seed input directory.
	Seeds string `yaml:"seeds"`
	// Artifact root directory.
	Artifacts string `yaml:"artifacts"`
	// Mutated input size cap.
	MaxInputSize int `yaml:"maxInputSize"`
	// Tokens for the dictionary mutation.
	Dictionary []string `yaml:"dictionary"`
	// Reject code to outcome overrides, e.g. "504": crash.
	Classify map[string]string `yaml:"classify"`
	// Do not export the edge layout globals.
	SkipLayoutExports bool `yaml:"skipLayoutExports"`
	Actors []ActorConfig `yaml:"actors"`

	dir string
}

// ActorConfig describes one actor.
type ActorConfig struct {
	Name string `yaml:"name"`
	// "coverage" or "support" (default).
	Role string `yaml:"role"`
	// Module file, relative to the config file.
	Path string `yaml:"path"`
	// Environment variable naming the module file.
	Env string `yaml:"env"`
	// Hex-encoded canister_init argument.
	InitArg string `yaml:"initArg"`
}

// LoadTargetConfig reads and validates a target file.
func LoadTargetConfig(path string) (*TargetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	cfg, err := ParseTargetConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// ParseTargetConfig decodes a target file.
func ParseTargetConfig(data []byte) (*TargetConfig, error) {
	cfg := TargetConfig{
		Artifacts: "artifacts",
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts that replica and fuzzer do not.
func (c *TargetConfig) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("target must be set")
	}
	if c.Method == "" {
		return fmt.Errorf("method must be set")
	}
	if len(c.Actors) == 0 {
		return fmt.Errorf("at least one actor is required")
	}
	seen := make(map[string]bool)
	for i, a := range c.Actors {
		if a.Name == "" {
			return fmt.Errorf("actor %d has no name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate actor %q", a.Name)
		}
		seen[a.Name] = true
		if (a.Path == "") == (a.Env == "") {
			return fmt.Errorf("actor %q needs exactly one of path and env", a.Name)
		}
		switch a.Role {
		case "", "support", "coverage":
		default:
			return fmt.Errorf("actor %q has unknown role %q", a.Name, a.Role)
		}
		if _, err := hex.DecodeString(a.InitArg); err != nil {
			return fmt.Errorf("actor %q: bad initArg: %w", a.Name, err)
		}
	}
	if _, err := c.classifier(); err != nil {
		return err
	}
	return nil
}

func (c *TargetConfig) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// FuzzState builds the actor set.
func (c *TargetConfig) FuzzState() *fuzzer.FuzzState {
	s := fuzzer.NewState(c.Target)
	for _, a := range c.Actors {
		b := fuzzer.NewActor(a.Name)
		if a.Path != "" {
			b.WithPath(c.resolve(a.Path))
		} else {
			b.WithEnv(a.Env)
		}
		if a.InitArg != "" {
			arg, _ := hex.DecodeString(a.InitArg)
			b.WithInitArg(arg)
		}
		if a.Role == "coverage" {
			b.AsCoverage()
		}
		s.WithActor(b.Build())
	}
	return s.Build()
}

// Harness builds the per-input behavior.
func (c *TargetConfig) Harness() *fuzzer.MethodHarness {
	return &fuzzer.MethodHarness{Method: c.Method, Isolate: c.Isolate, Tick: c.Tick}
}

// FuzzerConfig builds the orchestrator configuration.
func (c *TargetConfig) FuzzerConfig() fuzzer.Config {
	cls, _ := c.classifier()
	return fuzzer.Config{
		Classifier:   cls,
		ArtifactRoot: c.resolve(c.Artifacts),
		SeedDir:      c.resolve(c.Seeds),
		Replica:      replica.Config{CallTimeout: c.CallTimeout, JournalLimit: c.JournalLimit},
		Instrument:   instrument.Config{SkipLayoutExports: c.SkipLayoutExports},
	}
}

// EngineConfig applies the target's mutation settings to base.
func (c *TargetConfig) EngineConfig(base engine.Config) engine.Config {
	base.MaxInputSize = c.MaxInputSize
	for _, tok := range c.Dictionary {
		base.Dictionary = append(base.Dictionary, []byte(tok))
	}
	return base
}

func (c *TargetConfig) classifier() (*fuzzer.Classifier, error) {
	cls := fuzzer.NewClassifier()
	for key, val := range c.Classify {
		outcome, err := parseOutcome(val)
		if err != nil {
			return nil, fmt.Errorf("classify %q: %w", key, err)
		}
		if key == "default" {
			cls.Default = outcome
			continue
		}
		code, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("classify: %q is not a reject code", key)
		}
		cls.Policy[replica.RejectCode(code)] = outcome
	}
	return cls, nil
}

func parseOutcome(s string) (fuzzer.Outcome, error) {
	switch s {
	case "ok":
		return fuzzer.Ok, nil
	case "crash":
		return fuzzer.Crash, nil
	case "timeout":
		return fuzzer.Timeout, nil
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}
