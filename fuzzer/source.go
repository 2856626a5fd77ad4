package fuzzer

import (
	"bytes"
	"fmt"
	"os"

	"github.com/wippyai/canfuzz/errors"
)

// ModuleSource locates the bytes of an actor module. Sources are resolved
// once, during Init.
type ModuleSource interface {
	// Resolve returns the module bytes.
	Resolve() ([]byte, error)
	// String describes the source for logs.
	String() string
}

// PathSource reads a module from a file.
type PathSource struct {
	Path string
}

// Resolve reads the file.
func (s PathSource) Resolve() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.New(errors.PhaseSource, errors.KindNotFound).
			Detail("read module %s", s.Path).
			Cause(err).
			Build()
	}
	return data, nil
}

// String returns "path:" followed by the file path.
func (s PathSource) String() string {
	return "path:" + s.Path
}

// EnvSource reads a module from the file named by an environment
// variable, typically set by the build that produced the module.
type EnvSource struct {
	Var string
}

// Resolve reads the file the variable names. An unset or empty variable
// is a not found error.
func (s EnvSource) Resolve() ([]byte, error) {
	path, ok := os.LookupEnv(s.Var)
	if !ok || path == "" {
		return nil, errors.New(errors.PhaseSource, errors.KindNotFound).
			Detail("environment variable %s is not set", s.Var).
			Build()
	}
	return PathSource{Path: path}.Resolve()
}

// String returns "env:" followed by the variable name.
func (s EnvSource) String() string {
	return "env:" + s.Var
}

// BytesSource serves a module held in memory.
type BytesSource struct {
	Wasm []byte
}

// Resolve returns a copy of the module bytes.
func (s BytesSource) Resolve() ([]byte, error) {
	if len(s.Wasm) == 0 {
		return nil, errors.InvalidInput(errors.PhaseSource, "empty in-memory module")
	}
	return bytes.Clone(s.Wasm), nil
}

// String returns "bytes:" followed by the module size.
func (s BytesSource) String() string {
	return fmt.Sprintf("bytes:%d", len(s.Wasm))
}
