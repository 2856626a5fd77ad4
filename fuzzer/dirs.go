package fuzzer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/canfuzz/errors"
)

// Dirs is the artifact layout handed to the engine. Corpus holds seed
// inputs and is only read; the others are written.
type Dirs struct {
	Root     string
	Corpus   string
	Queue    string
	Crashes  string
	Timeouts string
}

// NewDirs lays out <root>/<target>/<timestamp>-<run>/ with queue, crashes
// and timeouts below it. An empty seeds directory means <run dir>/corpus.
func NewDirs(root, target, seeds string, now time.Time) Dirs {
	run := fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
	dir := filepath.Join(root, target, run)
	if seeds == "" {
		seeds = filepath.Join(dir, "corpus")
	}
	return Dirs{
		Root:     dir,
		Corpus:   seeds,
		Queue:    filepath.Join(dir, "queue"),
		Crashes:  filepath.Join(dir, "crashes"),
		Timeouts: filepath.Join(dir, "timeouts"),
	}
}

// Create makes the writable directories.
func (d Dirs) Create() error {
	for _, dir := range []string{d.Queue, d.Crashes, d.Timeouts} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "create artifact directory "+dir)
		}
	}
	return nil
}
