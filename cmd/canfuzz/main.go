package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/wippyai/canfuzz/engine"
	"github.com/wippyai/canfuzz/fuzzer"
	"github.com/wippyai/canfuzz/instrument"
	"github.com/wippyai/canfuzz/replica"
)

type options struct {
	config    string
	input     string
	artifacts string
	metrics   string
	ui        string
	logFile   string
	duration  time.Duration
	execs     uint64
	seed      uint64
	verbose   bool
	list      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "canfuzz.yaml", "Target description file")
	flag.StringVar(&opts.input, "input", "", "Execute this single input and exit")
	flag.StringVar(&opts.artifacts, "artifacts", "", "Artifact root (overrides the config file)")
	flag.StringVar(&opts.metrics, "metrics", "", "Serve prometheus metrics on this address, e.g. :9100")
	flag.StringVar(&opts.ui, "ui", "auto", "Progress display: auto, tui or log")
	flag.StringVar(&opts.logFile, "log", "canfuzz.log", "Log file used while the TUI owns the terminal")
	flag.DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 = no limit)")
	flag.Uint64Var(&opts.execs, "execs", 0, "Stop after this many executions (0 = no limit)")
	flag.Uint64Var(&opts.seed, "seed", 0, "Mutation seed (0 = random)")
	flag.BoolVar(&opts.verbose, "v", false, "Debug logging")
	flag.BoolVar(&opts.list, "list", false, "List the coverage target methods and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, opts)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := LoadTargetConfig(opts.config)
	if err != nil {
		return err
	}
	if opts.artifacts != "" {
		cfg.Artifacts = opts.artifacts
	}

	tui := useTUI(opts)
	log, err := newLogger(opts, tui)
	if err != nil {
		return err
	}
	defer log.Sync()
	setLoggers(log)

	state := cfg.FuzzState()
	o := fuzzer.New(state, cfg.Harness(), cfg.FuzzerConfig())
	defer o.Close(context.WithoutCancel(ctx))

	switch {
	case opts.list:
		return listMethods(ctx, o)
	case opts.input != "":
		return runInput(ctx, o, opts.input)
	}

	if err := o.Init(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	base := engine.Config{
		Seed:       opts.seed,
		MaxExecs:   opts.execs,
		Duration:   opts.duration,
		Registerer: reg,
	}
	eng := engine.New(cfg.EngineConfig(base))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return o.Run(gctx, eng)
	})
	if opts.metrics != "" {
		g.Go(func() error {
			return serveMetrics(gctx, opts.metrics, reg)
		})
	}
	if tui {
		g.Go(func() error {
			m := newMonitorModel(eng, cancel, cfg.Target, o.Bridge().Target().String(), o.Dirs().Root)
			return runMonitor(gctx, m)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	s := eng.Stats()
	fmt.Printf("%s: %d execs in %s, corpus %d, edges %d/%d, crashes %d, timeouts %d\n",
		cfg.Target, s.Execs, s.Elapsed.Truncate(time.Second), s.Corpus, s.Covered, s.Edges, s.Crashes, s.Timeouts)
	if d := o.Dirs(); d.Root != "" {
		fmt.Printf("artifacts: %s\n", d.Root)
	}
	return nil
}

func useTUI(opts options) bool {
	switch opts.ui {
	case "tui":
		return true
	case "log":
		return false
	}
	return opts.input == "" && !opts.list && term.IsTerminal(int(os.Stdout.Fd()))
}

func newLogger(opts options, tui bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if opts.verbose {
		zc = zap.NewDevelopmentConfig()
	}
	if tui {
		zc.OutputPaths = []string{opts.logFile}
		zc.ErrorOutputPaths = []string{opts.logFile}
	}
	return zc.Build()
}

func setLoggers(l *zap.Logger) {
	instrument.SetLogger(l.Named("instrument"))
	replica.SetLogger(l.Named("replica"))
	fuzzer.SetLogger(l.Named("fuzzer"))
	engine.SetLogger(l.Named("engine"))
}

// runInput replays one input, typically a saved crash.
func runInput(ctx context.Context, o *fuzzer.Orchestrator, path string) error {
	input, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	res, err := o.TestOneInput(ctx, input)
	if err != nil {
		return err
	}
	fmt.Printf("actor:    %s\n", res.Actor)
	fmt.Printf("method:   %s\n", res.Method)
	fmt.Printf("outcome:  %s\n", res.Outcome)
	fmt.Printf("duration: %s\n", res.Duration)
	if res.Code != 0 {
		fmt.Printf("reject:   %s (%s)\n", res.Code, res.Code.Name())
	}
	if res.Diagnostic != "" {
		fmt.Printf("message:  %s\n", res.Diagnostic)
	}
	if res.CoverageErr != nil {
		fmt.Printf("coverage: %v\n", res.CoverageErr)
	} else {
		hit := 0
		for _, c := range res.Coverage {
			if c > 0 {
				hit++
			}
		}
		fmt.Printf("coverage: %d/%d edges\n", hit, len(res.Coverage))
	}
	return res.Err()
}

func listMethods(ctx context.Context, o *fuzzer.Orchestrator) error {
	if err := o.Init(ctx); err != nil {
		return err
	}
	b := o.Bridge()
	methods, err := b.Replica().Methods(b.Target())
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s), %d edges\n", o.FuzzState().Name(), b.Target(), b.Edges())
	for _, m := range methods {
		kind := "update"
		if m.Query {
			kind = "query"
		}
		fmt.Printf("  %-6s %s\n", kind, m.Name)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
