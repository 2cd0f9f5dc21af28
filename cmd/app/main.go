// Command quill runs the concurrency runtime standalone: it executes a
// demonstration parallel block and prints the runtime statistics. The
// embedding host normally drives the runtime through the capi package
// instead.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"quill/internal/concurrency"
	"quill/internal/object"
	"quill/internal/util"
)

const version = "0.3.0"

func main() {
	workers := flag.Int("workers", 0, "worker count (0 = detected parallelism)")
	configPath := flag.String("config", "", "path to a TOML configuration file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "write logs to this file instead of stderr")
	tasks := flag.Int("tasks", 16, "number of demo tasks to run")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("quill %s\n", version)
		return
	}

	cfg, err := util.LoadConfiguration(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// Flags override file settings.
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	if _, err := cfg.SetupLogging(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	strategy, err := concurrency.ParseStrategy(cfg.Strategy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg, strategy, *tasks); err != nil {
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg util.Configuration, strategy concurrency.ErrorHandlingStrategy, taskCount int) error {
	state, err := concurrency.NewConcurrencyState(cfg.Workers)
	if err != nil {
		return err
	}
	defer state.Close()
	state.Runtime().SetErrorHandlingStrategy(strategy)

	slog.Info("runtime started",
		slog.Int("workers", state.Runtime().ThreadPool().WorkerCount()),
		slog.String("strategy", strategy.String()))

	values := make([]object.Object, taskCount)
	for i := range values {
		values[i] = &object.Number{Value: float64(i)}
	}

	block := concurrency.NewBlockState(concurrency.BlockParallel)
	block.Strategy = strategy
	if cfg.BlockTimeoutMs > 0 {
		block.SetTimeout(cfg.BlockTimeout())
		block.GracePeriod = cfg.GracePeriod()
	}
	block.SpawnTasks("n", values, object.NewEnvironment(),
		func(env *object.Environment) (object.Object, error) {
			v, _ := env.Get("n")
			n := v.(*object.Number).Value
			return &object.Number{Value: n * n}, nil
		})

	start := time.Now()
	res, err := concurrency.ExecuteBlock(state, block)
	if err != nil {
		return err
	}

	fmt.Printf("completed %d/%d tasks in %s (%.0f%% success)\n",
		res.Completed, res.Total, time.Since(start).Round(time.Microsecond),
		state.Stats.SuccessRate()*100)
	for _, r := range res.Results {
		fmt.Printf("  %s\n", r.Inspect())
	}
	return nil
}
