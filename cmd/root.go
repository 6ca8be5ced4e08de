package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	watchdog "github.com/raulk/go-watchdog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/genopred/genopred/genomic"
)

var (
	logLevel    string // Log verbosity level
	threads     int    // Worker threads; 0 reads OMP_NUM_THREADS, then uses every CPU
	memoryLimit uint64 // Heap limit in MiB for the GC watchdog; 0 disables it
	noProgress  bool   // Suppress progress bars on stderr

	stopWatchdog func()
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:           "genopred",
	Short:         "Genomic prediction from PLINK genotypes: GRMs, REML/GBLUP and BayesAlphabet",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		logrus.SetLevel(level)

		n, err := resolveThreads(threads, os.Getenv("OMP_NUM_THREADS"))
		if err != nil {
			return err
		}
		runtime.GOMAXPROCS(n)
		logrus.Debugf("using %d threads", n)

		if memoryLimit > 0 {
			err, stop := watchdog.HeapDriven(memoryLimit<<20, 40, watchdog.NewAdaptivePolicy(0.5))
			if err != nil {
				return fmt.Errorf("starting memory watchdog: %w", err)
			}
			stopWatchdog = stop
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if stopWatchdog != nil {
			stopWatchdog()
			stopWatchdog = nil
		}
	},
}

// resolveThreads picks the thread count: the flag, else OMP_NUM_THREADS,
// else every CPU.
func resolveThreads(flag int, env string) (int, error) {
	if flag < 0 {
		return 0, fmt.Errorf("--threads must be non-negative, got %d", flag)
	}
	if flag > 0 {
		return flag, nil
	}
	if env != "" {
		n, err := strconv.Atoi(env)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("OMP_NUM_THREADS must be a positive integer, got %q", env)
		}
		return n, nil
	}
	return runtime.NumCPU(), nil
}

// progressWriter is where long passes draw their progress bars.
func progressWriter() io.Writer {
	if noProgress {
		return nil
	}
	return os.Stderr
}

// Execute runs the CLI root command. SIGINT and SIGTERM cancel the running
// command cooperatively; the process exit code follows the error kind.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logrus.Error(err)
	}
	os.Exit(genomic.ExitCode(err))
}

// init sets up persistent flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().IntVar(&threads, "threads", 0, "Worker threads (default: OMP_NUM_THREADS, else all CPUs)")
	rootCmd.PersistentFlags().Uint64Var(&memoryLimit, "memory-limit", 0, "Heap limit in MiB enforced by a GC watchdog (0 disables)")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "Do not draw progress bars")

	rootCmd.AddCommand(grmCmd, fitCmd, predictCmd, simulateCmd)
}
