// Package main implements fleetctl - the single binary for the
// self-governing daemon fleet's coordination fabric.
//
// # File Index
//
//   - main.go              - entry point, rootCmd, global flags, exit codes
//   - cmd_write_event.go   - write-event: the one sanctioned path to C2
//   - cmd_route.go         - route get/set/seed-baseline over the compute-route table
//   - cmd_gate.go          - gate step1..step4 over the PREY8/HIVE8 machine
//   - cmd_coordinate.go    - coordinate: one pheromone-scoring cycle
//   - cmd_schedule.go      - schedule: the blocking fixed-cadence tick loop
//   - cmd_watchdog.go      - watchdog lifecycle|defense
//   - cmd_audit.go         - audit coverage|wish|wish-revoke|foresight
//   - cmd_embedqueue.go    - embed-queue claim|mark-done|mark-failed|depth|run
//   - cmd_serve.go         - serve: /metrics, /healthz, /events over chi
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fleetctl/internal/config"
	"fleetctl/internal/logging"
	"fleetctl/internal/runtime"
)

// Exit codes: 0 success, 1 typed core errors, 2 usage errors.
const (
	exitOK    = 0
	exitCore  = 1
	exitUsage = 2
)

var (
	verbose    bool
	configPath string
	fleetRoot  string
	jsonOutput bool

	logger *zap.Logger
	rt     *runtime.Context
)

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl - coordination fabric for a self-governing daemon fleet",
	Long: `fleetctl drives the event-log-backed coordination fabric a daemon fleet
shares: the canonical event writer, the gated PREY8/HIVE8 session machine,
the pheromone-scoring coordinator, the lifecycle/defense watchdog, and the
TREMORSENSE/WISH/foresight audit spells.

Every subcommand opens the same store and writes through the same event
writer; there is no second path to the log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if fleetRoot != "" {
			cfg.FleetRoot = fleetRoot
		}

		rt, err = runtime.New(cfg)
		if err != nil {
			return fmt.Errorf("initialize runtime: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt != nil {
			if err := rt.Close(); err != nil {
				logging.BootWarn("runtime close: %v", err)
			}
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fleetctl.yaml", "path to the fleetctl config file")
	rootCmd.PersistentFlags().StringVar(&fleetRoot, "fleet-root", "", "override the configured fleet root (HFO_ROOT)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print command output as JSON")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	rootCmd.AddCommand(
		writeEventCmd,
		routeCmd,
		gateCmd,
		coordinateCmd,
		scheduleCmd,
		watchdogCmd,
		auditCmd,
		embedQueueCmd,
		serveCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor classifies an error into one of the three codes above.
// Usage errors (cobra's own flag-parsing failures) are distinguished by
// type; everything else that escapes a RunE is a typed core error.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case isUsageError(err):
		return exitUsage
	default:
		return exitCore
	}
}

func isUsageError(err error) bool {
	var usageErr *usageError
	return errors.As(err, &usageErr)
}

// usageError marks a CLI-flag-combination failure distinctly from a typed
// core error, so exitCodeFor can tell the two apart.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func newUsageError(format string, a ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, a...)}
}
