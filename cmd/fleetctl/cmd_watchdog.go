package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleetctl/internal/watchdog"
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "run the lifecycle or defense supervisor once (C8)",
}

var watchdogLifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "check the fleet spec, restart anything neither PID- nor event-alive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, gen := rt.Config.Store.Namespace, rt.Config.Generation
		statePath := rt.StateFilePath(rt.Config.Watchdog.FleetStatePath)
		sup := watchdog.NewLifecycleSupervisor(rt.Store, rt.Writer, rt.Registry, ns, gen, statePath, declarativeFleetSpec(), modelServerProbe())
		report, err := sup.Check()
		if err != nil {
			return fmt.Errorf("lifecycle check: %w", err)
		}
		return printResult(map[string]interface{}{
			"checked_count":   report.CheckedCount,
			"alive_count":     report.AliveCount,
			"restarted_count": report.RestartedCount,
			"statuses":        report.Statuses,
		})
	},
}

var watchdogDefenseCmd = &cobra.Command{
	Use:   "defense",
	Short: "run the seven-anomaly-class defense pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, gen := rt.Config.Store.Namespace, rt.Config.Generation
		statePath := rt.StateFilePath(rt.Config.Watchdog.SupervisorStatePath)
		fleetStatePath := rt.StateFilePath(rt.Config.Watchdog.FleetStatePath)
		sup := watchdog.NewDefenseSupervisor(rt.Store, rt.Writer, rt.Registry, ns, gen, statePath)
		report, err := sup.Run(fleetStatePath)
		if err != nil {
			return fmt.Errorf("defense run: %w", err)
		}
		return printResult(map[string]interface{}{
			"score":          report.Score,
			"grade":          report.Grade,
			"trend":          report.Trend,
			"anomalies":      report.Anomalies,
			"events_checked": report.EventsChecked,
		})
	},
}

func init() {
	watchdogCmd.AddCommand(watchdogLifecycleCmd, watchdogDefenseCmd)
}
