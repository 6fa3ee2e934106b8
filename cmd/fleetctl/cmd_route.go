package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fleetctl/internal/routes"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "inspect or edit the compute-route table (C4)",
}

var (
	routeGetPort     string
	routeGetDaemon   string
	routeGetTaskType string
)

var routeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "look up (port, daemon, task_type) -> (model, provider)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if routeGetPort == "" || routeGetDaemon == "" {
			return newUsageError("route get requires --port and --daemon")
		}
		table := routes.New(rt.Store)
		route, err := table.GetRoute(routeGetPort, routeGetDaemon, routeGetTaskType)
		if err != nil {
			var noRoute *routes.NoRouteError
			if errors.As(err, &noRoute) {
				return fmt.Errorf("no route: %w", err)
			}
			return fmt.Errorf("get route: %w", err)
		}
		return printResult(map[string]interface{}{
			"port":       routeGetPort,
			"daemon":     routeGetDaemon,
			"task_type":  route.TaskType,
			"model_id":   route.ModelID,
			"provider":   route.Provider,
			"priority":   route.Priority,
			"updated_by": route.UpdatedBy,
			"reason":     route.Reason,
		})
	},
}

var (
	routeSetPort      string
	routeSetDaemon    string
	routeSetModelID   string
	routeSetProvider  string
	routeSetTaskType  string
	routeSetUpdatedBy string
	routeSetReason    string
	routeSetPriority  int
)

var routeSetCmd = &cobra.Command{
	Use:   "set",
	Short: "insert or update a compute route",
	RunE: func(cmd *cobra.Command, args []string) error {
		if routeSetPort == "" || routeSetDaemon == "" || routeSetModelID == "" || routeSetProvider == "" {
			return newUsageError("route set requires --port, --daemon, --model-id, and --provider")
		}
		table := routes.New(rt.Store)
		if err := table.SetRoute(routeSetPort, routeSetDaemon, routeSetModelID, routeSetProvider, routeSetTaskType, routeSetUpdatedBy, routeSetReason, routeSetPriority); err != nil {
			return fmt.Errorf("set route: %w", err)
		}
		return printResult(map[string]interface{}{"status": "OK"})
	},
}

var (
	routeSeedPort     string
	routeSeedDaemon   string
	routeSeedModelID  string
	routeSeedProvider string
)

var routeSeedBaselineCmd = &cobra.Command{
	Use:   "seed-baseline",
	Short: "install a \"default\" task route for a newly registered daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if routeSeedPort == "" || routeSeedDaemon == "" || routeSeedModelID == "" || routeSeedProvider == "" {
			return newUsageError("route seed-baseline requires --port, --daemon, --model-id, and --provider")
		}
		table := routes.New(rt.Store)
		if err := table.SeedBaseline(routeSeedPort, routeSeedDaemon, routeSeedModelID, routeSeedProvider); err != nil {
			return fmt.Errorf("seed baseline: %w", err)
		}
		return printResult(map[string]interface{}{"status": "OK"})
	},
}

func init() {
	routeGetCmd.Flags().StringVar(&routeGetPort, "port", "", "port (P0..P7)")
	routeGetCmd.Flags().StringVar(&routeGetDaemon, "daemon", "", "daemon name")
	routeGetCmd.Flags().StringVar(&routeGetTaskType, "task-type", "default", "task type (falls back to \"default\")")

	routeSetCmd.Flags().StringVar(&routeSetPort, "port", "", "port (P0..P7)")
	routeSetCmd.Flags().StringVar(&routeSetDaemon, "daemon", "", "daemon name")
	routeSetCmd.Flags().StringVar(&routeSetModelID, "model-id", "", "model_id")
	routeSetCmd.Flags().StringVar(&routeSetProvider, "provider", "", "model provider")
	routeSetCmd.Flags().StringVar(&routeSetTaskType, "task-type", "default", "task type")
	routeSetCmd.Flags().StringVar(&routeSetUpdatedBy, "updated-by", "fleetctl", "who is making this change")
	routeSetCmd.Flags().StringVar(&routeSetReason, "reason", "", "why this route is being set")
	routeSetCmd.Flags().IntVar(&routeSetPriority, "priority", 0, "route priority")

	routeSeedBaselineCmd.Flags().StringVar(&routeSeedPort, "port", "", "port (P0..P7)")
	routeSeedBaselineCmd.Flags().StringVar(&routeSeedDaemon, "daemon", "", "daemon name")
	routeSeedBaselineCmd.Flags().StringVar(&routeSeedModelID, "model-id", "", "model_id")
	routeSeedBaselineCmd.Flags().StringVar(&routeSeedProvider, "provider", "", "model provider")

	routeCmd.AddCommand(routeGetCmd, routeSetCmd, routeSeedBaselineCmd)
}
