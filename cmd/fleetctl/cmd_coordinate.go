package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleetctl/internal/coordinator"
)

var (
	coordinateOnce bool
)

var coordinateCmd = &cobra.Command{
	Use:   "coordinate",
	Short: "run one pheromone-scoring coordinator cycle (C6)",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord := coordinator.New(rt.Store, rt.Writer, rt.Registry, coordinator.Params{
			Namespace:             rt.Config.Store.Namespace,
			Generation:            rt.Config.Generation,
			WindowHours:           rt.Config.Coordinator.WindowHours,
			EvaporationRate:       rt.Config.Coordinator.EvaporationRate,
			MinPheromone:          rt.Config.Coordinator.MinPheromone,
			ExplorationProb:       rt.Config.Coordinator.ExplorationProb,
			DefaultWishConfidence: rt.Config.Coordinator.DefaultWishConfidence,
		})
		result, err := coord.Run()
		if err != nil {
			return fmt.Errorf("coordinate: %w", err)
		}
		return printResult(map[string]interface{}{
			"grade":                result.Audit.Grade,
			"signal_pct":           result.Audit.SignalPct,
			"ports_covered":        result.PortsCovered,
			"pheromone_count":      len(result.Pheromones),
			"recommendation_count": len(result.Recommendations),
			"elapsed_ms":           result.ElapsedMs,
		})
	},
}

func init() {
	coordinateCmd.Flags().BoolVar(&coordinateOnce, "once", true, "run a single cycle and exit (the only supported mode for this command)")
}
