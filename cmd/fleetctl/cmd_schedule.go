package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fleetctl/internal/audit"
	"fleetctl/internal/config"
	"fleetctl/internal/coordinator"
	"fleetctl/internal/llm"
	"fleetctl/internal/scheduler"
	"fleetctl/internal/watchdog"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "run the fixed-cadence tick loop (C7), blocking until INT/TERM",
	Long: `schedule wires the coordinator, both watchdog supervisors, and all
three audit spells into one Scheduler and blocks, ticking once a second,
until an INT or TERM signal arrives.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, gen := rt.Config.Store.Namespace, rt.Config.Generation

		coord := coordinator.New(rt.Store, rt.Writer, rt.Registry, coordinator.Params{
			Namespace:             ns,
			Generation:            gen,
			WindowHours:           rt.Config.Coordinator.WindowHours,
			EvaporationRate:       rt.Config.Coordinator.EvaporationRate,
			MinPheromone:          rt.Config.Coordinator.MinPheromone,
			ExplorationProb:       rt.Config.Coordinator.ExplorationProb,
			DefaultWishConfidence: rt.Config.Coordinator.DefaultWishConfidence,
		})

		fleetStatePath := rt.StateFilePath(rt.Config.Watchdog.FleetStatePath)
		supervisorStatePath := rt.StateFilePath(rt.Config.Watchdog.SupervisorStatePath)
		lifecycle := watchdog.NewLifecycleSupervisor(rt.Store, rt.Writer, rt.Registry, ns, gen, fleetStatePath, declarativeFleetSpec(), modelServerProbe())
		defense := watchdog.NewDefenseSupervisor(rt.Store, rt.Writer, rt.Registry, ns, gen, supervisorStatePath)

		coverage := audit.NewCoverageAuditor(rt.Store, rt.Writer, rt.Registry, ns, gen)
		wish := audit.NewWishRegistry(rt.Store, rt.Writer, rt.Registry, ns, gen, rt.StateFilePath(".wish_verdicts.json"))
		foresight := audit.NewForesightMapper(rt.Store, rt.Writer, rt.Registry, ns, gen)

		ollama := llm.NewOllamaClient(rt.Config.LLM.OllamaHost)

		sched := scheduler.New(rt.Store, rt.Writer, rt.Registry, scheduler.Params{
			Namespace:  ns,
			Generation: gen,
			Cadences: scheduler.Cadences{
				Heartbeat:  time.Duration(rt.Config.Scheduler.HeartbeatSeconds) * time.Second,
				Enrichment: time.Duration(rt.Config.Scheduler.EnrichmentSeconds) * time.Second,
				EmbedSweep: time.Duration(rt.Config.Scheduler.EmbedSweepSeconds) * time.Second,
				Research:   time.Duration(rt.Config.Scheduler.ResearchSeconds) * time.Second,
				Governance: time.Duration(rt.Config.Scheduler.GovernanceSeconds) * time.Second,
				Audit:      time.Duration(rt.Config.Scheduler.AuditSeconds) * time.Second,
				Watchdog:   time.Duration(rt.Config.Scheduler.WatchdogSeconds) * time.Second,
			},
			IOLimit:     rt.Config.Scheduler.IOWorkerLimit,
			Coordinator: coord,
			Lifecycle:   lifecycle,
			Defense:     defense,
			Coverage:    coverage,
			Wish:        wish,
			Foresight:   foresight,
			Ollama:      ollama,
			WarmModel:   rt.Config.LLM.GenAIModel,
			ConfigPath:  configPath,
			Reload:      reloadCadences,
		})

		if err := sched.Run(cmd.Context()); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	},
}

// reloadCadences re-reads the config file at configPath and returns its
// cadences, wired as the scheduler's fsnotify hot-reload callback so
// cadence edits take effect between ticks without a restart.
func reloadCadences() (scheduler.Cadences, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return scheduler.Cadences{}, err
	}
	return scheduler.Cadences{
		Heartbeat:  time.Duration(cfg.Scheduler.HeartbeatSeconds) * time.Second,
		Enrichment: time.Duration(cfg.Scheduler.EnrichmentSeconds) * time.Second,
		EmbedSweep: time.Duration(cfg.Scheduler.EmbedSweepSeconds) * time.Second,
		Research:   time.Duration(cfg.Scheduler.ResearchSeconds) * time.Second,
		Governance: time.Duration(cfg.Scheduler.GovernanceSeconds) * time.Second,
		Audit:      time.Duration(cfg.Scheduler.AuditSeconds) * time.Second,
		Watchdog:   time.Duration(cfg.Scheduler.WatchdogSeconds) * time.Second,
	}, nil
}

// declarativeFleetSpec is a placeholder fleet declaration; a real
// deployment supplies this from its own config file section, which is
// out of scope for the core coordination fabric.
func declarativeFleetSpec() []watchdog.DaemonSpec {
	return nil
}

func modelServerProbe() watchdog.ModelServerProbe {
	return func() bool { return true }
}
