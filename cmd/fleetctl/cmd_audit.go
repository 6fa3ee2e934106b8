package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleetctl/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "run one of the three read-only audit spells (C9)",
}

var auditWindowHours int

var auditCoverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "TREMORSENSE: stigmergy-density uptime grade",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, gen := rt.Config.Store.Namespace, rt.Config.Generation
		auditor := audit.NewCoverageAuditor(rt.Store, rt.Writer, rt.Registry, ns, gen)
		report, err := auditor.Run(auditWindowHours)
		if err != nil {
			return fmt.Errorf("coverage audit: %w", err)
		}
		return printResult(map[string]interface{}{
			"uptime_pct":        report.UptimePct,
			"grade":             report.Grade,
			"dead_zone_count":   report.DeadZoneCount,
			"longest_dead_zone": report.LongestDeadZone,
			"leaderboard":       report.Leaderboard,
		})
	},
}

var auditWishCmd = &cobra.Command{
	Use:   "wish",
	Short: "WISH: evaluate the seven named invariants",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, gen := rt.Config.Store.Namespace, rt.Config.Generation
		reg := audit.NewWishRegistry(rt.Store, rt.Writer, rt.Registry, ns, gen, rt.StateFilePath(".wish_verdicts.json"))
		verdicts, err := reg.AuditAll(audit.CheckContext{
			FleetStatePath: rt.StateFilePath(rt.Config.Watchdog.FleetStatePath),
		})
		if err != nil {
			return fmt.Errorf("wish audit: %w", err)
		}
		return printResult(map[string]interface{}{"verdicts": verdicts})
	},
}

var auditWishRevokeID string

var auditWishRevokeCmd = &cobra.Command{
	Use:   "wish-revoke",
	Short: "revoke a wish so future audit passes skip it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditWishRevokeID == "" {
			return newUsageError("wish-revoke requires --wish-id")
		}
		ns, gen := rt.Config.Store.Namespace, rt.Config.Generation
		reg := audit.NewWishRegistry(rt.Store, rt.Writer, rt.Registry, ns, gen, rt.StateFilePath(".wish_verdicts.json"))
		if err := reg.Revoke(auditWishRevokeID); err != nil {
			return fmt.Errorf("revoke: %w", err)
		}
		return printResult(map[string]interface{}{"status": "OK", "revoked": auditWishRevokeID})
	},
}

var auditForesightCmd = &cobra.Command{
	Use:   "foresight",
	Short: "classify recent events into leverage levels",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, gen := rt.Config.Store.Namespace, rt.Config.Generation
		mapper := audit.NewForesightMapper(rt.Store, rt.Writer, rt.Registry, ns, gen)
		report, err := mapper.Run(auditWindowHours)
		if err != nil {
			return fmt.Errorf("foresight run: %w", err)
		}
		return printResult(map[string]interface{}{
			"attractor_basin_pct": report.AttractorBasinPct,
			"high_leverage_pct":   report.HighLeveragePct,
			"dominant_transition": report.DominantTransition,
			"identity_violations": report.IdentityViolations,
			"events_classified":   report.EventsClassified,
		})
	},
}

func init() {
	auditCmd.PersistentFlags().IntVar(&auditWindowHours, "window-hours", 24, "audit window in hours")
	auditWishRevokeCmd.Flags().StringVar(&auditWishRevokeID, "wish-id", "", "wish/check name to revoke")
	auditCmd.AddCommand(auditCoverageCmd, auditWishCmd, auditWishRevokeCmd, auditForesightCmd)
}
