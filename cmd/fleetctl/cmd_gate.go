package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleetctl/internal/gate"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "drive the PREY8/HIVE8 gated session machine (C5)",
}

var (
	gateAlphabet string
	gateAgentID  string
	gateStateDir string
)

func buildGateEngine() (*gate.Engine, error) {
	alphabet := gate.PREY8
	if gateAlphabet == "hive8" {
		alphabet = gate.HIVE8
	} else if gateAlphabet != "" && gateAlphabet != "prey8" {
		return nil, newUsageError("unknown --alphabet %q, want prey8 or hive8", gateAlphabet)
	}
	stateDir := gateStateDir
	if stateDir == "" {
		stateDir = rt.StateFilePath(".gate_sessions")
	}
	agents := gate.DefaultAgentRegistry()
	return gate.New(alphabet, rt.Writer, rt.Registry, agents, stateDir, rt.Config.Store.Namespace, rt.Config.Generation), nil
}

func printGateResult(res gate.Result, err error) error {
	if err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	return printResult(map[string]interface{}{
		"status":     res.Status,
		"reason":     res.Reason,
		"session_id": res.SessionID,
		"nonce":      res.Nonce,
		"token":      res.Token,
		"phase":      res.Phase,
	})
}

var (
	step1Observations    string
	step1MemoryRefs      string
	step1StigmergyDigest string
)

var gateStep1Cmd = &cobra.Command{
	Use:   "step1",
	Short: "perceive/hunt — open a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if gateAgentID == "" {
			return newUsageError("gate step1 requires --agent")
		}
		eng, err := buildGateEngine()
		if err != nil {
			return err
		}
		res, err := eng.Step1(gateAgentID, step1Observations, step1MemoryRefs, step1StigmergyDigest)
		return printGateResult(res, err)
	},
}

var (
	step2Nonce                string
	step2SharedDataRefs       string
	step2NavigationIntent     string
	step2MeadowsLevel         int
	step2MeadowsJustification string
	step2SequentialPlan       string
)

var gateStep2Cmd = &cobra.Command{
	Use:   "step2",
	Short: "react/intervene — commit to a plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		if gateAgentID == "" || step2Nonce == "" {
			return newUsageError("gate step2 requires --agent and --nonce")
		}
		eng, err := buildGateEngine()
		if err != nil {
			return err
		}
		res, err := eng.Step2(gateAgentID, step2Nonce, step2SharedDataRefs, step2NavigationIntent, step2MeadowsLevel, step2MeadowsJustification, step2SequentialPlan)
		return printGateResult(res, err)
	},
}

var (
	step3Token            string
	step3SBEGiven         string
	step3SBEWhen          string
	step3SBEThen          string
	step3Artifacts        string
	step3AdversarialCheck string
)

var gateStep3Cmd = &cobra.Command{
	Use:   "step3",
	Short: "execute/verify — do the work",
	RunE: func(cmd *cobra.Command, args []string) error {
		if gateAgentID == "" || step3Token == "" {
			return newUsageError("gate step3 requires --agent and --token")
		}
		eng, err := buildGateEngine()
		if err != nil {
			return err
		}
		res, err := eng.Step3(gateAgentID, step3Token, step3SBEGiven, step3SBEWhen, step3SBEThen, step3Artifacts, step3AdversarialCheck)
		return printGateResult(res, err)
	},
}

var (
	step4Token       string
	step4TestCommand string
	step4TestOutput  string
	step4Status      string
)

var gateStep4Cmd = &cobra.Command{
	Use:   "step4",
	Short: "yield/emit — close the session, fail closed on missing tests",
	RunE: func(cmd *cobra.Command, args []string) error {
		if gateAgentID == "" || step4Token == "" {
			return newUsageError("gate step4 requires --agent and --token")
		}
		eng, err := buildGateEngine()
		if err != nil {
			return err
		}
		res, err := eng.Step4(gateAgentID, step4Token, step4TestCommand, step4TestOutput, step4Status)
		return printGateResult(res, err)
	},
}

func init() {
	gateCmd.PersistentFlags().StringVar(&gateAlphabet, "alphabet", "prey8", "prey8 or hive8")
	gateCmd.PersistentFlags().StringVar(&gateAgentID, "agent", "", "agent ID")
	gateCmd.PersistentFlags().StringVar(&gateStateDir, "state-dir", "", "session state directory (defaults under the fleet root)")

	gateStep1Cmd.Flags().StringVar(&step1Observations, "observations", "", "perceived observations")
	gateStep1Cmd.Flags().StringVar(&step1MemoryRefs, "memory-refs", "", "memory reference IDs")
	gateStep1Cmd.Flags().StringVar(&step1StigmergyDigest, "stigmergy-digest", "", "digest of recent stigmergy events consulted")

	gateStep2Cmd.Flags().StringVar(&step2Nonce, "nonce", "", "nonce from step1's result")
	gateStep2Cmd.Flags().StringVar(&step2SharedDataRefs, "shared-data-refs", "", "shared data references")
	gateStep2Cmd.Flags().StringVar(&step2NavigationIntent, "navigation-intent", "", "navigation intent")
	gateStep2Cmd.Flags().IntVar(&step2MeadowsLevel, "meadows-level", 0, "leverage level this plan targets")
	gateStep2Cmd.Flags().StringVar(&step2MeadowsJustification, "meadows-justification", "", "why that leverage level")
	gateStep2Cmd.Flags().StringVar(&step2SequentialPlan, "sequential-plan", "", "the committed plan")

	gateStep3Cmd.Flags().StringVar(&step3Token, "token", "", "token from step2's result")
	gateStep3Cmd.Flags().StringVar(&step3SBEGiven, "sbe-given", "", "SBE given clause")
	gateStep3Cmd.Flags().StringVar(&step3SBEWhen, "sbe-when", "", "SBE when clause")
	gateStep3Cmd.Flags().StringVar(&step3SBEThen, "sbe-then", "", "SBE then clause")
	gateStep3Cmd.Flags().StringVar(&step3Artifacts, "artifacts", "", "artifacts produced")
	gateStep3Cmd.Flags().StringVar(&step3AdversarialCheck, "adversarial-check", "", "adversarial self-check notes")

	gateStep4Cmd.Flags().StringVar(&step4Token, "token", "", "token from step3's result")
	gateStep4Cmd.Flags().StringVar(&step4TestCommand, "test-command", "", "test command run")
	gateStep4Cmd.Flags().StringVar(&step4TestOutput, "test-output", "", "test output")
	gateStep4Cmd.Flags().StringVar(&step4Status, "status", "", "pass/fail status")

	gateCmd.AddCommand(gateStep1Cmd, gateStep2Cmd, gateStep3Cmd, gateStep4Cmd)
}
