package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"fleetctl/internal/events"
)

var (
	writeEventPort     string
	writeEventModelID  string
	writeEventDaemon   string
	writeEventProvider string
	writeEventSubject  string
	writeEventDataJSON string
	writeEventDryRun   bool
)

var writeEventCmd = &cobra.Command{
	Use:   "write-event <event-type>",
	Short: "write one event through the canonical writer",
	Long: `write-event is the one sanctioned CLI path to C2. It builds a
signal_metadata record from --port/--daemon (via the model registry) and
writes the event, or reports the typed rejection reason on failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := args[0]
		if writeEventPort == "" || writeEventDaemon == "" {
			return newUsageError("write-event requires --port and --daemon")
		}

		data := map[string]interface{}{}
		if writeEventDataJSON != "" {
			if err := json.Unmarshal([]byte(writeEventDataJSON), &data); err != nil {
				return newUsageError("invalid --data JSON: %v", err)
			}
		}

		sig := rt.Registry.BuildSignalMetadata(writeEventPort, writeEventModelID, writeEventDaemon, events.Observations{})
		if writeEventProvider != "" {
			sig.ModelProvider = writeEventProvider
		}

		if writeEventDryRun {
			return printResult(map[string]interface{}{
				"dry_run":         true,
				"event_type":      eventType,
				"subject":         writeEventSubject,
				"signal_metadata": sig,
				"data":            data,
			})
		}

		id, err := rt.Writer.WriteEvent(eventType, writeEventSubject, data, &sig)
		if err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		return printResult(map[string]interface{}{"id": id, "event_type": eventType})
	},
}

func init() {
	writeEventCmd.Flags().StringVar(&writeEventPort, "port", "", "signal_metadata port (P0..P7)")
	writeEventCmd.Flags().StringVar(&writeEventModelID, "model-id", "", "model_id to resolve through the registry")
	writeEventCmd.Flags().StringVar(&writeEventDaemon, "daemon", "", "daemon_name for signal_metadata")
	writeEventCmd.Flags().StringVar(&writeEventProvider, "provider", "", "override model_provider (defaults to registry lookup)")
	writeEventCmd.Flags().StringVar(&writeEventSubject, "subject", "", "event subject (routing key)")
	writeEventCmd.Flags().StringVar(&writeEventDataJSON, "data", "", "event data payload, as a JSON object")
	writeEventCmd.Flags().BoolVar(&writeEventDryRun, "dry-run", false, "build the event but do not write it")
}
