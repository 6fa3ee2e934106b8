package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleetctl/internal/embedding"
	"fleetctl/internal/embedqueue"
	"fleetctl/internal/logging"
)

var embedQueueCmd = &cobra.Command{
	Use:   "embed-queue",
	Short: "drain or inspect the re-embedding work queue (C10)",
}

var (
	claimBatchSize    int
	claimWorkerName   string
	claimStaleMinutes int
)

var embedQueueClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "reclaim stale claims, then claim up to --batch-size pending docs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if claimWorkerName == "" {
			return newUsageError("embed-queue claim requires --worker")
		}
		q := embedqueue.New(rt.Store)
		ids, err := q.ClaimBatch(claimBatchSize, claimWorkerName, claimStaleMinutes)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		return printResult(map[string]interface{}{"doc_ids": ids, "count": len(ids)})
	},
}

var embedQueueMarkDoneCmd = &cobra.Command{
	Use:   "mark-done <doc-id> [doc-id...]",
	Short: "mark claimed doc IDs as done",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseInt64Args(args)
		if err != nil {
			return newUsageError("invalid doc ID: %v", err)
		}
		q := embedqueue.New(rt.Store)
		n, err := q.MarkDone(ids)
		if err != nil {
			return fmt.Errorf("mark done: %w", err)
		}
		return printResult(map[string]interface{}{"updated": n})
	},
}

var embedQueueMarkFailedCmd = &cobra.Command{
	Use:   "mark-failed <doc-id> [doc-id...]",
	Short: "mark claimed doc IDs as failed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseInt64Args(args)
		if err != nil {
			return newUsageError("invalid doc ID: %v", err)
		}
		q := embedqueue.New(rt.Store)
		n, err := q.MarkFailed(ids)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return printResult(map[string]interface{}{"updated": n})
	},
}

var (
	runBatchSize    int
	runWorkerName   string
	runStaleMinutes int
)

var embedQueueRunCmd = &cobra.Command{
	Use:   "run",
	Short: "claim a batch, embed each document, and mark it done or failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runWorkerName == "" {
			return newUsageError("embed-queue run requires --worker")
		}

		cfg := rt.Config.Embedding
		engine, err := embedding.NewEngine(embedding.Config{
			Provider:       cfg.Provider,
			OllamaEndpoint: rt.Config.LLM.OllamaHost,
			OllamaModel:    cfg.OllamaModel,
			GenAIAPIKey:    rt.Config.LLM.GenAIAPIKey,
			GenAIModel:     cfg.GenAIModel,
			TaskType:       cfg.TaskType,
		})
		if err != nil {
			return fmt.Errorf("build embedding engine: %w", err)
		}
		if err := rt.Store.EnsureVecTable(engine.Dimensions()); err != nil {
			logging.EmbeddingWarn("ensure vec table: %v", err)
		}

		q := embedqueue.New(rt.Store)
		docIDs, err := q.ClaimBatch(runBatchSize, runWorkerName, runStaleMinutes)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}

		var embedded, failed []int64
		ctx := cmd.Context()
		for _, docID := range docIDs {
			doc, err := rt.Store.GetDocument(docID)
			if err != nil || doc == nil {
				logging.EmbeddingError("embed-queue run: load doc %d: %v", docID, err)
				failed = append(failed, docID)
				continue
			}
			vec, err := engine.Embed(ctx, doc.Title+"\n\n"+doc.Content)
			if err != nil {
				logging.EmbeddingError("embed-queue run: embed doc %d: %v", docID, err)
				failed = append(failed, docID)
				continue
			}
			if err := rt.Store.SetEmbedding(docID, vec); err != nil {
				logging.EmbeddingError("embed-queue run: store doc %d: %v", docID, err)
				failed = append(failed, docID)
				continue
			}
			embedded = append(embedded, docID)
		}

		if len(embedded) > 0 {
			if _, err := q.MarkDone(embedded); err != nil {
				return fmt.Errorf("mark done: %w", err)
			}
		}
		if len(failed) > 0 {
			if _, err := q.MarkFailed(failed); err != nil {
				return fmt.Errorf("mark failed: %w", err)
			}
		}

		return printResult(map[string]interface{}{
			"claimed":  len(docIDs),
			"embedded": len(embedded),
			"failed":   len(failed),
			"engine":   engine.Name(),
		})
	},
}

var embedQueueDepthCmd = &cobra.Command{
	Use:   "depth",
	Short: "report pending depth and per-status counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := embedqueue.New(rt.Store)
		depth, err := q.Depth()
		if err != nil {
			return fmt.Errorf("depth: %w", err)
		}
		counts, err := q.StatusCounts()
		if err != nil {
			return fmt.Errorf("status counts: %w", err)
		}
		return printResult(map[string]interface{}{"pending_depth": depth, "status_counts": counts})
	},
}

func parseInt64Args(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		var id int64
		if _, err := fmt.Sscanf(a, "%d", &id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func init() {
	embedQueueClaimCmd.Flags().IntVar(&claimBatchSize, "batch-size", 10, "maximum docs to claim")
	embedQueueClaimCmd.Flags().StringVar(&claimWorkerName, "worker", "", "claiming worker's name")
	embedQueueClaimCmd.Flags().IntVar(&claimStaleMinutes, "stale-minutes", 15, "reclaim claims older than this")

	embedQueueRunCmd.Flags().IntVar(&runBatchSize, "batch-size", 10, "maximum docs to claim and embed")
	embedQueueRunCmd.Flags().StringVar(&runWorkerName, "worker", "", "claiming worker's name")
	embedQueueRunCmd.Flags().IntVar(&runStaleMinutes, "stale-minutes", 15, "reclaim claims older than this")

	embedQueueCmd.AddCommand(embedQueueClaimCmd, embedQueueMarkDoneCmd, embedQueueMarkFailedCmd, embedQueueDepthCmd, embedQueueRunCmd)
}
