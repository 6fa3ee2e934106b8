// Package embedqueue implements C10: the trigger-fed re-embedding work
// queue. The queue itself is populated by store triggers on document and
// enrichment writes (internal/store/migrations.go); this package owns
// the claim/release/stale-reclaim semantics an embedding worker drives.
package embedqueue

import (
	"fmt"

	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// DefaultStaleMinutes is the age at which a claimed-but-undone row is
// reclaimed back to pending.
const DefaultStaleMinutes = 15

// Queue is C10, bound to the shared store.
type Queue struct {
	store *store.Store
}

// New builds a Queue over st.
func New(st *store.Store) *Queue {
	return &Queue{store: st}
}

// ClaimBatch reclaims any rows claimed longer than staleMinutes ago, then
// claims up to batchSize pending rows for workerName. A staleMinutes of 0
// uses DefaultStaleMinutes.
func (q *Queue) ClaimBatch(batchSize int, workerName string, staleMinutes int) ([]int64, error) {
	if staleMinutes <= 0 {
		staleMinutes = DefaultStaleMinutes
	}
	docIDs, err := q.store.ClaimBatch(batchSize, workerName, staleMinutes)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	logging.EmbedQueue("claimed %d docs for worker=%s", len(docIDs), workerName)
	return docIDs, nil
}

// MarkDone marks a batch of claimed documents as embedded.
func (q *Queue) MarkDone(docIDs []int64) (int, error) {
	n, err := q.store.MarkDone(docIDs)
	if err != nil {
		return 0, fmt.Errorf("mark done: %w", err)
	}
	logging.EmbedQueue("marked %d docs done", n)
	return n, nil
}

// MarkFailed marks a batch of claimed documents as failed, leaving them
// out of the pending set until a future trigger (e.g. a re-enrichment)
// re-queues them.
func (q *Queue) MarkFailed(docIDs []int64) (int, error) {
	n, err := q.store.MarkFailed(docIDs)
	if err != nil {
		return 0, fmt.Errorf("mark failed: %w", err)
	}
	logging.EmbedQueueWarn("marked %d docs failed", n)
	return n, nil
}

// Depth reports the current pending-row count, the signal an embedding
// worker pool throttles its poll rate against.
func (q *Queue) Depth() (int, error) {
	return q.store.EmbedQueueDepth()
}

// StatusCounts reports row counts per status, used by watchdog/audit
// summaries.
func (q *Queue) StatusCounts() (map[string]int, error) {
	return q.store.EmbedQueueCountByStatus()
}
