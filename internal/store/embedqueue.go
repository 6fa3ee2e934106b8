package store

import (
	"fmt"
	"time"
)

// EmbedQueueRow is the raw persisted shape of embed_queue.
type EmbedQueueRow struct {
	ID        int64
	DocID     int64
	Reason    string
	QueuedAt  string
	Status    string
	ClaimedBy string
	ClaimedAt string
}

// ClaimBatch reclaims stale claims, then claims up to batchSize pending
// rows for workerName, all inside one transaction.
func (s *Store) ClaimBatch(batchSize int, workerName string, staleMinutes int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim batch begin: %w", err)
	}
	defer tx.Rollback()

	cutoff := time.Now().UTC().Add(-time.Duration(staleMinutes) * time.Minute).Format(time.RFC3339Nano)
	if _, err := tx.Exec(
		`UPDATE embed_queue SET status = 'pending', claimed_by = NULL, claimed_at = NULL
		 WHERE status = 'claimed' AND claimed_at < ?`,
		cutoff,
	); err != nil {
		return nil, fmt.Errorf("claim batch reclaim stale: %w", err)
	}

	rows, err := tx.Query(
		`SELECT id, doc_id FROM embed_queue WHERE status = 'pending' ORDER BY queued_at ASC LIMIT ?`,
		batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("claim batch select: %w", err)
	}
	var ids []int64
	var docIDs []int64
	for rows.Next() {
		var id, docID int64
		if err := rows.Scan(&id, &docID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim batch scan: %w", err)
		}
		ids = append(ids, id)
		docIDs = append(docIDs, docID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch rows: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		if _, err := tx.Exec(
			`UPDATE embed_queue SET status = 'claimed', claimed_by = ?, claimed_at = ? WHERE id = ?`,
			workerName, now, id,
		); err != nil {
			return nil, fmt.Errorf("claim batch update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim batch commit: %w", err)
	}
	return docIDs, nil
}

// MarkDone sets status=done for claimed rows matching docIDs, returning
// the number of rows updated (mark_done).
func (s *Store) MarkDone(docIDs []int64) (int, error) {
	if len(docIDs) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int
	for _, id := range docIDs {
		res, err := s.db.Exec(
			`UPDATE embed_queue SET status = 'done' WHERE doc_id = ? AND status = 'claimed'`,
			id,
		)
		if err != nil {
			return updated, fmt.Errorf("mark done doc %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return updated, fmt.Errorf("mark done rows affected: %w", err)
		}
		updated += int(n)
	}
	return updated, nil
}

// MarkFailed sets status=failed for claimed rows matching docIDs.
func (s *Store) MarkFailed(docIDs []int64) (int, error) {
	if len(docIDs) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int
	for _, id := range docIDs {
		res, err := s.db.Exec(
			`UPDATE embed_queue SET status = 'failed' WHERE doc_id = ? AND status = 'claimed'`,
			id,
		)
		if err != nil {
			return updated, fmt.Errorf("mark failed doc %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		updated += int(n)
	}
	return updated, nil
}

// EmbedQueueDepth reports the number of pending rows, surfaced by
// watchdog/coordinator events (Backpressure).
func (s *Store) EmbedQueueDepth() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM embed_queue WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("embed queue depth: %w", err)
	}
	return n, nil
}

// EmbedQueueCountByStatus reports row counts across all embed_queue
// status values.
func (s *Store) EmbedQueueCountByStatus() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM embed_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("embed queue counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan embed queue count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
