package embedqueue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	st, err := store.OpenRW(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func insertDoc(t *testing.T, st *store.Store, title string) int64 {
	t.Helper()
	id, err := st.InsertDocument(store.Document{Title: title, Content: "body", Port: "P4", DocType: "note"})
	require.NoError(t, err)
	return id
}

func TestInsertDocumentQueuesForEmbedding(t *testing.T) {
	q, st := newTestQueue(t)
	insertDoc(t, st, "doc one")

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestClaimBatchThenMarkDone(t *testing.T) {
	q, st := newTestQueue(t)
	insertDoc(t, st, "doc one")
	insertDoc(t, st, "doc two")

	ids, err := q.ClaimBatch(10, "embed-worker-1", 15)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth, "claimed rows are no longer pending")

	n, err := q.MarkDone(ids)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := q.StatusCounts()
	require.NoError(t, err)
	assert.Equal(t, 2, counts["done"])
}

func TestStaleClaimIsReclaimed(t *testing.T) {
	q, st := newTestQueue(t)
	insertDoc(t, st, "doc one")

	ids, err := q.ClaimBatch(10, "worker-a", 15)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// Simulate the claim aging past the stale window by backdating it
	// directly, then reclaiming with a 15-minute staleness window.
	_, err = st.DB().Exec(`UPDATE embed_queue SET claimed_at = ? WHERE doc_id = ?`,
		time.Now().UTC().Add(-1*time.Hour).Format(time.RFC3339Nano), ids[0])
	require.NoError(t, err)

	reclaimed, err := q.ClaimBatch(10, "worker-b", 15)
	require.NoError(t, err)
	assert.Equal(t, ids, reclaimed, "the same doc_id is reclaimed after staleness")
}

func TestUniquePendingPerDoc(t *testing.T) {
	q, st := newTestQueue(t)
	docID := insertDoc(t, st, "doc one")
	// Re-trigger via enrichment update; insert-or-ignore must not create
	// a second pending row for the same doc_id.
	_, err := st.InsertEnrichment(docID, "summary", "content")
	require.NoError(t, err)

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
