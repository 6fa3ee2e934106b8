package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fleetctl/internal/logging"
)

// Document is a stored text artefact. Ingestion and enrichment are
// external collaborators; the core only needs to persist, fire the
// embed-queue triggers, and serve reads for audit/search.
type Document struct {
	ID        int64
	Title     string
	Bluf      string
	Content   string
	Source    string
	Port      string
	DocType   string
	Tags      []string
	WordCount int
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InsertDocument persists a document. The embed_queue_on_document_insert
// trigger (migrations.go) fires as a side effect, queuing it for
// re-embedding.
func (s *Store) InsertDocument(doc Document) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "InsertDocument")
	defer timer.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	tagsJSON, _ := json.Marshal(doc.Tags)
	metaJSON, _ := json.Marshal(doc.Metadata)

	res, err := s.db.Exec(
		`INSERT INTO documents (title, bluf, content, source, port, doc_type, tags, word_count, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Title, doc.Bluf, doc.Content, doc.Source, doc.Port, doc.DocType, string(tagsJSON), doc.WordCount, string(metaJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return res.LastInsertId()
}

// GetDocument loads a document by id.
func (s *Store) GetDocument(id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		`SELECT id, title, bluf, content, source, port, doc_type, tags, word_count, metadata_json, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var tagsJSON, metaJSON string
	if err := row.Scan(&d.ID, &d.Title, &d.Bluf, &d.Content, &d.Source, &d.Port, &d.DocType, &tagsJSON, &d.WordCount, &metaJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	_ = json.Unmarshal([]byte(tagsJSON), &d.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &d.Metadata)
	return &d, nil
}

// DocumentCount returns the number of stored documents, used by the
// ssot_health invariant check.
func (s *Store) DocumentCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// SearchDocuments runs the FTS5 query backing ssot_health's "FTS query
// succeeds" check and general document retrieval.
func (s *Store) SearchDocuments(query string, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT d.id, d.title, d.bluf, d.content, d.source, d.port, d.doc_type, d.tags, d.word_count, d.metadata_json, d.created_at, d.updated_at
		 FROM documents_fts f JOIN documents d ON d.id = f.rowid
		 WHERE documents_fts MATCH ? ORDER BY rank LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var tagsJSON, metaJSON string
		if err := rows.Scan(&d.ID, &d.Title, &d.Bluf, &d.Content, &d.Source, &d.Port, &d.DocType, &tagsJSON, &d.WordCount, &metaJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(tagsJSON), &d.Tags)
		_ = json.Unmarshal([]byte(metaJSON), &d.Metadata)
		out = append(out, d)
	}
	return out, nil
}

// InsertEnrichment records an enrichment for a document, firing the
// embed_queue_on_enrichment_insert trigger.
func (s *Store) InsertEnrichment(docID int64, enrichmentType, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`INSERT INTO document_enrichments (doc_id, enrichment_type, content) VALUES (?, ?, ?)`,
		docID, enrichmentType, content,
	)
	if err != nil {
		return 0, fmt.Errorf("insert enrichment: %w", err)
	}
	return res.LastInsertId()
}

// SetEmbedding stores a document's embedding vector as a BLOB and
// mirrors it into the vec0 virtual table when available.
func (s *Store) SetEmbedding(docID int64, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := EncodeVector(vec)
	_, err := s.db.Exec(
		`INSERT INTO embeddings (doc_id, embedding, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(doc_id) DO UPDATE SET embedding = excluded.embedding, updated_at = CURRENT_TIMESTAMP`,
		docID, raw,
	)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}

	if s.vectorExt {
		_, _ = s.db.Exec(`INSERT OR REPLACE INTO vec_embeddings(doc_id, embedding) VALUES (?, ?)`, docID, raw)
	}
	return nil
}

// GetEmbedding loads a document's embedding vector.
func (s *Store) GetEmbedding(docID int64) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw []byte
	err := s.db.QueryRow(`SELECT embedding FROM embeddings WHERE doc_id = ?`, docID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return DecodeVector(raw)
}

// EnsureVecTable creates the vec0 virtual table lazily once the
// embedding dimension is known.
func (s *Store) EnsureVecTable(dim int) error {
	if !s.vectorExt || dim <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(doc_id INTEGER PRIMARY KEY, embedding FLOAT[%d])`, dim)
	_, err := s.db.Exec(stmt)
	return err
}
