package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fleetctl/internal/logging"
)

// baselineDaemon, baselineModelID, and baselineProvider are the
// placeholder route a freshly migrated fleet seeds per port, so
// GetRoute never raises NoRouteError on first boot. Operators override
// these with real per-daemon routes via SetRoute once the fleet's
// actual daemons and models are known.
const (
	baselineDaemon   = "default"
	baselineModelID  = "gemma3:4b"
	baselineProvider = "ollama"
)

// Ports are the eight logical roles every event and daemon is tagged with.
// Pure labels — no runtime semantics.
var Ports = []string{"P0", "P1", "P2", "P3", "P4", "P5", "P6", "P7"}

// PortLabels gives the short mnemonic label for each port. Pure data —
// only the port identifiers and their labels carry meaning here.
var PortLabels = map[string]string{
	"P0": "OBSERVE",
	"P1": "BRIDGE",
	"P2": "SHAPE",
	"P3": "INJECT",
	"P4": "DISRUPT",
	"P5": "IMMUNIZE",
	"P6": "ASSIMILATE",
	"P7": "NAVIGATE",
}

const schemaVersion = "1"

// Migrate creates every table, index, and trigger idempotently and seeds
// a baseline compute_route row per port so a freshly migrated fleet
// never hits NoRouteError on first boot.
func Migrate(db *sql.DB, opts Options) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stigmergy_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			subject TEXT NOT NULL,
			source TEXT NOT NULL,
			data_json TEXT NOT NULL,
			content_hash TEXT NOT NULL UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON stigmergy_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON stigmergy_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source ON stigmergy_events(source)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			bluf TEXT,
			content TEXT NOT NULL,
			source TEXT,
			port TEXT,
			doc_type TEXT,
			tags TEXT,
			word_count INTEGER DEFAULT 0,
			metadata_json TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_port ON documents(port)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_doc_type ON documents(doc_type)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			title, bluf, content, content='documents', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS documents_fts_insert AFTER INSERT ON documents BEGIN
			INSERT INTO documents_fts(rowid, title, bluf, content) VALUES (new.id, new.title, new.bluf, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS documents_fts_delete AFTER DELETE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, title, bluf, content) VALUES('delete', old.id, old.title, old.bluf, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS documents_fts_update AFTER UPDATE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, title, bluf, content) VALUES('delete', old.id, old.title, old.bluf, old.content);
			INSERT INTO documents_fts(rowid, title, bluf, content) VALUES (new.id, new.title, new.bluf, new.content);
		END`,

		`CREATE TABLE IF NOT EXISTS document_enrichments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id INTEGER NOT NULL REFERENCES documents(id),
			enrichment_type TEXT NOT NULL,
			content TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_enrichments_doc ON document_enrichments(doc_id)`,

		`CREATE TABLE IF NOT EXISTS embeddings (
			doc_id INTEGER PRIMARY KEY REFERENCES documents(id),
			embedding BLOB NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS compute_route (
			port TEXT NOT NULL,
			daemon_name TEXT NOT NULL,
			task_type TEXT NOT NULL,
			model_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			priority INTEGER DEFAULT 0,
			updated_at TEXT NOT NULL,
			updated_by TEXT,
			reason TEXT,
			PRIMARY KEY (port, daemon_name, task_type)
		)`,

		`CREATE TABLE IF NOT EXISTS embed_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id INTEGER NOT NULL,
			reason TEXT NOT NULL,
			queued_at TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			claimed_by TEXT,
			claimed_at TEXT,
			UNIQUE(doc_id, status)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_embed_queue_status ON embed_queue(status, queued_at)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %s: %w", firstLine(stmt), err)
		}
	}

	if err := installEmbedQueueTriggers(db); err != nil {
		return err
	}
	if err := installSignalMetadataGate(db, opts); err != nil {
		return err
	}
	if err := seedBaselineRoutes(db); err != nil {
		return err
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', ?)`, schemaVersion); err != nil {
		return fmt.Errorf("migrate: seed meta: %w", err)
	}

	return nil
}

// installEmbedQueueTriggers wires the triggers that feed C10 from C1:
// new documents, and enrichment insert/update.
func installEmbedQueueTriggers(db *sql.DB) error {
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS embed_queue_on_document_insert
		 AFTER INSERT ON documents
		 BEGIN
			INSERT OR IGNORE INTO embed_queue (doc_id, reason, queued_at, status)
			VALUES (new.id, 'new_document', strftime('%Y-%m-%dT%H:%M:%fZ', 'now'), 'pending');
		 END`,
		`CREATE TRIGGER IF NOT EXISTS embed_queue_on_enrichment_insert
		 AFTER INSERT ON document_enrichments
		 BEGIN
			INSERT OR IGNORE INTO embed_queue (doc_id, reason, queued_at, status)
			VALUES (new.doc_id, 'enrichment_updated', strftime('%Y-%m-%dT%H:%M:%fZ', 'now'), 'pending');
		 END`,
		`CREATE TRIGGER IF NOT EXISTS embed_queue_on_enrichment_update
		 AFTER UPDATE ON document_enrichments
		 BEGIN
			INSERT OR IGNORE INTO embed_queue (doc_id, reason, queued_at, status)
			VALUES (new.doc_id, 'enrichment_updated', strftime('%Y-%m-%dT%H:%M:%fZ', 'now'), 'pending');
		 END`,
	}
	for _, t := range triggers {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migrate: embed queue trigger: %w", err)
		}
	}
	return nil
}

// seedBaselineRoutes installs one "default" compute_route row per port,
// keyed on baselineDaemon, so get_route never raises NoRouteError
// immediately after a fresh migration. INSERT OR IGNORE makes this a
// no-op on an already-migrated database whose baseline rows were later
// edited or removed by an operator.
func seedBaselineRoutes(db *sql.DB) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, port := range Ports {
		if _, err := db.Exec(
			`INSERT OR IGNORE INTO compute_route
			 (port, daemon_name, task_type, model_id, provider, priority, updated_at, updated_by, reason)
			 VALUES (?, ?, 'default', ?, ?, 0, ?, 'migrate', 'baseline seed')`,
			port, baselineDaemon, baselineModelID, baselineProvider, now,
		); err != nil {
			return fmt.Errorf("migrate: seed baseline route for %s: %w", port, err)
		}
	}
	logging.Store("seeded baseline compute_route rows for %d ports", len(Ports))
	return nil
}

// ExemptPatterns returns the SQL LIKE patterns that identify event types
// exempt from the signal_metadata gate: gate-block events, PREY8/HIVE8
// session events, system-health pulses, chimera events, and every
// prior generation's full namespace.
func ExemptPatterns(opts Options) []string {
	ns := opts.Namespace
	if ns == "" {
		ns = "hfo"
	}
	gen := opts.Generation
	if gen == "" {
		gen = "1"
	}
	base := fmt.Sprintf("%s.gen%s", ns, gen)

	patterns := []string{
		base + ".ssot_write.gate_block%",
		base + ".prey8.%",
		base + ".hive8.%",
		"system_health%",
		base + ".chimera.%",
	}
	for _, prior := range opts.PriorGenerations {
		patterns = append(patterns, fmt.Sprintf("%s.gen%s.%%", ns, prior))
	}
	return patterns
}

// installSignalMetadataGate installs the BEFORE INSERT trigger that is
// the database-level backstop to the C2 event writer. SQLite triggers
// can't take bind parameters, so the exempt-pattern list is assembled
// into static SQL at migration time — a trigger rather than a CHECK
// constraint, so it doesn't require rewriting existing rows.
func installSignalMetadataGate(db *sql.DB, opts Options) error {
	patterns := ExemptPatterns(opts)

	var clauses []string
	for _, p := range patterns {
		clauses = append(clauses, fmt.Sprintf("new.event_type NOT LIKE '%s'", escapeSQLLiteral(p)))
	}
	whenClause := strings.Join(clauses, "\n  AND ")

	stmt := fmt.Sprintf(`
		CREATE TRIGGER IF NOT EXISTS enforce_signal_metadata
		BEFORE INSERT ON stigmergy_events
		WHEN %s
		  AND new.data_json NOT LIKE '%%"signal_metadata"%%'
		BEGIN
			SELECT RAISE(ABORT, 'STRUCTURAL_GATE: signal_metadata required in data_json for non-exempt events. Use events.Writer.WriteEvent.');
		END`, whenClause)

	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("migrate: signal_metadata gate: %w", err)
	}
	logging.Store("signal_metadata gate trigger installed with %d exempt patterns", len(patterns))
	return nil
}

func escapeSQLLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if len(s) > 60 {
		return s[:60]
	}
	return s
}
