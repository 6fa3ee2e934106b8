// Package events implements C2 (the canonical event writer, the single
// choke point every stigmergy event must pass through) and C3 (the pure
// signal_metadata builder and model registry).
package events

import (
	"fmt"
	"runtime"

	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// WriterOptions configures the event-type namespace the Writer stamps
// onto gate-block events it synthesizes.
type WriterOptions struct {
	Namespace  string
	Generation string
}

// Writer is C2: the one and only sink for stigmergy events. Every daemon,
// every gate transition, every coordinator recommendation goes through
// Writer.WriteEvent.
type Writer struct {
	store *store.Store
	ns    string
	gen   string
}

// NewWriter builds a Writer bound to st. Namespace/Generation default to
// "hfo"/"1" to match store.DefaultOptions.
func NewWriter(st *store.Store, opts WriterOptions) *Writer {
	ns := opts.Namespace
	if ns == "" {
		ns = "hfo"
	}
	gen := opts.Generation
	if gen == "" {
		gen = "1"
	}
	return &Writer{store: st, ns: ns, gen: gen}
}

// WriteOption customizes a single WriteEvent call.
type WriteOption func(*writeConfig)

type writeConfig struct {
	source string
}

// WithSource overrides the derived source tag.
func WithSource(source string) WriteOption {
	return func(c *writeConfig) { c.source = source }
}

// WriteEvent is C2's single entry point. It validates
// signal_metadata as a structural gate, builds the CloudEvents envelope,
// computes the content hash, and performs the deduplicating insert.
//
// Returns the new row id (>0), or 0 when the event was a dedup hit. On a
// gate failure it also persists a gate-block event (itself exempt from
// the signal_metadata requirement) before returning a typed error.
func (w *Writer) WriteEvent(eventType, subject string, data map[string]interface{}, sig *SignalMetadata, opts ...WriteOption) (int64, error) {
	if sig == nil {
		w.writeGateBlock(eventType, subject, "signal_metadata_missing", nil)
		return 0, ErrSignalMetadataMissing
	}

	if missing := sig.MissingFields(); len(missing) > 0 {
		w.writeGateBlock(eventType, subject, "signal_metadata_incomplete", missing)
		return 0, &SignalMetadataIncompleteError{Missing: missing}
	}

	cfg := writeConfig{source: deriveSource(sig)}
	for _, opt := range opts {
		opt(&cfg)
	}
	merged := mergeData(data, sig)
	return w.write(eventType, subject, cfg.source, merged)
}

// write assembles the envelope, hashes it, and inserts — shared by both
// the gate-passing path and writeGateBlock (which is itself exempt from
// the signal_metadata trigger at the DB level).
func (w *Writer) write(eventType, subject, source string, data map[string]interface{}) (int64, error) {
	env := buildEnvelope(eventType, subject, source, data)
	raw, err := canonicalJSON(env)
	if err != nil {
		return 0, fmt.Errorf("canonicalize envelope: %w", err)
	}
	hash, err := contentHash(env)
	if err != nil {
		return 0, fmt.Errorf("hash envelope: %w", err)
	}

	id, err := w.store.InsertEvent(store.EventRow{
		EventType:   eventType,
		Timestamp:   env.Time,
		Subject:     subject,
		Source:      source,
		DataJSON:    string(raw),
		ContentHash: hash,
	})
	if err != nil {
		return 0, fmt.Errorf("write event %s: %w", eventType, err)
	}
	if id > 0 {
		logging.EventsDebug("wrote event type=%s subject=%s id=%d", eventType, subject, id)
	}
	return id, nil
}

// writeGateBlock synthesizes and persists the `.ssot_write.gate_block`
// event on every structural-gate failure. It never propagates its own
// write error — the caller's typed error is the signal that matters;
// losing the gate-block event would only compound the failure.
func (w *Writer) writeGateBlock(origType, subject, reason string, missing []string) {
	file, line := callerLocation()
	blockType := fmt.Sprintf("%s.gen%s.ssot_write.gate_block", w.ns, w.gen)
	data := map[string]interface{}{
		"original_event_type": origType,
		"reason":              reason,
		"caller_file":         file,
		"caller_line":         line,
	}
	if len(missing) > 0 {
		data["missing_fields"] = missing
	}
	if _, err := w.write(blockType, subject, "events.Writer", data); err != nil {
		logging.EventsError("failed to persist gate-block event for %s: %v", origType, err)
	}
}

// deriveSource produces the event's source tag from signal_metadata when
// the caller does not supply one directly.
func deriveSource(sig *SignalMetadata) string {
	if sig.Port == "" {
		return sig.DaemonName
	}
	return fmt.Sprintf("%s/%s", sig.Port, sig.DaemonName)
}

// mergeData returns a shallow copy of data with signal_metadata set,
// never mutating the caller's map.
func mergeData(data map[string]interface{}, sig *SignalMetadata) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["signal_metadata"] = sig.ToMap()
	return out
}

// callerLocation walks the stack to find the first frame outside this
// package, for a caller file:line derived from the runtime stack.
func callerLocation() (string, int) {
	for skip := 2; skip < 10; skip++ {
		_, file, line, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		if !isEventsPackageFile(file) {
			return file, line
		}
	}
	return "unknown", 0
}

func isEventsPackageFile(file string) bool {
	for _, suffix := range []string{"writer.go", "signal.go", "registry.go", "envelope.go", "errors.go"} {
		if len(file) >= len(suffix) && file[len(file)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}
