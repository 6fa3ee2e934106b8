package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fleetctl/internal/events"
	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// CheckFunc is a named invariant's boolean function over the store.
type CheckFunc func(st *store.Store, ctx CheckContext) (bool, string)

// CheckContext carries the side inputs a check may need beyond the
// store itself (binding-state / fleet-state file paths, SBE limits).
type CheckContext struct {
	FleetStatePath    string
	GoldResourcesDir  string
	GoldAllowlist     []string
	SealedDaemons     []string
	Prey8RecordsLimit int
	ConfigErrors      int
}

// Check is one registry entry: name, SBE clauses, and the function.
type Check struct {
	Name  string
	Given string
	When  string
	Then  string
	Fn    CheckFunc
}

// Verdict is one check's outcome from a single invocation.
type Verdict struct {
	WishID          string `json:"wish_id"`
	CheckName       string `json:"check_name"`
	Status          string `json:"status"` // GRANTED | DENIED
	Reason          string `json:"reason,omitempty"`
	EvaluationCount int    `json:"evaluation_count"`
	LastEvaluatedAt string `json:"last_evaluated_at"`
	Revoked         bool   `json:"revoked"`
}

// WishRegistry persists verdicts across invocations so wishes can be
// re-audited en masse or revoked.
type WishRegistry struct {
	store    *store.Store
	writer   *events.Writer
	registry *events.ModelRegistry
	ns, gen  string
	path     string
	checks   []Check

	verdicts map[string]*Verdict
}

// NewWishRegistry builds a registry over the fixed seven-check set,
// persisting verdicts at path.
func NewWishRegistry(st *store.Store, w *events.Writer, registry *events.ModelRegistry, ns, gen, path string) *WishRegistry {
	r := &WishRegistry{store: st, writer: w, registry: registry, ns: ns, gen: gen, path: path}
	r.checks = defaultChecks()
	r.verdicts = loadVerdicts(path)
	for _, c := range r.checks {
		if _, ok := r.verdicts[c.Name]; !ok {
			r.verdicts[c.Name] = &Verdict{WishID: c.Name, CheckName: c.Name, Status: "DENIED", Reason: "not yet evaluated"}
		}
	}
	return r
}

// defaultChecks is the fixed seven-entry registry.
func defaultChecks() []Check {
	return []Check{
		{
			Name:  "ssot_health",
			Given: "a store handle",
			When:  "the required tables exist and documents have been ingested",
			Then:  "DB is reachable, tables present, documents>0, and an FTS query succeeds",
			Fn:    checkSSOTHealth,
		},
		{
			Name:  "heartbeat_compliance",
			Given: "the binding-state file lists SEALED daemons",
			When:  "the window is the last hour",
			Then:  "every SEALED daemon has at least one heartbeat-like event",
			Fn:    checkHeartbeatCompliance,
		},
		{
			Name:  "prey8_integrity",
			Given: "the last N perceive records",
			When:  "each perceive opened a session",
			Then:  "each perceive's nonce appears in some yield event",
			Fn:    checkPrey8Integrity,
		},
		{
			Name:  "medallion_boundary",
			Given: "the gold resources directory",
			When:  "its contents are listed",
			Then:  "no file exists outside the allowlisted set",
			Fn:    checkMedallionBoundary,
		},
		{
			Name:  "daemon_fleet_alive",
			Given: "the fleet state file",
			When:  "every SEALED daemon is checked",
			Then:  "each has a live PID",
			Fn:    checkDaemonFleetAlive,
		},
		{
			Name:  "stigmergy_freshness",
			Given: "the event log",
			When:  "the last 4 hours are inspected",
			Then:  "at least one event exists",
			Fn:    checkStigmergyFreshness,
		},
		{
			Name:  "config_valid",
			Given: "the configuration loader",
			When:  "it reports its error count",
			Then:  "zero errors are reported",
			Fn:    checkConfigValid,
		},
	}
}

func checkSSOTHealth(st *store.Store, ctx CheckContext) (bool, string) {
	n, err := st.DocumentCount()
	if err != nil {
		return false, fmt.Sprintf("document count query failed: %v", err)
	}
	if n == 0 {
		return false, "zero documents ingested"
	}
	if _, err := st.SearchDocuments("*", 1); err != nil {
		return false, fmt.Sprintf("FTS query failed: %v", err)
	}
	return true, ""
}

func checkHeartbeatCompliance(st *store.Store, ctx CheckContext) (bool, string) {
	if len(ctx.SealedDaemons) == 0 {
		return true, ""
	}
	rows, err := st.EventsInWindow(time.Now().Add(-1*time.Hour), "")
	if err != nil {
		return false, fmt.Sprintf("read window failed: %v", err)
	}
	seen := make(map[string]bool)
	for _, r := range rows {
		if strings.Contains(r.EventType, "heartbeat") {
			seen[daemonFromSource(r.Source)] = true
		}
	}
	var missing []string
	for _, d := range ctx.SealedDaemons {
		if !seen[d] {
			missing = append(missing, d)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("no heartbeat in the last hour for: %s", strings.Join(missing, ", "))
	}
	return true, ""
}

func checkPrey8Integrity(st *store.Store, ctx CheckContext) (bool, string) {
	limit := ctx.Prey8RecordsLimit
	if limit <= 0 {
		limit = 200
	}
	recent, err := st.EventsByTypePrefix("", limit)
	if err != nil {
		return false, fmt.Sprintf("read recent records failed: %v", err)
	}
	yieldNonces := make(map[string]bool)
	for _, r := range recent {
		if !strings.HasSuffix(r.EventType, ".yield") && !strings.HasSuffix(r.EventType, ".emit") {
			continue
		}
		nonce := extractNonce(r.DataJSON)
		if nonce != "" {
			yieldNonces[nonce] = true
		}
	}
	var orphaned []string
	for _, r := range recent {
		if !strings.HasSuffix(r.EventType, ".perceive") && !strings.HasSuffix(r.EventType, ".hunt") {
			continue
		}
		nonce := extractNonce(r.DataJSON)
		if nonce != "" && !yieldNonces[nonce] {
			orphaned = append(orphaned, nonce)
		}
	}
	if len(orphaned) > 0 {
		return false, fmt.Sprintf("%d perceive nonce(s) never closed by a yield", len(orphaned))
	}
	return true, ""
}

func checkMedallionBoundary(st *store.Store, ctx CheckContext) (bool, string) {
	if ctx.GoldResourcesDir == "" {
		return true, ""
	}
	entries, err := os.ReadDir(ctx.GoldResourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, ""
		}
		return false, fmt.Sprintf("read gold dir failed: %v", err)
	}
	allowed := make(map[string]bool, len(ctx.GoldAllowlist))
	for _, a := range ctx.GoldAllowlist {
		allowed[a] = true
	}
	var unexpected []string
	for _, e := range entries {
		if !allowed[e.Name()] {
			unexpected = append(unexpected, e.Name())
		}
	}
	if len(unexpected) > 0 {
		return false, fmt.Sprintf("unexpected files in gold dir: %s", strings.Join(unexpected, ", "))
	}
	return true, ""
}

func checkDaemonFleetAlive(st *store.Store, ctx CheckContext) (bool, string) {
	if ctx.FleetStatePath == "" || len(ctx.SealedDaemons) == 0 {
		return true, ""
	}
	fleet := loadFleetStateForWish(ctx.FleetStatePath)
	var dead []string
	for _, name := range ctx.SealedDaemons {
		d, ok := fleet.Daemons[name]
		if !ok || !pidAliveForWish(d.PID) {
			dead = append(dead, name)
		}
	}
	if len(dead) > 0 {
		return false, fmt.Sprintf("no live PID for: %s", strings.Join(dead, ", "))
	}
	return true, ""
}

func checkStigmergyFreshness(st *store.Store, ctx CheckContext) (bool, string) {
	t, err := st.LatestEventTime()
	if err != nil {
		return false, fmt.Sprintf("latest event query failed: %v", err)
	}
	if t.IsZero() {
		return false, "no events at all"
	}
	if time.Since(t) > 4*time.Hour {
		return false, fmt.Sprintf("latest event is %s old", time.Since(t).Round(time.Minute))
	}
	return true, ""
}

func checkConfigValid(st *store.Store, ctx CheckContext) (bool, string) {
	if ctx.ConfigErrors > 0 {
		return false, fmt.Sprintf("%d configuration error(s) reported", ctx.ConfigErrors)
	}
	return true, ""
}

func daemonFromSource(source string) string {
	if i := strings.LastIndex(source, "/"); i >= 0 {
		return source[i+1:]
	}
	return source
}

func extractNonce(dataJSON string) string {
	var envelope struct {
		Data struct {
			Nonce string `json:"nonce"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(dataJSON), &envelope); err != nil {
		return ""
	}
	return envelope.Data.Nonce
}

// AuditAll evaluates every registered check, persists verdicts, emits one
// summary event, and returns the full verdict set.
func (r *WishRegistry) AuditAll(ctx CheckContext) ([]*Verdict, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var out []*Verdict
	deniedCount := 0
	for _, c := range r.checks {
		v := r.verdicts[c.Name]
		if v.Revoked {
			out = append(out, v)
			continue
		}
		ok, reason := c.Fn(r.store, ctx)
		v.EvaluationCount++
		v.LastEvaluatedAt = now
		if ok {
			v.Status = "GRANTED"
			v.Reason = ""
		} else {
			v.Status = "DENIED"
			v.Reason = reason
			deniedCount++
		}
		out = append(out, v)
	}
	saveVerdicts(r.path, r.verdicts)

	if err := r.emitSummary(out, deniedCount); err != nil {
		logging.AuditError("wish audit: emit summary: %v", err)
	}
	logging.Audit("wish audit: checked=%d denied=%d", len(out), deniedCount)
	return out, nil
}

// Revoke marks a wish as revoked so it is skipped by future AuditAll
// passes without being re-evaluated.
func (r *WishRegistry) Revoke(wishID string) error {
	v, ok := r.verdicts[wishID]
	if !ok {
		return fmt.Errorf("unknown wish: %s", wishID)
	}
	v.Revoked = true
	v.Status = "DENIED"
	v.Reason = "revoked"
	saveVerdicts(r.path, r.verdicts)
	logging.Audit("wish revoked: %s", wishID)
	return nil
}

// Verdicts returns the current in-memory verdict set.
func (r *WishRegistry) Verdicts() []*Verdict {
	out := make([]*Verdict, 0, len(r.verdicts))
	for _, v := range r.verdicts {
		out = append(out, v)
	}
	return out
}

func (r *WishRegistry) emitSummary(verdicts []*Verdict, deniedCount int) error {
	sig := r.registry.BuildSignalMetadata("P7", "audit", "wish_registry", events.Observations{})
	data := map[string]interface{}{
		"checked_count": len(verdicts),
		"denied_count":  deniedCount,
		"verdicts":      verdicts,
	}
	eventType := fmt.Sprintf("%s.gen%s.audit.wish", r.ns, r.gen)
	_, err := r.writer.WriteEvent(eventType, "wish_registry", data, &sig)
	return err
}

func loadVerdicts(path string) map[string]*Verdict {
	out := make(map[string]*Verdict)
	if path == "" {
		return out
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func saveVerdicts(path string, verdicts map[string]*Verdict) {
	if path == "" {
		return
	}
	data, err := json.MarshalIndent(verdicts, "", "  ")
	if err != nil {
		logging.AuditWarn("marshal wish verdicts: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logging.AuditWarn("mkdir for wish verdicts %s: %v", path, err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.AuditWarn("write wish verdicts tmp %s: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.AuditWarn("rename wish verdicts to %s: %v", path, err)
	}
}
