// Package scheduler implements C7: a single-threaded fixed-cadence tick
// loop that drives the coordinator, watchdog, and audit spells, plus a
// bounded I/O worker pool for provider status fetches.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetctl/internal/audit"
	"fleetctl/internal/coordinator"
	"fleetctl/internal/embedqueue"
	"fleetctl/internal/events"
	"fleetctl/internal/llm"
	"fleetctl/internal/logging"
	"fleetctl/internal/store"
	"fleetctl/internal/watchdog"
)

// Cadences holds the fixed per-task intervals.
type Cadences struct {
	Heartbeat  time.Duration
	Enrichment time.Duration
	EmbedSweep time.Duration
	Research   time.Duration
	Governance time.Duration
	Audit      time.Duration
	Watchdog   time.Duration
}

// DefaultCadences returns the fixed, out-of-the-box per-task intervals.
func DefaultCadences() Cadences {
	return Cadences{
		Heartbeat:  60 * time.Second,
		Enrichment: 120 * time.Second,
		EmbedSweep: 300 * time.Second,
		Research:   900 * time.Second,
		Governance: 1800 * time.Second,
		Audit:      3600 * time.Second,
		Watchdog:   21600 * time.Second,
	}
}

// Scheduler is C7's tick loop. It holds last-run timestamps per task and
// owns the lone I/O worker pool used for provider status fetches.
type Scheduler struct {
	store    *store.Store
	writer   *events.Writer
	registry *events.ModelRegistry
	ns, gen  string

	cadences Cadences
	ioLimit  int

	coord     *coordinator.Coordinator
	lifecycle *watchdog.LifecycleSupervisor
	defense   *watchdog.DefenseSupervisor
	coverage  *audit.CoverageAuditor
	wish      *audit.WishRegistry
	foresight *audit.ForesightMapper
	ollama    *llm.OllamaClient
	warmModel string

	configPath string
	reload     ReloadFunc

	mu        sync.Mutex
	lastRun   map[string]time.Time
	cycle     int
	startTime time.Time
}

// Params wires the Scheduler's collaborators. Any nil field disables the
// corresponding task for that tick; the loop still runs and skips the
// task, it never panics on a partially-wired Scheduler.
type Params struct {
	Namespace  string
	Generation string

	Cadences Cadences
	IOLimit  int

	Coordinator *coordinator.Coordinator
	Lifecycle   *watchdog.LifecycleSupervisor
	Defense     *watchdog.DefenseSupervisor
	Coverage    *audit.CoverageAuditor
	Wish        *audit.WishRegistry
	Foresight   *audit.ForesightMapper
	Ollama      *llm.OllamaClient
	WarmModel   string

	// ConfigPath, when non-empty, is watched via fsnotify for changes
	// between ticks; Reload is called on each change to recompute
	// cadences. Both empty/nil disables hot-reload entirely.
	ConfigPath string
	Reload     ReloadFunc
}

// New builds a Scheduler. st/w/registry back the heartbeat and
// embed-sweep tasks directly; the rest of the fleet's components are
// supplied pre-built through Params so the scheduler never constructs
// its own collaborators.
func New(st *store.Store, w *events.Writer, registry *events.ModelRegistry, p Params) *Scheduler {
	cadences := p.Cadences
	if cadences == (Cadences{}) {
		cadences = DefaultCadences()
	}
	ioLimit := p.IOLimit
	if ioLimit <= 0 {
		ioLimit = 4
	}
	ns, gen := p.Namespace, p.Generation
	if ns == "" {
		ns = "hfo"
	}
	if gen == "" {
		gen = "1"
	}
	return &Scheduler{
		store: st, writer: w, registry: registry, ns: ns, gen: gen,
		cadences:  cadences,
		ioLimit:   ioLimit,
		coord:     p.Coordinator,
		lifecycle: p.Lifecycle,
		defense:   p.Defense,
		coverage:  p.Coverage,
		wish:      p.Wish,
		foresight: p.Foresight,
		ollama:    p.Ollama,
		warmModel: p.WarmModel,

		configPath: p.ConfigPath,
		reload:     p.Reload,

		lastRun: make(map[string]time.Time),
	}
}

// Run blocks, ticking once a second and dispatching due tasks, until ctx
// is cancelled or an INT/TERM signal arrives. Shutdown latency is at most
// one second after the in-flight tick finishes.
func (s *Scheduler) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case sig := <-sigCh:
			logging.Scheduler("received %s, shutting down after current tick", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	s.startTime = time.Now()
	logging.Scheduler("scheduler started: heartbeat=%s enrichment=%s embed_sweep=%s research=%s governance=%s audit=%s watchdog=%s",
		s.cadences.Heartbeat, s.cadences.Enrichment, s.cadences.EmbedSweep, s.cadences.Research,
		s.cadences.Governance, s.cadences.Audit, s.cadences.Watchdog)

	go s.watchConfig(ctx, s.configPath, s.reload)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Scheduler("scheduler stopped cleanly")
			return nil
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick runs every due task in cadence order (cheapest first) so a slow
// task never delays the heartbeat's recency.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.due("heartbeat", now, s.cadences.Heartbeat) {
		s.runHeartbeat(now)
	}
	if s.due("enrichment", now, s.cadences.Enrichment) {
		s.runEnrichment(ctx)
	}
	if s.due("embed_sweep", now, s.cadences.EmbedSweep) {
		s.runEmbedSweep(ctx)
	}
	if s.due("research", now, s.cadences.Research) {
		s.runResearch(ctx)
	}
	if s.due("governance", now, s.cadences.Governance) {
		s.runGovernance()
	}
	if s.due("audit", now, s.cadences.Audit) {
		s.runAudit()
	}
	if s.due("watchdog", now, s.cadences.Watchdog) {
		s.runWatchdog()
	}
}

func (s *Scheduler) due(task string, now time.Time, cadence time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[task]
	if ok && now.Sub(last) < cadence {
		return false
	}
	s.lastRun[task] = now
	return true
}

// runHeartbeat writes one heartbeat event carrying the cycle index,
// uptime% over the last hour (derived from stigmergy density, not
// process liveness — C7), and the total event count.
func (s *Scheduler) runHeartbeat(now time.Time) {
	s.mu.Lock()
	s.cycle++
	cycle := s.cycle
	s.mu.Unlock()
	uptimePct := s.uptimeOverLastHour(now)
	count, err := s.store.EventCount()
	if err != nil {
		logging.SchedulerError("heartbeat: event count: %v", err)
	}

	sig := s.registry.BuildSignalMetadata("P7", "scheduler", "scheduler", events.Observations{})
	data := map[string]interface{}{
		"cycle":       cycle,
		"uptime_pct":  uptimePct,
		"event_count": count,
	}
	eventType := fmt.Sprintf("%s.gen%s.scheduler.heartbeat", s.ns, s.gen)
	if _, err := s.writer.WriteEvent(eventType, "scheduler", data, &sig); err != nil {
		logging.SchedulerError("heartbeat: write event: %v", err)
		return
	}
	logging.Scheduler("heartbeat: cycle=%d uptime_pct=%.1f events=%d", cycle, uptimePct, count)
}

// uptimeOverLastHour buckets the last hour's events by minute and
// reports the covered share, the same stigmergy-density metric the
// coverage auditor computes over a longer window.
func (s *Scheduler) uptimeOverLastHour(now time.Time) float64 {
	since := now.Add(-1 * time.Hour)
	rows, err := s.store.EventsInWindow(since, "")
	if err != nil {
		logging.SchedulerWarn("heartbeat: read last-hour window: %v", err)
		return 0
	}
	bucketed := make(map[int]bool)
	for _, r := range rows {
		ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil {
			continue
		}
		offset := int(ts.Sub(since).Minutes())
		if offset < 0 || offset >= 60 {
			continue
		}
		bucketed[offset] = true
	}
	return float64(len(bucketed)) / 60.0 * 100
}

// runEnrichment fans out the local model server's tags and ps status
// fetches over a bounded errgroup worker pool, the scheduler's one
// I/O-bound task.
func (s *Scheduler) runEnrichment(ctx context.Context) {
	if s.ollama == nil {
		logging.SchedulerDebug("enrichment: no ollama client wired, skipping")
		return
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.ioLimit)

	eg.Go(func() error {
		tags, err := s.ollama.Tags(egCtx)
		if err != nil {
			logging.SchedulerWarn("enrichment: tags fetch: %v", err)
			return nil
		}
		logging.SchedulerDebug("enrichment: %d model(s) available on local server", len(tags.Models))
		return nil
	})
	eg.Go(func() error {
		ps, err := s.ollama.Ps(egCtx)
		if err != nil {
			logging.SchedulerWarn("enrichment: ps fetch: %v", err)
			return nil
		}
		logging.SchedulerDebug("enrichment: %d model(s) currently loaded", len(ps.Models))
		return nil
	})
	_ = eg.Wait()
}

// runEmbedSweep idempotently warms the local model server and logs the
// embed queue's depth so the backpressure signal reaches the
// scheduler's own log stream between coordinator cycles.
func (s *Scheduler) runEmbedSweep(ctx context.Context) {
	if s.ollama != nil && s.warmModel != "" {
		if err := s.ollama.WarmUp(ctx, s.warmModel, "30m"); err != nil {
			logging.SchedulerWarn("embed sweep: warm-up failed: %v", err)
		}
	}
	q := embedqueue.New(s.store)
	depth, err := q.Depth()
	if err != nil {
		logging.SchedulerError("embed sweep: depth query: %v", err)
		return
	}
	counts, err := q.StatusCounts()
	if err != nil {
		logging.SchedulerWarn("embed sweep: status counts: %v", err)
	}
	logging.Scheduler("embed sweep: pending_depth=%d status=%v", depth, counts)
}

// runResearch invokes the coordinator's cycle: reads recent events,
// scores pheromones, and writes per-port recommendations.
func (s *Scheduler) runResearch(ctx context.Context) {
	_ = ctx
	if s.coord == nil {
		logging.SchedulerDebug("research: no coordinator wired, skipping")
		return
	}
	result, err := s.coord.Run()
	if err != nil {
		logging.SchedulerError("research: coordinator cycle: %v", err)
		return
	}
	logging.Scheduler("research: coordinator cycle complete, grade=%s recommendations=%d",
		result.Audit.Grade, len(result.Recommendations))
}

// runGovernance invokes the invariant verifier's full audit pass so
// governance-window wish re-evaluation happens on its own cadence,
// independent of the coverage/foresight audit cadence.
func (s *Scheduler) runGovernance() {
	if s.wish == nil {
		logging.SchedulerDebug("governance: no wish registry wired, skipping")
		return
	}
	verdicts, err := s.wish.AuditAll(audit.CheckContext{})
	if err != nil {
		logging.SchedulerError("governance: wish audit: %v", err)
		return
	}
	denied := 0
	for _, v := range verdicts {
		if v.Status == "DENIED" {
			denied++
		}
	}
	logging.Scheduler("governance: %d wish(es) evaluated, %d denied", len(verdicts), denied)
}

// runAudit invokes the coverage auditor and foresight mapper, logging
// their grades.
func (s *Scheduler) runAudit() {
	if s.coverage != nil {
		report, err := s.coverage.Run(24)
		if err != nil {
			logging.SchedulerError("audit: coverage run: %v", err)
		} else {
			logging.Scheduler("audit: coverage grade=%s uptime_pct=%.1f", report.Grade, report.UptimePct)
		}
	}
	if s.foresight != nil {
		report, err := s.foresight.Run(24)
		if err != nil {
			logging.SchedulerError("audit: foresight run: %v", err)
		} else {
			logging.Scheduler("audit: foresight classified=%d attractor_basin_pct=%.1f",
				report.EventsClassified, report.AttractorBasinPct)
		}
	}
}

// runWatchdog invokes the lifecycle and defense supervisors in that
// order, so a freshly restarted daemon's heartbeat has a chance to land
// in the store before the defense pass reads the window.
func (s *Scheduler) runWatchdog() {
	if s.lifecycle != nil {
		report, err := s.lifecycle.Check()
		if err != nil {
			logging.SchedulerError("watchdog: lifecycle check: %v", err)
		} else {
			logging.Scheduler("watchdog: lifecycle alive=%d/%d restarted=%d",
				report.AliveCount, report.CheckedCount, report.RestartedCount)
		}
	}
	if s.defense != nil {
		report, err := s.defense.Run(s.fleetStatePathForDefense())
		if err != nil {
			logging.SchedulerError("watchdog: defense run: %v", err)
		} else {
			logging.Scheduler("watchdog: defense score=%d grade=%s trend=%s", report.Score, report.Grade, report.Trend)
		}
	}
}

// fleetStatePathForDefense resolves the same fleet-state path the
// lifecycle supervisor owns. The defense supervisor only reads it.
func (s *Scheduler) fleetStatePathForDefense() string {
	if s.lifecycle == nil {
		return ""
	}
	return s.lifecycle.StatePath()
}
