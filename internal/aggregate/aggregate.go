// Package aggregate consumes frame reports from source workers and
// maintains per-area rolling statistics. Each area is owned by a single
// goroutine; reports are routed to it over a channel, so area state never
// needs locking on the ingest path.
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/watchgrid/proximity.report/internal/monitoring"
	"github.com/watchgrid/proximity.report/internal/notify"
	"github.com/watchgrid/proximity.report/internal/report"
	"github.com/watchgrid/proximity.report/internal/store"
	"github.com/watchgrid/proximity.report/internal/timeutil"
)

// Config holds aggregator-wide settings.
type Config struct {
	TickInterval       time.Duration // evaluation cadence, wall-clock driven
	SilenceTimeout     time.Duration // evict a source after this long without reports
	OccupancySampleAge time.Duration // max age of samples contributing to occupancy
	Clock              timeutil.Clock
}

// AreaPolicy is the alerting policy for one area.
type AreaPolicy struct {
	ID      string
	Name    string
	Sources []string

	OccupancyThreshold    int
	OccupancyAlertMinSecs int // negative disables occupancy alerting
	ViolationSecs         float64
	NotifyEvery           time.Duration
	Emails                []string
	DailyReport           bool
	DailyReportHour       int
	DailyReportMinute     int
}

// Snapshot is the read-only view of one area exposed to the query API.
type Snapshot struct {
	AreaID           string               `json:"area_id"`
	Name             string               `json:"name"`
	Occupancy        int                  `json:"occupancy"`
	ActiveSources    int                  `json:"active_sources"`
	ActivePairs      int                  `json:"active_pairs"`
	ViolationSeconds float64              `json:"violation_seconds"`
	LastAlerts       map[string]time.Time `json:"last_alerts,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Aggregator routes reports to per-area loops and runs their evaluation
// ticks.
type Aggregator struct {
	config Config
	clock  timeutil.Clock
	areas  map[string]*areaLoop
	routes map[string]*areaLoop // sourceID -> owning area

	wg sync.WaitGroup
}

// New creates an aggregator for the given policies. sink receives alerts;
// st persists alerts, samples, and daily reports and may be nil in tools
// that only want live snapshots.
func New(config Config, policies []AreaPolicy, sink notify.Sink, st *store.Store) *Aggregator {
	if config.Clock == nil {
		config.Clock = timeutil.NewRealClock()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 5 * time.Second
	}
	if sink == nil {
		sink = notify.LogSink{}
	}

	a := &Aggregator{
		config: config,
		clock:  config.Clock,
		areas:  make(map[string]*areaLoop),
		routes: make(map[string]*areaLoop),
	}
	for _, p := range policies {
		loop := newAreaLoop(p, config, sink, st)
		a.areas[p.ID] = loop
		for _, src := range p.Sources {
			a.routes[src] = loop
		}
	}
	return a
}

// HandleReport routes one frame report to its owning area. Reports from
// unconfigured sources are dropped with a log line. Safe for concurrent use.
func (a *Aggregator) HandleReport(r report.FrameReport) {
	loop, ok := a.routes[r.SourceID]
	if !ok {
		monitoring.Logf("aggregate: dropping report from unconfigured source %q", r.SourceID)
		return
	}
	select {
	case loop.reports <- r:
	default:
		// A stalled area loop must not block the ingest server.
		monitoring.Logf("aggregate: area %s report queue full, dropping frame from %s", loop.policy.ID, r.SourceID)
	}
}

// Run starts one goroutine per area and blocks until ctx is cancelled and
// every loop has drained.
func (a *Aggregator) Run(ctx context.Context) {
	for _, loop := range a.areas {
		a.wg.Add(1)
		go func(l *areaLoop) {
			defer a.wg.Done()
			l.run(ctx)
		}(loop)
	}
	a.wg.Wait()
}

// Snapshots returns the current view of every area.
func (a *Aggregator) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(a.areas))
	for _, loop := range a.areas {
		out = append(out, loop.snapshot())
	}
	return out
}

// AreaSnapshot returns the view of one area.
func (a *Aggregator) AreaSnapshot(areaID string) (Snapshot, bool) {
	loop, ok := a.areas[areaID]
	if !ok {
		return Snapshot{}, false
	}
	return loop.snapshot(), true
}

// sample is one timestamped observation in a sliding window.
type sample struct {
	at    time.Time
	value float64
}

// windowSum totals the values of samples at or after cutoff.
func windowSum(w []sample, cutoff time.Time) float64 {
	var sum float64
	for _, s := range w {
		if !s.at.Before(cutoff) {
			sum += s.value
		}
	}
	return sum
}

// evict drops samples older than cutoff, preserving order.
func evict(w []sample, cutoff time.Time) []sample {
	i := 0
	for i < len(w) && w[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return w
	}
	return append(w[:0], w[i:]...)
}

type sourceState struct {
	occupancy   int
	activePairs int       // violating pairs in the freshest frame
	lastReport  time.Time // wall clock, for silence eviction
	lastFrame   time.Time // frame timestamp, for violation-seconds deltas
}

// areaLoop owns the state of one area. All fields below the mutex line are
// touched only by the owning goroutine (or by tests calling ingest/tick
// directly); the snapshot is the only cross-goroutine surface.
type areaLoop struct {
	policy AreaPolicy
	config Config
	clock  timeutil.Clock
	sink   notify.Sink
	store  *store.Store

	reports chan report.FrameReport

	seen            map[report.Key]struct{}
	perSource       map[string]*sourceState
	occupancyWindow []sample
	violationWindow []sample
	unpersistedSecs float64   // violation-seconds accrued since the last stored sample
	aboveSince      time.Time // zero when occupancy is at or below threshold
	lastAlert       map[string]time.Time
	lastDailyDay    string

	mu   sync.RWMutex
	snap Snapshot
}

func newAreaLoop(policy AreaPolicy, config Config, sink notify.Sink, st *store.Store) *areaLoop {
	return &areaLoop{
		policy:    policy,
		config:    config,
		clock:     config.Clock,
		sink:      sink,
		store:     st,
		reports:   make(chan report.FrameReport, 256),
		seen:      make(map[report.Key]struct{}),
		perSource: make(map[string]*sourceState),
		lastAlert: make(map[string]time.Time),
		snap:      Snapshot{AreaID: policy.ID, Name: policy.Name},
	}
}

func (l *areaLoop) run(ctx context.Context) {
	ticker := l.clock.NewTicker(l.config.TickInterval)
	defer ticker.Stop()

	monitoring.Logf("aggregate: area %s loop started (%d sources)", l.policy.ID, len(l.policy.Sources))
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-l.reports:
			l.ingest(r)
		case now := <-ticker.C():
			l.tick(now)
		}
	}
}

// ingest folds one report into the windows. Duplicate (source, frame time)
// pairs are ignored, so at-least-once delivery upstream is harmless.
func (l *areaLoop) ingest(r report.FrameReport) {
	key := r.DedupKey()
	if _, dup := l.seen[key]; dup {
		return
	}
	l.seen[key] = struct{}{}

	now := l.clock.Now()
	src, ok := l.perSource[r.SourceID]
	if !ok {
		src = &sourceState{}
		l.perSource[r.SourceID] = src
	}

	// Violation-seconds contribution: each counted pair accrues the time
	// since the source's previous frame. Out-of-order or first frames
	// contribute nothing; gaps are capped so a reconnecting source cannot
	// dump a huge backlog of seconds at once.
	if n := r.ViolationCount(); n > 0 && !src.lastFrame.IsZero() {
		dt := r.FrameTimestamp.Sub(src.lastFrame)
		if dt > 0 {
			if dt > 5*time.Second {
				dt = 5 * time.Second
			}
			secs := float64(n) * dt.Seconds()
			l.violationWindow = append(l.violationWindow, sample{
				at:    r.FrameTimestamp,
				value: secs,
			})
			l.unpersistedSecs += secs
		}
	}
	if r.FrameTimestamp.After(src.lastFrame) {
		src.lastFrame = r.FrameTimestamp
		src.occupancy = r.Occupancy
		src.activePairs = r.ViolationCount()
	}
	src.lastReport = now

	occ := l.areaOccupancy(now)
	l.occupancyWindow = append(l.occupancyWindow, sample{at: now, value: float64(occ)})
	l.updateStreak(occ, now)
	l.publish(now)
}

// tick runs one wall-clock evaluation pass.
func (l *areaLoop) tick(now time.Time) {
	// Step 1: evict silent sources so their stale occupancy stops counting.
	for id, src := range l.perSource {
		if l.config.SilenceTimeout > 0 && now.Sub(src.lastReport) > l.config.SilenceTimeout {
			monitoring.Logf("aggregate: area %s evicting silent source %s (last report %v ago)",
				l.policy.ID, id, now.Sub(src.lastReport))
			delete(l.perSource, id)
		}
	}

	// Step 2: evict expired window samples and dedup keys.
	occCutoff := now.Add(-l.occupancyWindowSize())
	vioCutoff := now.Add(-l.violationWindowSize())
	l.occupancyWindow = evict(l.occupancyWindow, occCutoff)
	l.violationWindow = evict(l.violationWindow, vioCutoff)
	keyCutoff := occCutoff
	if vioCutoff.Before(keyCutoff) {
		keyCutoff = vioCutoff
	}
	for k := range l.seen {
		if k.FrameTimestamp.Before(keyCutoff) {
			delete(l.seen, k)
		}
	}

	// Step 3: refresh the occupancy streak against the current value.
	occ := l.areaOccupancy(now)
	l.updateStreak(occ, now)

	// Step 4: evaluate alert conditions.
	l.evaluateOccupancy(occ, now)
	l.evaluateViolations(now)
	l.evaluateDailyReport(now)

	// Step 5: persist the observation for history queries and daily stats.
	// Each sample carries the violation-seconds accrued since the previous
	// one, so summing samples over a span gives the span's total. The
	// counter only resets once the insert succeeds.
	if l.store != nil {
		err := l.store.InsertOccupancySample(store.OccupancySample{
			AreaID:           l.policy.ID,
			Occupancy:        occ,
			ViolationSeconds: l.unpersistedSecs,
			ActivePairs:      l.areaActivePairs(now),
			SampledAt:        now,
		})
		if err != nil {
			monitoring.Logf("aggregate: area %s: %v", l.policy.ID, err)
		} else {
			l.unpersistedSecs = 0
		}
	}

	l.publish(now)
}

// areaOccupancy sums the freshest occupancy of each non-stale source.
func (l *areaLoop) areaOccupancy(now time.Time) int {
	maxAge := l.config.OccupancySampleAge
	total := 0
	for _, src := range l.perSource {
		if maxAge > 0 && now.Sub(src.lastReport) > maxAge {
			continue
		}
		total += src.occupancy
	}
	return total
}

// areaActivePairs sums the currently violating pair count of each non-stale
// source.
func (l *areaLoop) areaActivePairs(now time.Time) int {
	maxAge := l.config.OccupancySampleAge
	total := 0
	for _, src := range l.perSource {
		if maxAge > 0 && now.Sub(src.lastReport) > maxAge {
			continue
		}
		total += src.activePairs
	}
	return total
}

// updateStreak tracks how long occupancy has been continuously above the
// threshold. Any dip to or below the threshold resets it.
func (l *areaLoop) updateStreak(occ int, now time.Time) {
	if occ > l.policy.OccupancyThreshold {
		if l.aboveSince.IsZero() {
			l.aboveSince = now
		}
	} else {
		l.aboveSince = time.Time{}
	}
}

func (l *areaLoop) evaluateOccupancy(occ int, now time.Time) {
	minSecs := l.policy.OccupancyAlertMinSecs
	if minSecs < 0 {
		return // disabled for this area
	}
	if l.aboveSince.IsZero() {
		return
	}
	sustained := now.Sub(l.aboveSince)
	if sustained < time.Duration(minSecs)*time.Second {
		return
	}
	l.dispatch(notify.Alert{
		AreaID:   l.policy.ID,
		AreaName: l.policy.Name,
		Kind:     notify.KindOccupancy,
		Message: fmt.Sprintf("occupancy %d above threshold %d for %ds",
			occ, l.policy.OccupancyThreshold, int(sustained.Seconds())),
		Value:     float64(occ),
		Emails:    l.policy.Emails,
		Timestamp: now,
	}, now)
}

func (l *areaLoop) evaluateViolations(now time.Time) {
	if l.policy.ViolationSecs <= 0 {
		return
	}
	total := windowSum(l.violationWindow, now.Add(-l.violationWindowSize()))
	if total < l.policy.ViolationSecs {
		return
	}
	l.dispatch(notify.Alert{
		AreaID:   l.policy.ID,
		AreaName: l.policy.Name,
		Kind:     notify.KindViolation,
		Message: fmt.Sprintf("%.1f violation-seconds in the last %v",
			total, l.violationWindowSize()),
		Value:     total,
		Emails:    l.policy.Emails,
		Timestamp: now,
	}, now)
}

// evaluateDailyReport emits the area's daily summary once per calendar day
// at the configured time. The store's unique (area, day) constraint keeps
// it idempotent across restarts.
func (l *areaLoop) evaluateDailyReport(now time.Time) {
	if !l.policy.DailyReport || l.store == nil {
		return
	}
	due := time.Date(now.Year(), now.Month(), now.Day(),
		l.policy.DailyReportHour, l.policy.DailyReportMinute, 0, 0, now.Location())
	if now.Before(due) {
		return
	}
	day := now.Format("2006-01-02")
	if l.lastDailyDay == day {
		return
	}

	rep, err := l.store.DayStats(l.policy.ID, due.Add(-24*time.Hour))
	if err != nil {
		monitoring.Logf("aggregate: area %s daily stats: %v", l.policy.ID, err)
		return
	}
	rep.Day = day
	rep.CreatedAt = now

	inserted, err := l.store.RecordDailyReport(rep)
	if err != nil {
		monitoring.Logf("aggregate: area %s daily report: %v", l.policy.ID, err)
		return
	}
	l.lastDailyDay = day
	if !inserted {
		return // already reported today, e.g. before a restart
	}

	alert := notify.Alert{
		AreaID:   l.policy.ID,
		AreaName: l.policy.Name,
		Kind:     notify.KindDailyReport,
		Message: fmt.Sprintf("daily summary %s: peak occupancy %d, avg %.1f, %d alerts",
			day, rep.PeakOccupancy, rep.AvgOccupancy, rep.AlertCount),
		Value:     float64(rep.PeakOccupancy),
		Emails:    l.policy.Emails,
		Timestamp: now,
	}
	// Daily reports are scheduled, not threshold-driven; the rate limiter
	// does not apply.
	if err := l.sink.Notify(alert); err != nil {
		monitoring.Logf("aggregate: area %s daily report dispatch: %v", l.policy.ID, err)
	}
	l.recordAlert(alert, now)
}

// dispatch sends a threshold alert through the per-kind rate limiter.
func (l *areaLoop) dispatch(alert notify.Alert, now time.Time) {
	if l.policy.NotifyEvery > 0 {
		if last, ok := l.lastAlert[alert.Kind]; ok && now.Sub(last) < l.policy.NotifyEvery {
			return
		}
	}
	if err := l.sink.Notify(alert); err != nil {
		// Fire-and-forget: the next eligible window re-attempts naturally.
		monitoring.Logf("aggregate: area %s alert dispatch: %v", l.policy.ID, err)
	}
	l.recordAlert(alert, now)
}

func (l *areaLoop) recordAlert(alert notify.Alert, now time.Time) {
	l.lastAlert[alert.Kind] = now
	if l.store != nil {
		if err := l.store.InsertAlert(alert.AreaID, alert.Kind, alert.Message, alert.Value, now); err != nil {
			monitoring.Logf("aggregate: area %s: %v", l.policy.ID, err)
		}
	}
}

func (l *areaLoop) occupancyWindowSize() time.Duration {
	size := l.config.OccupancySampleAge
	if min := time.Duration(l.policy.OccupancyAlertMinSecs) * time.Second; min > size {
		size = min
	}
	if size <= 0 {
		size = 10 * time.Minute
	}
	return size
}

func (l *areaLoop) violationWindowSize() time.Duration {
	if l.policy.NotifyEvery > 0 {
		return l.policy.NotifyEvery
	}
	return 15 * time.Minute
}

// publish refreshes the cross-goroutine snapshot.
func (l *areaLoop) publish(now time.Time) {
	alerts := make(map[string]time.Time, len(l.lastAlert))
	for k, v := range l.lastAlert {
		alerts[k] = v
	}
	snap := Snapshot{
		AreaID:           l.policy.ID,
		Name:             l.policy.Name,
		Occupancy:        l.areaOccupancy(now),
		ActiveSources:    len(l.perSource),
		ActivePairs:      l.areaActivePairs(now),
		ViolationSeconds: windowSum(l.violationWindow, now.Add(-l.violationWindowSize())),
		LastAlerts:       alerts,
		UpdatedAt:        now,
	}

	l.mu.Lock()
	l.snap = snap
	l.mu.Unlock()
}

func (l *areaLoop) snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}
