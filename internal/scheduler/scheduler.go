// Package scheduler is the refresh orchestration core: it decides which
// tracked cases are due, fetches them with bounded per-source concurrency and
// kind-aware retry, diffs results against stored state, persists changes and
// emits alerts. One case's failure never aborts a pass; every case ends the
// pass with a recorded outcome.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"casewatch/internal/alert"
	"casewatch/internal/cases/models"
	"casewatch/internal/normalize"
	"casewatch/internal/platform/metrics"
	"casewatch/internal/source"
	"casewatch/internal/store"
)

// Config carries the scheduler's rate and retry budget.
type Config struct {
	// RecheckInterval is the minimum gap between refreshes of a case with no
	// known upcoming hearing.
	RecheckInterval time.Duration
	// Concurrency caps in-flight fetches per source. Sources absent from the
	// map get DefaultConcurrency; CAPTCHA-gated sources should be configured
	// lower to stay under anti-automation thresholds.
	Concurrency        map[models.CourtSource]int64
	DefaultConcurrency int64
	// StaleThreshold is how many consecutive not-founds before a record is
	// reported stale.
	StaleThreshold int
	Retry          RetryTable
}

// DefaultConfig mirrors the production deployment's budget.
func DefaultConfig() Config {
	return Config{
		RecheckInterval:    24 * time.Hour,
		DefaultConcurrency: 4,
		Concurrency: map[models.CourtSource]int64{
			models.SourceDistrictCourt: 8,
			models.SourceHighCourt:     8,
			models.SourceSupremeCourt:  2,
			models.SourceITAT:          2,
			models.SourceNCLAT:         2,
			models.SourceNCLT:          4,
		},
		StaleThreshold: 3,
		Retry:          DefaultRetryTable(),
	}
}

// Scheduler runs idempotent refresh passes over the tracked-case set.
type Scheduler struct {
	adapters   map[models.CourtSource]source.Adapter
	cases      store.CaseStore
	tracked    store.TrackedCaseStore
	runs       store.SyncRunStore
	dispatcher alert.Dispatcher
	metrics    *metrics.Metrics
	logger     *log.Logger
	cfg        Config
	clock      func() time.Time

	mu          sync.Mutex
	lastRunAt   time.Time
	runInFlight bool
}

// New wires a scheduler. Adapters are keyed by their source; a tracked case
// whose source has no adapter is skipped, not failed.
func New(adapters []source.Adapter, cases store.CaseStore, tracked store.TrackedCaseStore,
	runs store.SyncRunStore, dispatcher alert.Dispatcher, m *metrics.Metrics,
	logger *log.Logger, cfg Config) *Scheduler {

	bysrc := make(map[models.CourtSource]source.Adapter, len(adapters))
	for _, a := range adapters {
		bysrc[a.Source()] = a
	}
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = 4
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryTable()
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 3
	}
	return &Scheduler{
		adapters:   bysrc,
		cases:      cases,
		tracked:    tracked,
		runs:       runs,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
		clock:      time.Now,
	}
}

// ErrRunInFlight is returned when a pass is requested while one is running.
var ErrRunInFlight = errors.New("sync run already in flight")

// RunOnce executes one scheduler pass and returns its summary. Passes are
// serialized: a second invocation while one runs returns ErrRunInFlight,
// keeping the externally triggered entry point idempotent.
func (s *Scheduler) RunOnce(ctx context.Context) (*models.SyncRun, error) {
	s.mu.Lock()
	if s.runInFlight {
		s.mu.Unlock()
		return nil, ErrRunInFlight
	}
	s.runInFlight = true
	prevRun := s.lastRunAt
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.runInFlight = false
		s.mu.Unlock()
	}()

	started := s.clock()
	run := &models.SyncRun{ID: uuid.New(), StartedAt: started}
	var runMu sync.Mutex
	record := func(o models.CaseOutcome) {
		runMu.Lock()
		run.Record(o)
		runMu.Unlock()
		if s.metrics != nil {
			s.metrics.SyncOutcomes.WithLabelValues(string(o.Identity.Source), string(o.Outcome)).Inc()
		}
	}

	due, err := s.selectDue(ctx, started, prevRun, record)
	if err != nil {
		return nil, err
	}

	// Partition by source so each source's rate budget is independent.
	bySource := make(map[models.CourtSource][]candidate)
	for _, c := range due {
		bySource[c.tracked.Identity.Source] = append(bySource[c.tracked.Identity.Source], c)
	}

	g, gctx := errgroup.WithContext(ctx)
	for src, candidates := range bySource {
		adapter, ok := s.adapters[src]
		if !ok {
			for _, c := range candidates {
				record(models.CaseOutcome{
					TrackedCaseID: c.tracked.ID,
					Identity:      c.tracked.Identity,
					Outcome:       models.OutcomeSkipped,
					SkipReason:    "no adapter configured",
				})
			}
			continue
		}

		sem := semaphore.NewWeighted(s.concurrency(src))
		candidates := candidates
		g.Go(func() error {
			inner, ictx := errgroup.WithContext(gctx)
			for _, c := range candidates {
				c := c
				inner.Go(func() error {
					if err := sem.Acquire(ictx, 1); err != nil {
						record(models.CaseOutcome{
							TrackedCaseID: c.tracked.ID,
							Identity:      c.tracked.Identity,
							Outcome:       models.OutcomeSkipped,
							SkipReason:    "pass cancelled",
						})
						return nil
					}
					defer sem.Release(1)
					record(s.refreshOne(ictx, adapter, c))
					// Case failures are recorded, never propagated: the
					// errgroup must not cancel sibling fetches.
					return nil
				})
			}
			return inner.Wait()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	run.Duration = s.clock().Sub(started)
	if s.metrics != nil {
		s.metrics.SyncRunDuration.Observe(run.Duration.Seconds())
	}
	if err := s.runs.Save(ctx, run); err != nil {
		s.logger.Printf("scheduler: save sync run: %v", err)
	}

	s.mu.Lock()
	s.lastRunAt = started
	s.mu.Unlock()

	s.logger.Printf("scheduler: pass %s done in %s: %d updated, %d unchanged, %d failed, %d skipped",
		run.ID, run.Duration.Round(time.Millisecond), run.Updated, run.Unchanged, run.Failed, run.Skipped)
	return run, nil
}

// candidate pairs a due subscription with its stored record (nil when the
// case has never been fetched).
type candidate struct {
	tracked models.TrackedCase
	stored  *models.CaseRecord
}

// selectDue loads subscriptions and applies the due rules: hearing today is
// always due; a case with no upcoming hearing is due once the recheck
// interval has elapsed; a never-fetched case is always due.
func (s *Scheduler) selectDue(ctx context.Context, now, prevRun time.Time, record func(models.CaseOutcome)) ([]candidate, error) {
	subs, err := s.tracked.List(ctx)
	if err != nil {
		return nil, err
	}

	var due []candidate
	for _, tc := range subs {
		stored, err := s.cases.Get(ctx, tc.Identity.Key())
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			record(models.CaseOutcome{
				TrackedCaseID: tc.ID,
				Identity:      tc.Identity,
				Outcome:       models.OutcomeSkipped,
				SkipReason:    "store read failed",
			})
			continue
		}
		if s.isDue(tc, stored, now, prevRun) {
			due = append(due, candidate{tracked: tc, stored: stored})
		}
	}
	return due, nil
}

func (s *Scheduler) isDue(tc models.TrackedCase, stored *models.CaseRecord, now, prevRun time.Time) bool {
	if stored == nil {
		return true // created since the previous run, never fetched
	}
	if tc.CreatedAt.After(prevRun) {
		return true
	}
	if stored.NextHearingDate != nil {
		next := *stored.NextHearingDate
		if sameDay(next, now) {
			return true // hearing today: always due, regardless of last sync
		}
		if next.After(now) {
			return false // future hearing: nothing to learn until its day
		}
	}
	// Hearing unknown or in the past: re-check on the configured interval.
	return now.Sub(stored.LastSyncedAt) >= s.cfg.RecheckInterval
}

// refreshOne fetches, normalizes, diffs and persists one case. Every exit
// path yields a recorded outcome; errors never escape to the pass.
func (s *Scheduler) refreshOne(ctx context.Context, adapter source.Adapter, c candidate) models.CaseOutcome {
	outcome := models.CaseOutcome{
		TrackedCaseID: c.tracked.ID,
		Identity:      c.tracked.Identity,
	}

	var detail *source.RawCaseDetail
	start := s.clock()
	err := s.cfg.Retry.retry(ctx, func() error {
		var fetchErr error
		detail, fetchErr = adapter.Fetch(ctx, c.tracked.Identity)
		return fetchErr
	})
	if s.metrics != nil {
		s.metrics.FetchDuration.WithLabelValues(string(c.tracked.Identity.Source)).
			Observe(s.clock().Sub(start).Seconds())
	}
	if err != nil {
		kind := source.KindOf(err)
		outcome.Outcome = models.OutcomeFailed
		outcome.FailureKind = string(kind)
		s.logger.Printf("scheduler: fetch %s: %v", c.tracked.Identity.Key(), err)
		if kind == source.KindNotFound && c.stored != nil {
			if staleErr := s.cases.MarkStale(ctx, c.tracked.Identity.Key()); staleErr != nil {
				s.logger.Printf("scheduler: mark stale %s: %v", c.tracked.Identity.Key(), staleErr)
			} else if c.stored.StaleCount+1 >= s.cfg.StaleThreshold {
				s.logger.Printf("scheduler: case %s is stale after %d consecutive not-founds",
					c.tracked.Identity.Key(), c.stored.StaleCount+1)
			}
		}
		return outcome
	}

	now := s.clock()
	fresh, err := normalize.Normalize(detail, now)
	if err != nil {
		// A record failing validation is withheld from persistence: prior
		// good state stays untouched.
		outcome.Outcome = models.OutcomeFailed
		outcome.FailureKind = string(source.KindOf(err))
		s.logger.Printf("scheduler: normalize %s: %v", c.tracked.Identity.Key(), err)
		return outcome
	}

	if c.stored == nil {
		if err := s.cases.Upsert(ctx, fresh); err != nil {
			outcome.Outcome = models.OutcomeFailed
			outcome.FailureKind = "persistence"
			s.logger.Printf("scheduler: persist new case %s: %v", c.tracked.Identity.Key(), err)
			return outcome
		}
		outcome.Outcome = models.OutcomeUpdated
		return outcome
	}

	changes := diff(c.stored, fresh)
	if len(changes) == 0 {
		// Unchanged still advances the sync stamp so due selection keeps
		// honoring the recheck interval.
		c.stored.LastSyncedAt = now
		c.stored.StaleCount = 0
		if err := s.cases.Upsert(ctx, c.stored); err != nil {
			s.logger.Printf("scheduler: stamp case %s: %v", c.tracked.Identity.Key(), err)
		}
		outcome.Outcome = models.OutcomeUnchanged
		return outcome
	}

	updated := *c.stored
	updated.ApplyRefresh(fresh, now)
	if err := s.cases.Upsert(ctx, &updated); err != nil {
		outcome.Outcome = models.OutcomeFailed
		outcome.FailureKind = "persistence"
		s.logger.Printf("scheduler: persist case %s: %v", c.tracked.Identity.Key(), err)
		return outcome
	}

	for _, change := range changes {
		if !wantsAlert(c.tracked.Prefs, change.kind) {
			continue
		}
		a := alert.Alert{
			TrackedCaseID: c.tracked.ID,
			Identity:      c.tracked.Identity,
			ChangeKind:    change.kind,
			OldValue:      change.oldValue,
			NewValue:      change.newValue,
			At:            now,
		}
		if err := s.dispatcher.Dispatch(ctx, a); err != nil {
			// Dispatch failures are logged, not retried by the scheduler.
			s.logger.Printf("scheduler: dispatch alert for %s: %v", c.tracked.Identity.Key(), err)
		}
	}

	outcome.Outcome = models.OutcomeUpdated
	return outcome
}

// change is one observed difference between stored and fetched state.
type change struct {
	kind     alert.ChangeKind
	oldValue string
	newValue string
}

// diff compares the two fields a refresh may alert on.
func diff(stored, fresh *models.CaseRecord) []change {
	var changes []change
	if stored.Status != fresh.Status {
		changes = append(changes, change{
			kind:     alert.StatusChanged,
			oldValue: stored.Status,
			newValue: fresh.Status,
		})
	}
	if !sameDate(stored.NextHearingDate, fresh.NextHearingDate) {
		changes = append(changes, change{
			kind:     alert.HearingDateChanged,
			oldValue: formatDate(stored.NextHearingDate),
			newValue: formatDate(fresh.NextHearingDate),
		})
	}
	return changes
}

func wantsAlert(prefs models.AlertPrefs, kind alert.ChangeKind) bool {
	switch kind {
	case alert.HearingDateChanged:
		return prefs.HearingDateChanges
	case alert.StatusChanged:
		return prefs.StatusChanges
	}
	return false
}

func (s *Scheduler) concurrency(src models.CourtSource) int64 {
	if n, ok := s.cfg.Concurrency[src]; ok && n > 0 {
		return n
	}
	return s.cfg.DefaultConcurrency
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return sameDay(*a, *b)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
