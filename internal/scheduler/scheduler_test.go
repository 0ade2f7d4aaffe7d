package scheduler

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"casewatch/internal/alert"
	"casewatch/internal/cases/models"
	"casewatch/internal/source"
	"casewatch/internal/store"
)

// fakeAdapter serves canned details per identity key.
type fakeAdapter struct {
	src models.CourtSource

	mu      sync.Mutex
	calls   map[string]int
	details map[string]*source.RawCaseDetail
	errs    map[string]error
}

func newFakeAdapter(src models.CourtSource) *fakeAdapter {
	return &fakeAdapter{
		src:     src,
		calls:   map[string]int{},
		details: map[string]*source.RawCaseDetail{},
		errs:    map[string]error{},
	}
}

func (f *fakeAdapter) Source() models.CourtSource { return f.src }

func (f *fakeAdapter) Search(ctx context.Context, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	return nil, nil
}

func (f *fakeAdapter) Fetch(ctx context.Context, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[identity.Key()]++
	if err, ok := f.errs[identity.Key()]; ok {
		return nil, err
	}
	if d, ok := f.details[identity.Key()]; ok {
		return d, nil
	}
	return nil, source.Errorf(source.KindNotFound, f.src, "fetch", "no such case")
}

func (f *fakeAdapter) fetchCount(identity models.CaseIdentity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[identity.Key()]
}

// capturingDispatcher records every alert it sees.
type capturingDispatcher struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (d *capturingDispatcher) Dispatch(ctx context.Context, a alert.Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, a)
	return nil
}

func (d *capturingDispatcher) all() []alert.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]alert.Alert(nil), d.alerts...)
}

type SchedulerSuite struct {
	suite.Suite
	ctx        context.Context
	now        time.Time
	adapter    *fakeAdapter
	cases      *store.InMemoryCaseStore
	tracked    *store.InMemoryTrackedCaseStore
	runs       *store.InMemorySyncRunStore
	dispatcher *capturingDispatcher
	sched      *Scheduler
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	s.adapter = newFakeAdapter(models.SourceDistrictCourt)
	s.cases = store.NewInMemoryCaseStore()
	s.tracked = store.NewInMemoryTrackedCaseStore()
	s.runs = store.NewInMemorySyncRunStore(0)
	s.dispatcher = &capturingDispatcher{}

	cfg := DefaultConfig()
	cfg.Retry = fastRetryTable()
	s.sched = New([]source.Adapter{s.adapter}, s.cases, s.tracked, s.runs,
		s.dispatcher, nil, log.New(io.Discard, "", 0), cfg)
	s.sched.clock = func() time.Time { return s.now }
}

func (s *SchedulerSuite) identity(cnr string) models.CaseIdentity {
	return models.CaseIdentity{Source: models.SourceDistrictCourt, CNR: cnr}
}

// detail builds a raw payload that normalizes cleanly.
func (s *SchedulerSuite) detail(cnr, disposal, nextListing string) *source.RawCaseDetail {
	return &source.RawCaseDetail{
		Source:   models.SourceDistrictCourt,
		Identity: s.identity(cnr),
		Fields: map[string]string{
			"disposal_nature": disposal,
			"next_listing":    nextListing,
			"pet_name":        "Asha Mehta",
			"res_name":        "State",
		},
	}
}

func (s *SchedulerSuite) track(cnr string, prefs models.AlertPrefs) models.TrackedCase {
	tc := models.TrackedCase{
		ID:        uuid.New(),
		Requester: "alice",
		Identity:  s.identity(cnr),
		Prefs:     prefs,
		CreatedAt: s.now.Add(-48 * time.Hour),
	}
	s.Require().NoError(s.tracked.Create(s.ctx, &tc))
	return tc
}

func (s *SchedulerSuite) TestFirstFetchPersistsWithoutAlerts() {
	s.track("DLND010001232024", models.AlertPrefs{HearingDateChanges: true, StatusChanges: true})
	s.adapter.details["district_court/DLND010001232024"] = s.detail("DLND010001232024", "", "12-09-2026")

	run, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)

	s.Equal(1, run.Updated)
	s.Empty(s.dispatcher.all(), "first sight of a case establishes baseline, no alerts")

	got, err := s.cases.Get(s.ctx, "district_court/DLND010001232024")
	s.Require().NoError(err)
	s.Equal("Pending", got.Status)
	s.Equal(s.now, got.LastSyncedAt)
}

func (s *SchedulerSuite) TestStatusChangeAlerts() {
	tc := s.track("DLND010001232024", models.AlertPrefs{StatusChanges: true})
	next := s.now.AddDate(0, 0, -3)
	s.Require().NoError(s.cases.Upsert(s.ctx, &models.CaseRecord{
		Identity:        tc.Identity,
		Status:          "Pending",
		NextHearingDate: &next,
		LastSyncedAt:    s.now.Add(-48 * time.Hour),
	}))
	s.adapter.details[tc.Identity.Key()] = s.detail("DLND010001232024", "Disposed - Contested", "")

	run, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, run.Updated)

	alerts := s.dispatcher.all()
	s.Require().Len(alerts, 1, "hearing-date change is suppressed by prefs, status change delivered")
	s.Equal(alert.StatusChanged, alerts[0].ChangeKind)
	s.Equal("Pending", alerts[0].OldValue)
	s.Equal("Disposed - Contested", alerts[0].NewValue)
	s.Equal(tc.ID, alerts[0].TrackedCaseID)

	got, err := s.cases.Get(s.ctx, tc.Identity.Key())
	s.Require().NoError(err)
	s.Equal("Disposed - Contested", got.Status)
	s.Nil(got.NextHearingDate)
}

func (s *SchedulerSuite) TestHearingDateChangeAlerts() {
	tc := s.track("DLND010001232024", models.AlertPrefs{HearingDateChanges: true})
	old := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC) // hearing today, so the case is due
	s.Require().NoError(s.cases.Upsert(s.ctx, &models.CaseRecord{
		Identity:        tc.Identity,
		Status:          "Pending",
		NextHearingDate: &old,
		LastSyncedAt:    s.now.Add(-time.Hour),
	}))
	s.adapter.details[tc.Identity.Key()] = s.detail("DLND010001232024", "", "12-09-2026")

	_, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)

	alerts := s.dispatcher.all()
	s.Require().Len(alerts, 1)
	s.Equal(alert.HearingDateChanged, alerts[0].ChangeKind)
	s.Equal("2026-08-26", alerts[0].OldValue)
	s.Equal("2026-09-12", alerts[0].NewValue)
}

func (s *SchedulerSuite) TestUnchangedStillAdvancesSyncStamp() {
	tc := s.track("DLND010001232024", models.AlertPrefs{StatusChanges: true})
	s.Require().NoError(s.cases.Upsert(s.ctx, &models.CaseRecord{
		Identity:     tc.Identity,
		Status:       "Pending",
		LastSyncedAt: s.now.Add(-48 * time.Hour),
		StaleCount:   1,
	}))
	s.adapter.details[tc.Identity.Key()] = s.detail("DLND010001232024", "", "")

	run, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, run.Unchanged)
	s.Empty(s.dispatcher.all())

	got, err := s.cases.Get(s.ctx, tc.Identity.Key())
	s.Require().NoError(err)
	s.Equal(s.now, got.LastSyncedAt)
	s.Zero(got.StaleCount, "a successful fetch clears staleness even when nothing changed")
}

func (s *SchedulerSuite) TestCaseFailureDoesNotPoisonThePass() {
	bad := s.track("DLND010006660024", models.AlertPrefs{})
	good := s.track("DLND010001232024", models.AlertPrefs{})
	s.adapter.errs[bad.Identity.Key()] = source.Errorf(source.KindCaptcha, models.SourceDistrictCourt, "fetch", "three wrong answers")
	s.adapter.details[good.Identity.Key()] = s.detail("DLND010001232024", "", "")

	run, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err, "per-case failures never fail the pass")
	s.Equal(1, run.Failed)
	s.Equal(1, run.Updated)

	var failed models.CaseOutcome
	for _, o := range run.Outcomes {
		if o.Outcome == models.OutcomeFailed {
			failed = o
		}
	}
	s.Equal("captcha", failed.FailureKind)
	s.Equal(bad.ID, failed.TrackedCaseID)
	s.Equal(1, s.adapter.fetchCount(bad.Identity), "captcha exhaustion is not retried in-pass")
}

func (s *SchedulerSuite) TestTransientFailureRetriedInPass() {
	s.track("DLND010001232024", models.AlertPrefs{})

	// Fail twice with a network fault, then serve the detail.
	fetches := 0
	flaky := &flakyAdapter{
		src:      models.SourceDistrictCourt,
		failures: 2,
		detail:   s.detail("DLND010001232024", "", ""),
		onFetch:  func() { fetches++ },
	}
	cfg := DefaultConfig()
	cfg.Retry = fastRetryTable()
	s.sched = New([]source.Adapter{flaky}, s.cases, s.tracked, s.runs,
		s.dispatcher, nil, log.New(io.Discard, "", 0), cfg)
	s.sched.clock = func() time.Time { return s.now }

	run, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, run.Updated)
	s.Equal(3, fetches)
}

// flakyAdapter fails the first N fetches with a network fault.
type flakyAdapter struct {
	src      models.CourtSource
	mu       sync.Mutex
	failures int
	detail   *source.RawCaseDetail
	onFetch  func()
}

func (f *flakyAdapter) Source() models.CourtSource { return f.src }

func (f *flakyAdapter) Search(ctx context.Context, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	return nil, nil
}

func (f *flakyAdapter) Fetch(ctx context.Context, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFetch()
	if f.failures > 0 {
		f.failures--
		return nil, source.Errorf(source.KindNetwork, f.src, "fetch", "timeout")
	}
	return f.detail, nil
}

func (s *SchedulerSuite) TestNotFoundMarksStale() {
	tc := s.track("DLND010001232024", models.AlertPrefs{})
	s.Require().NoError(s.cases.Upsert(s.ctx, &models.CaseRecord{
		Identity:     tc.Identity,
		Status:       "Pending",
		LastSyncedAt: s.now.Add(-48 * time.Hour),
	}))
	s.adapter.errs[tc.Identity.Key()] = source.Errorf(source.KindNotFound, models.SourceDistrictCourt, "fetch", "empty result")

	run, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, run.Failed)

	got, err := s.cases.Get(s.ctx, tc.Identity.Key())
	s.Require().NoError(err)
	s.Equal(1, got.StaleCount, "upstream not-found bumps staleness, record survives")
	s.Equal("Pending", got.Status)
}

func (s *SchedulerSuite) TestValidationFailureWithholdsRecord() {
	tc := s.track("DLND010001232024", models.AlertPrefs{})
	s.Require().NoError(s.cases.Upsert(s.ctx, &models.CaseRecord{
		Identity:     tc.Identity,
		Status:       "Pending",
		LastSyncedAt: s.now.Add(-48 * time.Hour),
	}))
	bad := s.detail("DLND010001232024", "", "not a date at all")
	s.adapter.details[tc.Identity.Key()] = bad

	run, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, run.Failed)
	s.Equal("validation", run.Outcomes[0].FailureKind)

	got, err := s.cases.Get(s.ctx, tc.Identity.Key())
	s.Require().NoError(err)
	s.Equal("Pending", got.Status)
	s.Equal(s.now.Add(-48*time.Hour), got.LastSyncedAt, "bad payloads leave prior good state untouched")
}

func (s *SchedulerSuite) TestUntrackedSourceSkipped() {
	tc := models.TrackedCase{
		ID:        uuid.New(),
		Requester: "alice",
		Identity:  models.CaseIdentity{Source: models.SourceNCLT, CaseType: "CP", Number: "44", Year: "2023"},
		CreatedAt: s.now.Add(-48 * time.Hour),
	}
	s.Require().NoError(s.tracked.Create(s.ctx, &tc))

	run, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, run.Skipped)
	s.Equal("no adapter configured", run.Outcomes[0].SkipReason)
}

func (s *SchedulerSuite) TestRunSummaryPersisted() {
	s.track("DLND010001232024", models.AlertPrefs{})
	s.adapter.details["district_court/DLND010001232024"] = s.detail("DLND010001232024", "", "")

	run, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)

	latest, err := s.runs.Latest(s.ctx)
	s.Require().NoError(err)
	s.Equal(run.ID, latest.ID)
	s.Equal(1, latest.Total())
}

func (s *SchedulerSuite) TestConcurrentRunRejected() {
	s.track("DLND010001232024", models.AlertPrefs{})

	// Trigger a second pass from inside the first one's fetch.
	var inner error
	blocking := &reentrantAdapter{
		src:    models.SourceDistrictCourt,
		detail: s.detail("DLND010001232024", "", ""),
		during: func() { _, inner = s.sched.RunOnce(s.ctx) },
	}
	cfg := DefaultConfig()
	cfg.Retry = fastRetryTable()
	s.sched = New([]source.Adapter{blocking}, s.cases, s.tracked, s.runs,
		s.dispatcher, nil, log.New(io.Discard, "", 0), cfg)
	s.sched.clock = func() time.Time { return s.now }

	_, err := s.sched.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.ErrorIs(inner, ErrRunInFlight)
}

type reentrantAdapter struct {
	src    models.CourtSource
	detail *source.RawCaseDetail
	during func()
}

func (r *reentrantAdapter) Source() models.CourtSource { return r.src }
func (r *reentrantAdapter) Search(ctx context.Context, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	return nil, nil
}
func (r *reentrantAdapter) Fetch(ctx context.Context, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	r.during()
	return r.detail, nil
}

func (s *SchedulerSuite) TestIsDue() {
	base := models.TrackedCase{CreatedAt: s.now.Add(-72 * time.Hour)}
	prevRun := s.now.Add(-24 * time.Hour)
	recent := s.now.Add(-time.Hour)
	old := s.now.Add(-25 * time.Hour)

	today := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	future := s.now.AddDate(0, 0, 14)
	past := s.now.AddDate(0, 0, -7)

	s.Run("never fetched is due", func() {
		s.True(s.sched.isDue(base, nil, s.now, prevRun))
	})
	s.Run("created since previous run is due", func() {
		fresh := base
		fresh.CreatedAt = s.now.Add(-time.Minute)
		s.True(s.sched.isDue(fresh, &models.CaseRecord{LastSyncedAt: recent}, s.now, prevRun))
	})
	s.Run("hearing today is always due", func() {
		s.True(s.sched.isDue(base, &models.CaseRecord{NextHearingDate: &today, LastSyncedAt: recent}, s.now, prevRun))
	})
	s.Run("future hearing is not due", func() {
		s.False(s.sched.isDue(base, &models.CaseRecord{NextHearingDate: &future, LastSyncedAt: old}, s.now, prevRun))
	})
	s.Run("past hearing follows the recheck interval", func() {
		s.True(s.sched.isDue(base, &models.CaseRecord{NextHearingDate: &past, LastSyncedAt: old}, s.now, prevRun))
		s.False(s.sched.isDue(base, &models.CaseRecord{NextHearingDate: &past, LastSyncedAt: recent}, s.now, prevRun))
	})
	s.Run("no hearing follows the recheck interval", func() {
		s.True(s.sched.isDue(base, &models.CaseRecord{LastSyncedAt: old}, s.now, prevRun))
		s.False(s.sched.isDue(base, &models.CaseRecord{LastSyncedAt: recent}, s.now, prevRun))
	})
}

func TestDiff(t *testing.T) {
	now := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	later := now.AddDate(0, 0, 17)

	stored := &models.CaseRecord{Status: "Pending", NextHearingDate: &now}
	fresh := &models.CaseRecord{Status: "Disposed", NextHearingDate: &later}

	changes := diff(stored, fresh)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}

	sameHearingOtherClock := now.Add(5 * time.Hour)
	fresh = &models.CaseRecord{Status: "Pending", NextHearingDate: &sameHearingOtherClock}
	if changes := diff(stored, fresh); len(changes) != 0 {
		t.Fatalf("time-of-day drift on the same date must not count as a change, got %v", changes)
	}

	fresh = &models.CaseRecord{Status: "Pending"}
	changes = diff(stored, fresh)
	if len(changes) != 1 || changes[0].kind != alert.HearingDateChanged || changes[0].newValue != "" {
		t.Fatalf("dropping the hearing date must surface as a hearing change, got %v", changes)
	}
}
