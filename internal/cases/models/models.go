package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CourtSource identifies one judicial data source. Each value maps to exactly
// one adapter implementation and one set of identity validation rules.
type CourtSource string

const (
	SourceDistrictCourt CourtSource = "district_court"
	SourceHighCourt     CourtSource = "high_court"
	SourceSupremeCourt  CourtSource = "supreme_court"
	SourceNCLT          CourtSource = "nclt"
	SourceNCLAT         CourtSource = "nclat"
	SourceITAT          CourtSource = "itat"
)

// AllSources lists every supported source in a stable order.
func AllSources() []CourtSource {
	return []CourtSource{
		SourceDistrictCourt,
		SourceHighCourt,
		SourceSupremeCourt,
		SourceNCLT,
		SourceNCLAT,
		SourceITAT,
	}
}

// ParseCourtSource validates a string into a CourtSource.
func ParseCourtSource(s string) (CourtSource, error) {
	cs := CourtSource(s)
	if !cs.IsValid() {
		return "", fmt.Errorf("unknown court source %q", s)
	}
	return cs, nil
}

// IsValid checks that the source is one of the supported enum values.
func (c CourtSource) IsValid() bool {
	switch c {
	case SourceDistrictCourt, SourceHighCourt, SourceSupremeCourt, SourceNCLT, SourceNCLAT, SourceITAT:
		return true
	}
	return false
}

// String returns the string representation.
func (c CourtSource) String() string {
	return string(c)
}

// CaseIdentity is the immutable identity of a case. CNR is the cross-source
// unique registration number where the source issues one; tribunal sources
// key on (CaseType, Number, Year) plus routing codes instead. Routing carries
// source-specific location codes (state, district, court, bench) needed to
// address the case at its source.
type CaseIdentity struct {
	Source   CourtSource       `json:"source"`
	CNR      string            `json:"cnr,omitempty"`
	CaseType string            `json:"case_type,omitempty"`
	Number   string            `json:"number,omitempty"`
	Year     string            `json:"year,omitempty"`
	Routing  map[string]string `json:"routing,omitempty"`
}

// Validate enforces the per-source identity rules.
func (id CaseIdentity) Validate() error {
	if !id.Source.IsValid() {
		return fmt.Errorf("invalid source %q", id.Source)
	}
	switch id.Source {
	case SourceDistrictCourt, SourceHighCourt:
		if id.CNR == "" && (id.Number == "" || id.Year == "") {
			return fmt.Errorf("%s identity requires a CNR or case number and year", id.Source)
		}
	default:
		if id.Number == "" || id.Year == "" {
			return fmt.Errorf("%s identity requires case number and year", id.Source)
		}
	}
	return nil
}

// Key returns a stable identity key used for store lookups and dedup.
func (id CaseIdentity) Key() string {
	if id.CNR != "" {
		return string(id.Source) + "/" + id.CNR
	}
	return fmt.Sprintf("%s/%s/%s/%s", id.Source, id.CaseType, id.Number, id.Year)
}

// Parties holds the named litigants and their advocates.
type Parties struct {
	Petitioner          string `json:"petitioner"`
	Respondent          string `json:"respondent"`
	PetitionerAdvocates string `json:"petitioner_advocates,omitempty"`
	RespondentAdvocates string `json:"respondent_advocates,omitempty"`
}

// HearingEvent is one entry in a case's hearing history.
type HearingEvent struct {
	Judge        string     `json:"judge,omitempty"`
	BusinessDate *time.Time `json:"business_date,omitempty"`
	HearingDate  *time.Time `json:"hearing_date,omitempty"`
	Purpose      string     `json:"purpose,omitempty"`
}

// OrderEvent is one published order or judgment with its document link.
type OrderEvent struct {
	Date        *time.Time `json:"date,omitempty"`
	Description string     `json:"description,omitempty"`
	DocumentURL string     `json:"document_url,omitempty"`
}

// CaseRecord is the canonical cross-source case schema. Identity fields are
// write-once; a refresh may overwrite only Status, NextHearingDate,
// DecisionDate, Hearings, Orders, LastSyncedAt and StaleCount.
type CaseRecord struct {
	Identity CaseIdentity `json:"identity"`

	Title           string     `json:"title,omitempty"`
	Status          string     `json:"status"`
	Parties         Parties    `json:"parties"`
	CourtName       string     `json:"court_name,omitempty"`
	BenchName       string     `json:"bench_name,omitempty"`
	Judges          string     `json:"judges,omitempty"`
	FilingDate      *time.Time `json:"filing_date,omitempty"`
	NextHearingDate *time.Time `json:"next_hearing_date,omitempty"`
	DecisionDate    *time.Time `json:"decision_date,omitempty"`

	Hearings []HearingEvent `json:"hearings,omitempty"`
	Orders   []OrderEvent   `json:"orders,omitempty"`

	LastSyncedAt time.Time `json:"last_synced_at"`
	StaleCount   int       `json:"stale_count,omitempty"`

	// Raw preserves the source-shaped payload for audit and re-normalization.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// ApplyRefresh copies the refresh-mutable fields of src onto r, leaving
// identity untouched.
func (r *CaseRecord) ApplyRefresh(src *CaseRecord, now time.Time) {
	r.Status = src.Status
	r.NextHearingDate = src.NextHearingDate
	r.DecisionDate = src.DecisionDate
	r.Hearings = src.Hearings
	r.Orders = src.Orders
	r.Raw = src.Raw
	r.LastSyncedAt = now
	r.StaleCount = 0
}

// AlertPrefs selects which change kinds a subscriber wants alerts for.
type AlertPrefs struct {
	HearingDateChanges bool `json:"hearing_date_changes"`
	StatusChanges      bool `json:"status_changes"`
}

// TrackedCase subscribes a requester to a case identity for periodic refresh.
// At most one TrackedCase exists per (requester, identity) pair.
type TrackedCase struct {
	ID        uuid.UUID    `json:"id"`
	Requester string       `json:"requester"`
	Identity  CaseIdentity `json:"identity"`
	Prefs     AlertPrefs   `json:"prefs"`
	CreatedAt time.Time    `json:"created_at"`
}

// SyncOutcome classifies what one scheduler pass did with one case.
type SyncOutcome string

const (
	OutcomeUnchanged SyncOutcome = "unchanged"
	OutcomeUpdated   SyncOutcome = "updated"
	OutcomeFailed    SyncOutcome = "failed"
	OutcomeSkipped   SyncOutcome = "skipped"
)

// CaseOutcome is the per-case result recorded in a SyncRun.
type CaseOutcome struct {
	TrackedCaseID uuid.UUID    `json:"tracked_case_id"`
	Identity      CaseIdentity `json:"identity"`
	Outcome       SyncOutcome  `json:"outcome"`
	FailureKind   string       `json:"failure_kind,omitempty"`
	SkipReason    string       `json:"skip_reason,omitempty"`
}

// SyncRun summarizes one scheduler pass for observability.
type SyncRun struct {
	ID        uuid.UUID     `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Unchanged int           `json:"unchanged"`
	Updated   int           `json:"updated"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Outcomes  []CaseOutcome `json:"outcomes,omitempty"`
}

// Record tallies one case outcome into the run.
func (r *SyncRun) Record(o CaseOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Outcome {
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
}

// Total returns the number of cases the run touched.
func (r *SyncRun) Total() int {
	return r.Unchanged + r.Updated + r.Failed + r.Skipped
}
