// Package source defines the uniform capability surface every judicial data
// source implements, plus the typed failure taxonomy shared by all of them.
// Adapters return raw, source-shaped data; mapping into the canonical schema
// is the normalizer's job.
package source

import (
	"context"
	"encoding/json"
	"time"

	"casewatch/internal/cases/models"
)

// SearchCriteria is the domain-level search input. Adapters translate it into
// whatever their source expects; fields a source cannot use are ignored.
type SearchCriteria struct {
	NumberOrName string
	CaseType     string
	Year         string
	// CourtHint carries source routing codes (state, district, court, bench).
	CourtHint map[string]string
}

// RawCaseMatch is one search hit, still shaped like its source.
type RawCaseMatch struct {
	Source   models.CourtSource
	Identity models.CaseIdentity
	Title    string
	Status   string
	Fields   map[string]string
}

// RawCaseDetail is the full source-shaped case payload handed to the
// normalizer. Dates stay as strings here; parsing them, per source format,
// is normalization.
type RawCaseDetail struct {
	Source   models.CourtSource
	Identity models.CaseIdentity

	// Fields holds scalar values keyed by source-specific labels.
	Fields map[string]string
	// Hearings and Orders are row-shaped extractions of the source's
	// history tables, keys again source-specific.
	Hearings []map[string]string
	Orders   []map[string]string

	// Payload is the untouched source response for auditing.
	Payload json.RawMessage
}

// Adapter is the stable per-source contract. Both methods fail with a typed
// *Error rather than an unchecked fault, and both honor ctx cancellation.
type Adapter interface {
	Source() models.CourtSource
	Search(ctx context.Context, criteria SearchCriteria) ([]RawCaseMatch, error)
	Fetch(ctx context.Context, identity models.CaseIdentity) (*RawCaseDetail, error)
}

// WithTimeout derives the per-call context every adapter applies before
// touching the network. A hang on one source must not block others.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
