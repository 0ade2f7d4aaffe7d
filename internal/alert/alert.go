// Package alert carries change notifications out of the scheduler. Dispatch
// is fire-and-forget from the scheduler's point of view: failures are logged
// by the caller, never retried within a pass.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"

	"casewatch/internal/cases/models"
)

// ChangeKind names what changed on a refreshed case.
type ChangeKind string

const (
	HearingDateChanged ChangeKind = "hearingDateChanged"
	StatusChanged      ChangeKind = "statusChanged"
)

// Alert is one change event for a tracked case.
type Alert struct {
	TrackedCaseID uuid.UUID           `json:"trackedCaseId"`
	Identity      models.CaseIdentity `json:"identity"`
	ChangeKind    ChangeKind          `json:"changeKind"`
	OldValue      string              `json:"oldValue"`
	NewValue      string              `json:"newValue"`
	At            time.Time           `json:"at"`
}

// Dispatcher delivers alerts to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, a Alert) error
}

// DispatcherFunc adapts a function into a Dispatcher.
type DispatcherFunc func(ctx context.Context, a Alert) error

func (f DispatcherFunc) Dispatch(ctx context.Context, a Alert) error {
	return f(ctx, a)
}
