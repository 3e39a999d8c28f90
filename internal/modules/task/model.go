// README: Work item model and status transition table.
package task

import (
	"time"

	"sahay/internal/types"
)

// Kind is the concrete field action. Typed so new kinds are a
// compiler-checked exercise, not a string comparison audit.
type Kind string

const (
	KindPickup Kind = "pickup"
	KindDrop   Kind = "drop"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AllowedTransitions represents the work item state flow as code.
// assigned → pending is the unassign path.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusPending, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// WorkItem is one time-anchored unit of field work derived from a service
// request. WorkerArrivalAt is always ScheduledAt or earlier; the gap is the
// buffer.
type WorkItem struct {
	ID              types.ID
	RequestID       types.ID
	Kind            Kind
	Station         string
	VehicleID       string
	Sequence        int // 1 = pickup, 2 = drop for round trips
	ScheduledAt     time.Time
	WorkerArrivalAt time.Time
	BufferMinutes   int
	BufferReason    string
	Status          Status
	StatusVersion   int
	WorkerID        *types.ID
	AssignedAt      *time.Time
	Notes           string // append-only audit trail
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
