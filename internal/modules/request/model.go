// README: Service request aggregate and status definitions.
package request

import (
	"time"

	"sahay/internal/types"
)

// Kind is the requested service shape.
type Kind string

const (
	KindPickup    Kind = "pickup"
	KindDrop      Kind = "drop"
	KindRoundTrip Kind = "round_trip"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPickup, KindDrop, KindRoundTrip:
		return true
	}
	return false
}

// Status is the request's aggregate lifecycle, recomputed from its work
// items. Distinct from the per-item status.
type Status string

const (
	StatusSearching  Status = "searching"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// ServiceRequest is a passenger's booking for platform assistance.
type ServiceRequest struct {
	ID            types.ID
	PassengerName string
	Kind          Kind
	VehicleID     string
	PickupStation string
	DropStation   string
	TravelDate    string // "2006-01-02"
	SpecialDay    bool
	Status        Status
	WorkerID      *types.ID // worker adopted by round-trip siblings
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
