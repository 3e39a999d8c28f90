// README: Live vehicle status source abstraction.
package delay

import (
	"context"
	"time"
)

// LiveStatus is a point-in-time reading from the external vehicle status
// feed.
type LiveStatus struct {
	VehicleID    string    `json:"vehicle_id"`
	DelayMinutes int       `json:"delay_minutes"`
	IsRunning    bool      `json:"is_running"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// StatusSource fetches live delay for one vehicle. Pluggable: the real feed
// lives outside this core.
type StatusSource interface {
	FetchLiveStatus(ctx context.Context, vehicleID string) (LiveStatus, error)
}

// SourceFunc adapts a function to StatusSource.
type SourceFunc func(ctx context.Context, vehicleID string) (LiveStatus, error)

func (f SourceFunc) FetchLiveStatus(ctx context.Context, vehicleID string) (LiveStatus, error) {
	return f(ctx, vehicleID)
}
