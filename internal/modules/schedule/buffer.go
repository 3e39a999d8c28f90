// README: Pure buffer arithmetic; how early a worker must be in position.
package schedule

import (
	"fmt"
	"time"

	"sahay/internal/config"
	"sahay/internal/modules/route"
)

// Buffer is the computed lead time plus the reason it was chosen, kept for
// the task's audit trail.
type Buffer struct {
	Minutes int
	Reason  string
}

// ComputeBuffer starts from the per-station-type base (an explicit override
// replaces the base entirely), adds the peak-hour increment when the
// scheduled hour falls in a configured window, adds the special-day
// increment when flagged, and clamps to [min, max].
func ComputeBuffer(cfg config.SchedulingConfig, stationType route.StationType, scheduledAt time.Time, specialDay bool, override *int) Buffer {
	var minutes int
	var reason string
	if override != nil {
		minutes = *override
		reason = "override"
	} else {
		base, ok := cfg.BufferMinutes[string(stationType)]
		if !ok {
			base = cfg.BufferMinutes[string(route.StationRegular)]
		}
		minutes = base
		reason = "base:" + string(stationType)
	}

	if inPeak(cfg.PeakWindows, scheduledAt.Hour()) {
		minutes += cfg.PeakExtraMinutes
		reason += "+peak"
	}
	if specialDay {
		minutes += cfg.SpecialDayExtraMinutes
		reason += "+special_day"
	}

	if minutes < cfg.MinBufferMinutes {
		minutes = cfg.MinBufferMinutes
		reason += fmt.Sprintf("|clamped_min:%d", cfg.MinBufferMinutes)
	}
	if minutes > cfg.MaxBufferMinutes {
		minutes = cfg.MaxBufferMinutes
		reason += fmt.Sprintf("|clamped_max:%d", cfg.MaxBufferMinutes)
	}
	return Buffer{Minutes: minutes, Reason: reason}
}

// WorkerArrival is vehicleTime minus the buffer. A zero vehicleTime stays
// zero (no timetabled time, nothing to anchor to).
func WorkerArrival(vehicleTime time.Time, bufferMinutes int) time.Time {
	if vehicleTime.IsZero() {
		return time.Time{}
	}
	return vehicleTime.Add(-time.Duration(bufferMinutes) * time.Minute)
}

func inPeak(windows []config.PeakWindow, hour int) bool {
	for _, w := range windows {
		if hour >= w.StartHour && hour < w.EndHour {
			return true
		}
	}
	return false
}
