// README: Delay tracker; shifts affected work when a vehicle runs late.
package delay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sahay/internal/config"
	"sahay/internal/events"
	"sahay/internal/modules/task"
)

type Tracker struct {
	tasks  task.Store
	source StatusSource
	cache  Cache
	bus    *events.Bus
	cfg    config.SchedulingConfig
	log    zerolog.Logger
	now    func() time.Time

	// applied is how many delay minutes each vehicle's items have already
	// been shifted by, so a persisting delay is not re-applied every tick.
	mu      sync.Mutex
	applied map[string]int
}

func NewTracker(tasks task.Store, source StatusSource, cache Cache, bus *events.Bus, cfg config.SchedulingConfig, log zerolog.Logger) *Tracker {
	return &Tracker{
		tasks:   tasks,
		source:  source,
		cache:   cache,
		bus:     bus,
		cfg:     cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		applied: make(map[string]int),
	}
}

// Run polls on a fixed interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	interval := time.Duration(t.cfg.DelayTickSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.log.Info().Dur("interval", interval).Msg("delay tracker started")
	for {
		select {
		case <-ctx.Done():
			t.log.Info().Msg("delay tracker stopped")
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick checks every vehicle with active near-term work against the live
// feed and reschedules when the delay crosses the threshold.
func (t *Tracker) Tick(ctx context.Context) {
	until := t.now().Add(time.Duration(t.cfg.LookaheadHours) * time.Hour)
	vehicles, err := t.tasks.ActiveVehicles(ctx, until)
	if err != nil {
		t.log.Error().Err(err).Msg("active vehicle scan failed")
		return
	}

	for _, vehicleID := range vehicles {
		if ctx.Err() != nil {
			return
		}
		if err := t.checkVehicle(ctx, vehicleID); err != nil {
			t.log.Error().Err(err).Str("vehicle_id", vehicleID).Msg("delay check failed")
		}
	}
}

func (t *Tracker) checkVehicle(ctx context.Context, vehicleID string) error {
	status, err := t.liveStatus(ctx, vehicleID)
	if err != nil {
		return err
	}
	if status.DelayMinutes < t.cfg.DelayRescheduleThresholdMinutes {
		return nil
	}

	t.mu.Lock()
	shift := status.DelayMinutes - t.applied[vehicleID]
	t.mu.Unlock()

	excessive := status.DelayMinutes >= t.cfg.DelayExcessiveThresholdMinutes
	if shift <= 0 && !excessive {
		return nil
	}

	items, err := t.tasks.ActiveByVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	for i := range items {
		item := &items[i]
		if shift > 0 {
			if err := t.reschedule(ctx, item, shift, status.DelayMinutes); err != nil {
				t.log.Error().Err(err).Str("task_id", string(item.ID)).Msg("reschedule failed")
				continue
			}
		}
		// Excessive delay signals manual intervention on top of the
		// reschedule; the tracker never auto-cancels.
		if excessive {
			t.bus.Publish(events.Event{
				Type:         events.ExcessiveDelay,
				TaskID:       item.ID,
				RequestID:    item.RequestID,
				VehicleID:    vehicleID,
				Station:      item.Station,
				DelayMinutes: status.DelayMinutes,
				Reason:       "delay exceeds excessive threshold",
			})
		}
	}
	if shift > 0 {
		t.mu.Lock()
		t.applied[vehicleID] = status.DelayMinutes
		t.mu.Unlock()
	}
	return nil
}

func (t *Tracker) reschedule(ctx context.Context, item *task.WorkItem, shiftMinutes, totalDelay int) error {
	delta := time.Duration(shiftMinutes) * time.Minute
	if err := t.tasks.Shift(ctx, item.ID, delta); err != nil {
		return err
	}
	note := fmt.Sprintf("%s rescheduled +%dm (vehicle delay %dm)",
		t.now().Format(time.RFC3339), shiftMinutes, totalDelay)
	if err := t.tasks.AppendNote(ctx, item.ID, note); err != nil {
		t.log.Warn().Err(err).Str("task_id", string(item.ID)).Msg("audit note failed")
	}
	t.bus.Publish(events.Event{
		Type:         events.TaskRescheduled,
		TaskID:       item.ID,
		RequestID:    item.RequestID,
		VehicleID:    item.VehicleID,
		Station:      item.Station,
		DelayMinutes: totalDelay,
		Reason:       "vehicle running late",
	})
	return nil
}

// liveStatus serves from the short-TTL cache when possible; a fetch is
// bounded so one slow feed call cannot stall the whole tick.
func (t *Tracker) liveStatus(ctx context.Context, vehicleID string) (LiveStatus, error) {
	if status, ok, err := t.cache.Get(ctx, vehicleID); err == nil && ok {
		return status, nil
	} else if err != nil {
		t.log.Warn().Err(err).Str("vehicle_id", vehicleID).Msg("delay cache read failed")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(t.cfg.DelayFetchTimeoutSeconds)*time.Second)
	defer cancel()
	status, err := t.source.FetchLiveStatus(fetchCtx, vehicleID)
	if err != nil {
		return LiveStatus{}, fmt.Errorf("fetch live status: %w", err)
	}
	status.VehicleID = vehicleID
	if status.FetchedAt.IsZero() {
		status.FetchedAt = t.now()
	}
	if err := t.cache.Set(ctx, vehicleID, status); err != nil {
		t.log.Warn().Err(err).Str("vehicle_id", vehicleID).Msg("delay cache write failed")
	}
	return status, nil
}
