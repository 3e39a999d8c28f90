// README: Background queue processor; assigns, escalates, expires, and SLA-checks pending work.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sahay/internal/config"
	"sahay/internal/events"
	"sahay/internal/modules/assignment"
	"sahay/internal/modules/request"
	"sahay/internal/modules/task"
	"sahay/internal/types"
)

type Processor struct {
	tasks    task.Store
	requests request.Store
	assigner *assignment.Service
	bus      *events.Bus
	cfg      config.SchedulingConfig
	log      zerolog.Logger
	now      func() time.Time

	// overdueSeen holds the items already reported overdue, so the event
	// fires once per item and not on every sweep. Entries drop out when the
	// item leaves the overdue set (cancelled, completed, rescheduled).
	overdueSeen map[types.ID]bool
}

func NewProcessor(tasks task.Store, requests request.Store, assigner *assignment.Service, bus *events.Bus, cfg config.SchedulingConfig, log zerolog.Logger) *Processor {
	return &Processor{
		tasks:    tasks,
		requests: requests,
		assigner: assigner,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },

		overdueSeen: make(map[types.ID]bool),
	}
}

// Run sweeps on a fixed interval until ctx is cancelled. Errors are logged
// and retried on the next tick; the loop never halts.
func (p *Processor) Run(ctx context.Context) {
	interval := time.Duration(p.cfg.ProcessTickSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", interval).Msg("queue processor started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("queue processor stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one full sweep: auto-assignment, expiry, and SLA checks.
// Exported so tests (and operators) can drive single sweeps.
func (p *Processor) Tick(ctx context.Context) {
	if err := p.sweepPending(ctx); err != nil {
		p.log.Error().Err(err).Msg("pending sweep failed")
	}
	if err := p.sweepOverdue(ctx); err != nil {
		p.log.Error().Err(err).Msg("overdue sweep failed")
	}
	if err := p.sweepSLA(ctx); err != nil {
		p.log.Error().Err(err).Msg("sla sweep failed")
	}
}

func (p *Processor) sweepPending(ctx context.Context) error {
	now := p.now()
	until := now.Add(time.Duration(p.cfg.LookaheadHours) * time.Hour)
	items, err := p.tasks.PendingWithin(ctx, until, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.processPending(ctx, &items[i], now); err != nil {
			p.log.Error().Err(err).Str("task_id", string(items[i].ID)).Msg("pending item failed")
		}
	}
	return nil
}

func (p *Processor) processPending(ctx context.Context, item *task.WorkItem, now time.Time) error {
	parent, err := p.requests.Get(ctx, item.RequestID)
	if err != nil {
		return err
	}

	// A dead parent takes its open items with it.
	if parent.Status == request.StatusCancelled || parent.Status == request.StatusRejected {
		_, err := p.assigner.Cancel(ctx, item.ID, "parent request "+string(parent.Status))
		return err
	}

	// Round-trip continuity: a parent that already has a worker hands that
	// worker to this item without competitive matching. If that worker no
	// longer validates, fall through to matching instead of wedging the item.
	if parent.WorkerID != nil {
		_, _, err := p.assigner.Assign(ctx, item.ID, *parent.WorkerID, assignment.AssignOptions{
			AllowCrossStation: true,
			Note:              "adopted from round-trip sibling",
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, assignment.ErrValidation) && !errors.Is(err, assignment.ErrConflict) {
			return err
		}
	}

	// Pickups are matched unconditionally; they gate round-trip progression.
	windowStart := item.ScheduledAt.Add(-time.Duration(p.cfg.AutoAssignWindowMinutes) * time.Minute)
	if item.Kind != task.KindPickup && now.Before(windowStart) {
		return nil
	}

	_, err = p.assigner.AutoAssign(ctx, item)
	if err == nil {
		return nil
	}
	if !errors.Is(err, assignment.ErrNoCandidates) {
		return err
	}

	// No supply: never cancel for it, but make noise when the deadline is
	// close and when the request has been retried past the attempt cap.
	if item.ScheduledAt.Sub(now) <= time.Duration(p.cfg.EscalationThresholdMinutes)*time.Minute {
		p.bus.Publish(events.Event{
			Type:      events.Escalation,
			TaskID:    item.ID,
			RequestID: item.RequestID,
			VehicleID: item.VehicleID,
			Station:   item.Station,
			Reason:    "no eligible worker before deadline",
		})
	}
	attempts, err := p.requests.IncrementAttempts(ctx, item.RequestID)
	if err != nil {
		return err
	}
	if attempts == p.cfg.MaxAssignAttempts {
		p.bus.Publish(events.Event{
			Type:      events.CapacityWarning,
			TaskID:    item.ID,
			RequestID: item.RequestID,
			Station:   item.Station,
			Reason:    "assignment attempts exhausted",
		})
	}
	return nil
}

func (p *Processor) sweepOverdue(ctx context.Context) error {
	now := p.now()
	expiry := time.Duration(p.cfg.TaskExpiryMinutes) * time.Minute
	items, err := p.tasks.OverdueBefore(ctx, now.Add(-expiry))
	if err != nil {
		return err
	}

	seen := make(map[types.ID]bool, len(items))
	for i := range items {
		item := &items[i]
		seen[item.ID] = true
		if !p.overdueSeen[item.ID] {
			p.bus.Publish(events.Event{
				Type:      events.TaskOverdue,
				TaskID:    item.ID,
				RequestID: item.RequestID,
				VehicleID: item.VehicleID,
				Station:   item.Station,
				Reason:    "scheduled time passed",
			})
		}
		if item.ScheduledAt.Before(now.Add(-2 * expiry)) {
			if _, err := p.assigner.Cancel(ctx, item.ID, "expired: scheduled time long past"); err != nil {
				p.log.Error().Err(err).Str("task_id", string(item.ID)).Msg("force-cancel failed")
			}
		}
	}
	p.overdueSeen = seen
	return nil
}

func (p *Processor) sweepSLA(ctx context.Context) error {
	cutoff := p.now().Add(-time.Duration(p.cfg.MaxTaskDurationMinutes) * time.Minute)
	items, err := p.tasks.StaleInProgress(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range items {
		item := &items[i]
		p.bus.Publish(events.Event{
			Type:      events.SLAViolation,
			TaskID:    item.ID,
			RequestID: item.RequestID,
			Station:   item.Station,
			Reason:    "in progress past max task duration",
		})
	}
	return nil
}
