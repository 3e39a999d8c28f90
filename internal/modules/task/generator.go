// README: Task generator; turns a service request into one or two work items.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sahay/internal/config"
	"sahay/internal/modules/request"
	"sahay/internal/modules/route"
	"sahay/internal/modules/schedule"
	"sahay/internal/types"
)

var ErrInvalidRequest = errors.New("invalid service request")

// ValidationError carries every placement/input problem found before any
// item is created. If this is returned, nothing was persisted.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "task generation: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

type GenerateOptions struct {
	// BufferOverride replaces the station-type base buffer entirely.
	BufferOverride *int
	SpecialDay     bool
}

// Result reports what Generate persisted. Errors holds per-item persistence
// failures; callers reconcile, there is no automatic rollback.
type Result struct {
	Created []WorkItem
	Errors  []string
}

type Generator struct {
	routes *route.Lookup
	tasks  Store
	cfg    config.SchedulingConfig
	log    zerolog.Logger
}

func NewGenerator(routes *route.Lookup, tasks Store, cfg config.SchedulingConfig, log zerolog.Logger) *Generator {
	return &Generator{routes: routes, tasks: tasks, cfg: cfg, log: log}
}

// taskSpec is a validated, not-yet-persisted work item.
type taskSpec struct {
	kind     Kind
	station  string
	sequence int
	info     route.StopInfo
}

// Generate validates placement for every required task first (pickup must
// not be at the terminus, drop must not be at the origin) and persists only
// when the whole set is valid. A round trip yields sequence 1 = pickup,
// sequence 2 = drop.
func (g *Generator) Generate(ctx context.Context, req *request.ServiceRequest, opts GenerateOptions) (Result, error) {
	if req == nil || !req.Kind.Valid() {
		return Result{}, &ValidationError{Problems: []string{"unknown service kind"}}
	}
	if req.VehicleID == "" {
		return Result{}, &ValidationError{Problems: []string{"vehicle id is required"}}
	}
	if req.TravelDate == "" {
		return Result{}, &ValidationError{Problems: []string{"travel date is required"}}
	}

	var problems []string
	var specs []taskSpec

	needsPickup := req.Kind == request.KindPickup || req.Kind == request.KindRoundTrip
	needsDrop := req.Kind == request.KindDrop || req.Kind == request.KindRoundTrip

	if needsPickup {
		if req.PickupStation == "" {
			problems = append(problems, "pickup station is required")
		} else if spec, errs := g.buildSpec(ctx, req, KindPickup, req.PickupStation); len(errs) > 0 {
			problems = append(problems, errs...)
		} else {
			specs = append(specs, spec)
		}
	}
	if needsDrop {
		if req.DropStation == "" {
			problems = append(problems, "drop station is required")
		} else if spec, errs := g.buildSpec(ctx, req, KindDrop, req.DropStation); len(errs) > 0 {
			problems = append(problems, errs...)
		} else {
			specs = append(specs, spec)
		}
	}
	if req.Kind == request.KindRoundTrip && req.PickupStation != "" && req.PickupStation == req.DropStation {
		problems = append(problems, "round trip requires distinct pickup and drop stations")
	}
	if len(problems) > 0 {
		return Result{}, &ValidationError{Problems: problems}
	}

	for i := range specs {
		specs[i].sequence = i + 1
	}

	var result Result
	for _, spec := range specs {
		item, err := g.buildItem(req, spec, opts)
		if err == nil {
			err = g.tasks.Create(ctx, item)
		}
		if err != nil {
			g.log.Error().Err(err).
				Str("request_id", string(req.ID)).
				Str("kind", string(spec.kind)).
				Msg("work item creation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("%s at %s: %v", spec.kind, spec.station, err))
			continue
		}
		result.Created = append(result.Created, *item)
	}
	return result, nil
}

func (g *Generator) buildSpec(ctx context.Context, req *request.ServiceRequest, kind Kind, station string) (taskSpec, []string) {
	info, err := g.routes.StopInfo(ctx, req.VehicleID, station)
	if err != nil {
		return taskSpec{}, []string{fmt.Sprintf("%s at %s: %v", kind, station, err)}
	}
	if !info.Found {
		return taskSpec{}, []string{fmt.Sprintf("%s at %s: %s", kind, station, info.Reason)}
	}
	switch kind {
	case KindPickup:
		if info.IsTerminus {
			return taskSpec{}, []string{fmt.Sprintf("pickup at %s: boarding not possible at route terminus", station)}
		}
	case KindDrop:
		if info.IsOrigin {
			return taskSpec{}, []string{fmt.Sprintf("drop at %s: deboarding not possible at route origin", station)}
		}
	}
	return taskSpec{kind: kind, station: station, info: info}, nil
}

func (g *Generator) buildItem(req *request.ServiceRequest, spec taskSpec, opts GenerateOptions) (*WorkItem, error) {
	vehicleAt, err := spec.info.VehicleTime(req.TravelDate)
	if err != nil {
		return nil, err
	}
	buf := schedule.ComputeBuffer(g.cfg, spec.info.StationType, vehicleAt, opts.SpecialDay || req.SpecialDay, opts.BufferOverride)
	arrival := schedule.WorkerArrival(vehicleAt, buf.Minutes)

	// A pickup is anchored to the worker hand-off ahead of boarding; a drop
	// to the vehicle's own arrival.
	scheduledAt := vehicleAt
	if spec.kind == KindPickup {
		scheduledAt = arrival
	}

	now := time.Now().UTC()
	return &WorkItem{
		ID:              types.NewID(),
		RequestID:       req.ID,
		Kind:            spec.kind,
		Station:         spec.station,
		VehicleID:       req.VehicleID,
		Sequence:        spec.sequence,
		ScheduledAt:     scheduledAt,
		WorkerArrivalAt: arrival,
		BufferMinutes:   buf.Minutes,
		BufferReason:    buf.Reason,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
