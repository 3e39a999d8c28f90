// README: Assignment constraint checks; hard failures block, warnings surface.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sahay/internal/modules/task"
	"sahay/internal/modules/worker"
)

// overlapWindow is the double-booking window checked around the item's
// scheduled time.
const overlapWindow = 30 * time.Minute

type ValidateOptions struct {
	// AllowCrossStation lets a worker take an item at a station other than
	// their home station.
	AllowCrossStation bool
}

// Validation separates blocking errors from advisory warnings.
type Validation struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

type Validator struct {
	tasks   task.Store
	workers worker.Store
}

func NewValidator(tasks task.Store, workers worker.Store) *Validator {
	return &Validator{tasks: tasks, workers: workers}
}

// Validate checks candidate against item. Round-trip sequencing is enforced
// here: the drop item cannot be committed until the sibling pickup has
// completed, and one worker never holds both halves.
func (v *Validator) Validate(ctx context.Context, item *task.WorkItem, candidate *worker.Worker, opts ValidateOptions) (Validation, error) {
	var out Validation

	if item.Status.Terminal() {
		out.Errors = append(out.Errors, fmt.Sprintf("work item is %s", item.Status))
	}
	if candidate == nil {
		out.Errors = append(out.Errors, "worker not found")
		return out, nil
	}
	if !candidate.Approved {
		out.Errors = append(out.Errors, "worker is not approved")
	}
	if !candidate.Eligible {
		out.Errors = append(out.Errors, "worker is not eligible for new work")
	}
	if candidate.Station != item.Station && !opts.AllowCrossStation {
		out.Errors = append(out.Errors, fmt.Sprintf("worker station %q does not match task station %q", candidate.Station, item.Station))
	}

	siblings, err := v.tasks.ByRequest(ctx, item.RequestID)
	if err != nil {
		return out, fmt.Errorf("load siblings: %w", err)
	}
	for i := range siblings {
		sib := &siblings[i]
		if sib.ID == item.ID {
			continue
		}
		if sib.WorkerID != nil && *sib.WorkerID == candidate.ID {
			out.Errors = append(out.Errors, "worker already holds the other half of this round trip")
		}
		if item.Kind == task.KindDrop && sib.Kind == task.KindPickup && sib.Status != task.StatusCompleted {
			out.Errors = append(out.Errors, "drop cannot be assigned before the pickup completes")
		}
	}

	open, err := v.tasks.OpenByWorker(ctx, candidate.ID)
	if err != nil {
		return out, fmt.Errorf("load open assignments: %w", err)
	}
	for i := range open {
		o := &open[i]
		if o.ID == item.ID {
			continue
		}
		gap := o.ScheduledAt.Sub(item.ScheduledAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= overlapWindow {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("worker has task %s scheduled within %d minutes", o.ID, int(gap.Minutes())))
		}
	}

	out.Valid = len(out.Errors) == 0
	return out, nil
}

// ErrValidation marks an assignment rejected by constraints rather than a
// storage failure.
var ErrValidation = errors.New("assignment validation failed")
