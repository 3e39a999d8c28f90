// README: Point-in-time queue statistics and health label.
package dispatch

import (
	"context"
	"time"

	"sahay/internal/modules/task"
)

const (
	healthWarningOverdue  = 1
	healthCriticalOverdue = 5
)

type Stats struct {
	Pending        int    `json:"pending"`
	Assigned       int    `json:"assigned"`
	InProgress     int    `json:"in_progress"`
	CompletedToday int    `json:"completed_24h"`
	Overdue        int    `json:"overdue"`
	Health         string `json:"health"`
}

// Stats snapshots queue depth and derives a health label from the overdue
// count: none = healthy, up to 5 = warning, more = critical.
func (p *Processor) Stats(ctx context.Context) (Stats, error) {
	counts, err := p.tasks.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := p.now()
	completed, err := p.tasks.CompletedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return Stats{}, err
	}
	overdue, err := p.tasks.OverdueBefore(ctx, now.Add(-time.Duration(p.cfg.TaskExpiryMinutes)*time.Minute))
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		Pending:        counts[task.StatusPending],
		Assigned:       counts[task.StatusAssigned],
		InProgress:     counts[task.StatusInProgress],
		CompletedToday: completed,
		Overdue:        len(overdue),
	}
	switch {
	case s.Overdue >= healthCriticalOverdue:
		s.Health = "critical"
	case s.Overdue >= healthWarningOverdue:
		s.Health = "warning"
	default:
		s.Health = "healthy"
	}
	return s, nil
}
