// README: Assignment matcher/executor; persists assignments and keeps the parent request consistent.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sahay/internal/config"
	"sahay/internal/events"
	"sahay/internal/modules/request"
	"sahay/internal/modules/task"
	"sahay/internal/modules/worker"
	"sahay/internal/types"
)

var (
	ErrConflict     = errors.New("work item state conflict")
	ErrInvalidState = errors.New("invalid work item state")
	ErrNotAssigned  = errors.New("work item has no assigned worker")
	ErrNoCandidates = errors.New("no eligible worker available")
)

type AssignOptions struct {
	SkipValidation    bool
	AllowCrossStation bool
	Note              string
}

type Service struct {
	tasks     task.Store
	workers   worker.Store
	requests  request.Store
	validator *Validator
	bus       *events.Bus
	cfg       config.SchedulingConfig
	log       zerolog.Logger
}

func NewService(tasks task.Store, workers worker.Store, requests request.Store, bus *events.Bus, cfg config.SchedulingConfig, log zerolog.Logger) *Service {
	return &Service{
		tasks:     tasks,
		workers:   workers,
		requests:  requests,
		validator: NewValidator(tasks, workers),
		bus:       bus,
		cfg:       cfg,
		log:       log,
	}
}

// Validate runs the constraint checks by ID without mutating anything.
func (s *Service) Validate(ctx context.Context, taskID, workerID types.ID, opts ValidateOptions) (Validation, error) {
	item, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return Validation{}, err
	}
	candidate, err := s.workers.Get(ctx, workerID)
	if err != nil && !errors.Is(err, worker.ErrNotFound) {
		return Validation{}, err
	}
	return s.validator.Validate(ctx, item, candidate, opts)
}

// Assign commits workerID to taskID. The status flip is a conditional
// update from pending, so a concurrent assignment loses cleanly with
// ErrConflict and nothing mutated. If marking the worker busy fails after
// the flip, the flip is compensated back to pending.
func (s *Service) Assign(ctx context.Context, taskID, workerID types.ID, opts AssignOptions) (*task.WorkItem, Validation, error) {
	item, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, Validation{}, err
	}
	candidate, err := s.workers.Get(ctx, workerID)
	if err != nil && !errors.Is(err, worker.ErrNotFound) {
		return nil, Validation{}, err
	}

	var vd Validation
	if !opts.SkipValidation {
		vd, err = s.validator.Validate(ctx, item, candidate, ValidateOptions{AllowCrossStation: opts.AllowCrossStation})
		if err != nil {
			return nil, Validation{}, err
		}
		if !vd.Valid {
			return nil, vd, ErrValidation
		}
	} else if candidate == nil {
		return nil, Validation{}, worker.ErrNotFound
	}

	ok, err := s.tasks.UpdateStatus(ctx, item.ID, task.StatusPending, task.StatusAssigned, item.StatusVersion, &workerID)
	if err != nil {
		return nil, vd, err
	}
	if !ok {
		return nil, vd, ErrConflict
	}

	if err := s.workers.SetBusy(ctx, workerID, item.ID); err != nil {
		// Compensate: hand the item back rather than leave it pointing at a
		// worker whose busy flag never stuck.
		if _, revertErr := s.tasks.UpdateStatus(ctx, item.ID, task.StatusAssigned, task.StatusPending, item.StatusVersion+1, nil); revertErr != nil {
			s.log.Error().Err(revertErr).Str("task_id", string(item.ID)).Msg("compensating unassign failed")
		}
		return nil, vd, fmt.Errorf("mark worker busy: %w", err)
	}

	note := fmt.Sprintf("assigned to worker %s", workerID)
	if opts.Note != "" {
		note += ": " + opts.Note
	}
	if err := s.tasks.AppendNote(ctx, item.ID, auditLine(note)); err != nil {
		s.log.Warn().Err(err).Str("task_id", string(item.ID)).Msg("audit note failed")
	}
	if err := s.requests.SetWorker(ctx, item.RequestID, &workerID); err != nil {
		s.log.Warn().Err(err).Str("request_id", string(item.RequestID)).Msg("request worker update failed")
	}
	if err := s.RecomputeRequestStatus(ctx, item.RequestID); err != nil {
		s.log.Warn().Err(err).Str("request_id", string(item.RequestID)).Msg("aggregate status recompute failed")
	}

	s.bus.Publish(events.Event{
		Type:      events.TaskAssigned,
		TaskID:    item.ID,
		RequestID: item.RequestID,
		WorkerID:  workerID,
		VehicleID: item.VehicleID,
		Station:   item.Station,
	})
	out, err := s.tasks.Get(ctx, item.ID)
	return out, vd, err
}

// Unassign releases the item's worker and returns it to the pending pool.
// Calling it on an unassigned item is an error and changes nothing.
func (s *Service) Unassign(ctx context.Context, taskID types.ID, reason string) (*task.WorkItem, error) {
	item, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if item.WorkerID == nil {
		return nil, ErrNotAssigned
	}
	if !task.CanTransition(item.Status, task.StatusPending) {
		return nil, ErrInvalidState
	}
	workerID := *item.WorkerID

	ok, err := s.tasks.UpdateStatus(ctx, item.ID, item.Status, task.StatusPending, item.StatusVersion, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	if err := s.workers.Release(ctx, workerID); err != nil {
		s.log.Warn().Err(err).Str("worker_id", string(workerID)).Msg("worker release failed")
	}
	if err := s.tasks.AppendNote(ctx, item.ID, auditLine("unassigned: "+reason)); err != nil {
		s.log.Warn().Err(err).Str("task_id", string(item.ID)).Msg("audit note failed")
	}
	if err := s.RecomputeRequestStatus(ctx, item.RequestID); err != nil {
		s.log.Warn().Err(err).Str("request_id", string(item.RequestID)).Msg("aggregate status recompute failed")
	}
	return s.tasks.Get(ctx, taskID)
}

// AutoAssign ranks the eligible workers at the item's station and commits
// the best candidate. Candidates losing a race or failing validation are
// skipped in rank order.
func (s *Service) AutoAssign(ctx context.Context, item *task.WorkItem) (*task.WorkItem, error) {
	candidates, err := s.workers.AtStation(ctx, item.Station)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	openCounts := make(map[types.ID]int, len(candidates))
	eligible := candidates[:0]
	for _, c := range candidates {
		if !c.Assignable() {
			continue
		}
		open, err := s.tasks.OpenByWorker(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("open assignments for %s: %w", c.ID, err)
		}
		if s.cfg.MaxTasksPerWorker > 0 && len(open) >= s.cfg.MaxTasksPerWorker {
			continue
		}
		openCounts[c.ID] = len(open)
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil, ErrNoCandidates
	}

	for _, c := range worker.Rank(eligible, openCounts) {
		assigned, _, err := s.Assign(ctx, item.ID, c.ID, AssignOptions{
			AllowCrossStation: s.cfg.AllowCrossStation,
			Note:              "auto-assigned",
		})
		if err == nil {
			return assigned, nil
		}
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) {
			continue
		}
		return nil, err
	}
	return nil, ErrNoCandidates
}

// Start marks an assigned item as underway (worker action).
func (s *Service) Start(ctx context.Context, taskID types.ID) (*task.WorkItem, error) {
	return s.transition(ctx, taskID, task.StatusAssigned, task.StatusInProgress, "work started")
}

// Complete finishes an in-progress item and releases its worker.
func (s *Service) Complete(ctx context.Context, taskID types.ID) (*task.WorkItem, error) {
	item, err := s.transition(ctx, taskID, task.StatusInProgress, task.StatusCompleted, "work completed")
	if err != nil {
		return nil, err
	}
	if item.WorkerID != nil {
		if err := s.workers.Release(ctx, *item.WorkerID); err != nil {
			s.log.Warn().Err(err).Str("worker_id", string(*item.WorkerID)).Msg("worker release failed")
		}
	}
	return item, nil
}

// Cancel voids an item from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, taskID types.ID, reason string) (*task.WorkItem, error) {
	item, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if item.Status.Terminal() {
		return nil, ErrInvalidState
	}
	ok, err := s.tasks.UpdateStatus(ctx, item.ID, item.Status, task.StatusCancelled, item.StatusVersion, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	if item.WorkerID != nil {
		if err := s.workers.Release(ctx, *item.WorkerID); err != nil {
			s.log.Warn().Err(err).Str("worker_id", string(*item.WorkerID)).Msg("worker release failed")
		}
	}
	if err := s.tasks.AppendNote(ctx, item.ID, auditLine("cancelled: "+reason)); err != nil {
		s.log.Warn().Err(err).Str("task_id", string(item.ID)).Msg("audit note failed")
	}
	if err := s.RecomputeRequestStatus(ctx, item.RequestID); err != nil {
		s.log.Warn().Err(err).Str("request_id", string(item.RequestID)).Msg("aggregate status recompute failed")
	}
	return s.tasks.Get(ctx, taskID)
}

func (s *Service) transition(ctx context.Context, taskID types.ID, from, to task.Status, note string) (*task.WorkItem, error) {
	item, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if item.Status != from {
		return nil, ErrInvalidState
	}
	ok, err := s.tasks.UpdateStatus(ctx, item.ID, from, to, item.StatusVersion, item.WorkerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	if err := s.tasks.AppendNote(ctx, item.ID, auditLine(note)); err != nil {
		s.log.Warn().Err(err).Str("task_id", string(item.ID)).Msg("audit note failed")
	}
	if err := s.RecomputeRequestStatus(ctx, item.RequestID); err != nil {
		s.log.Warn().Err(err).Str("request_id", string(item.RequestID)).Msg("aggregate status recompute failed")
	}
	return s.tasks.Get(ctx, taskID)
}

// RecomputeRequestStatus derives the request's aggregate status from the
// full set of its work items.
func (s *Service) RecomputeRequestStatus(ctx context.Context, requestID types.ID) error {
	items, err := s.tasks.ByRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	allCompleted, anyCancelled, anyInProgress := true, false, false
	atLeastAssigned := 0
	for i := range items {
		switch items[i].Status {
		case task.StatusCompleted:
			atLeastAssigned++
		case task.StatusCancelled:
			anyCancelled = true
			allCompleted = false
		case task.StatusInProgress:
			anyInProgress = true
			allCompleted = false
			atLeastAssigned++
		case task.StatusAssigned:
			allCompleted = false
			atLeastAssigned++
		default:
			allCompleted = false
		}
	}

	var status request.Status
	switch {
	case allCompleted:
		status = request.StatusCompleted
	case anyCancelled:
		status = request.StatusCancelled
	case anyInProgress:
		status = request.StatusInProgress
	case atLeastAssigned == len(items):
		status = request.StatusAccepted
	default:
		status = request.StatusSearching
	}
	return s.requests.UpdateStatus(ctx, requestID, status)
}

func auditLine(msg string) string {
	return time.Now().UTC().Format(time.RFC3339) + " " + msg
}
