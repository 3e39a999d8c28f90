// README: Request intake; creates the request, generates its work items, and tries an immediate match.
package intake

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sahay/internal/modules/assignment"
	"sahay/internal/modules/request"
	"sahay/internal/modules/task"
	"sahay/internal/types"
)

type CreateCommand struct {
	PassengerName  string
	Kind           request.Kind
	VehicleID      string
	PickupStation  string
	DropStation    string
	TravelDate     string
	SpecialDay     bool
	BufferOverride *int
}

type CreateResult struct {
	Request    *request.ServiceRequest
	Tasks      []task.WorkItem
	TaskErrors []string
}

type Service struct {
	requests  request.Store
	generator *task.Generator
	assigner  *assignment.Service
	log       zerolog.Logger
}

func NewService(requests request.Store, generator *task.Generator, assigner *assignment.Service, log zerolog.Logger) *Service {
	return &Service{requests: requests, generator: generator, assigner: assigner, log: log}
}

// Create persists the request and decomposes it into work items. Placement
// failures reject the request as a whole; per-item persistence failures are
// returned alongside the items that did get created. Each created item gets
// one immediate assignment attempt; no supply is not an error here, the
// queue processor keeps retrying.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (CreateResult, error) {
	req := &request.ServiceRequest{
		ID:            types.NewID(),
		PassengerName: cmd.PassengerName,
		Kind:          cmd.Kind,
		VehicleID:     cmd.VehicleID,
		PickupStation: cmd.PickupStation,
		DropStation:   cmd.DropStation,
		TravelDate:    cmd.TravelDate,
		SpecialDay:    cmd.SpecialDay,
		Status:        request.StatusSearching,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return CreateResult{}, err
	}

	result, err := s.generator.Generate(ctx, req, task.GenerateOptions{
		BufferOverride: cmd.BufferOverride,
		SpecialDay:     cmd.SpecialDay,
	})
	if err != nil {
		if stErr := s.requests.UpdateStatus(ctx, req.ID, request.StatusRejected); stErr != nil {
			s.log.Warn().Err(stErr).Str("request_id", string(req.ID)).Msg("reject status update failed")
		}
		return CreateResult{Request: req}, err
	}

	for i := range result.Created {
		item := &result.Created[i]
		if _, err := s.assigner.AutoAssign(ctx, item); err != nil {
			if !errors.Is(err, assignment.ErrNoCandidates) {
				s.log.Warn().Err(err).Str("task_id", string(item.ID)).Msg("immediate assignment failed")
			}
		}
	}

	req, err = s.requests.Get(ctx, req.ID)
	if err != nil {
		return CreateResult{Tasks: result.Created, TaskErrors: result.Errors}, err
	}
	return CreateResult{Request: req, Tasks: result.Created, TaskErrors: result.Errors}, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*request.ServiceRequest, error) {
	return s.requests.Get(ctx, id)
}
