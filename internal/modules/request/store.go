// README: Service request stores (PostgreSQL + in-memory).
package request

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sahay/internal/types"
)

var ErrNotFound = errors.New("request not found")

type Store interface {
	Create(ctx context.Context, r *ServiceRequest) error
	Get(ctx context.Context, id types.ID) (*ServiceRequest, error)
	UpdateStatus(ctx context.Context, id types.ID, status Status) error
	SetWorker(ctx context.Context, id types.ID, workerID *types.ID) error
	IncrementAttempts(ctx context.Context, id types.ID) (int, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, r *ServiceRequest) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO service_requests (
            id, passenger_name, kind, vehicle_id, pickup_station, drop_station,
            travel_date, special_day, status, attempts, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		string(r.ID), r.PassengerName, string(r.Kind), r.VehicleID,
		r.PickupStation, r.DropStation, r.TravelDate, r.SpecialDay,
		string(r.Status), r.Attempts, r.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*ServiceRequest, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, passenger_name, kind, vehicle_id, pickup_station, drop_station,
               travel_date, special_day, status, worker_id, attempts, created_at, updated_at
        FROM service_requests
        WHERE id = $1`, string(id),
	)
	var r ServiceRequest
	var workerID *string
	err := row.Scan(
		&r.ID, &r.PassengerName, &r.Kind, &r.VehicleID, &r.PickupStation, &r.DropStation,
		&r.TravelDate, &r.SpecialDay, &r.Status, &workerID, &r.Attempts, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if workerID != nil {
		w := types.ID(*workerID)
		r.WorkerID = &w
	}
	return &r, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, status Status) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE service_requests SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetWorker(ctx context.Context, id types.ID, workerID *types.ID) error {
	var w *string
	if workerID != nil {
		v := string(*workerID)
		w = &v
	}
	tag, err := s.db.Exec(ctx, `
        UPDATE service_requests SET worker_id = $1, updated_at = NOW() WHERE id = $2`,
		w, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) IncrementAttempts(ctx context.Context, id types.ID) (int, error) {
	row := s.db.QueryRow(ctx, `
        UPDATE service_requests SET attempts = attempts + 1, updated_at = NOW()
        WHERE id = $1
        RETURNING attempts`, string(id),
	)
	var attempts int
	err := row.Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return attempts, err
}

// MemoryStore backs tests and dev mode.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[types.ID]ServiceRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[types.ID]ServiceRequest)}
}

func (s *MemoryStore) Create(_ context.Context, r *ServiceRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.requests[r.ID] = *r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := r
	return &out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id types.ID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	s.requests[id] = r
	return nil
}

func (s *MemoryStore) SetWorker(_ context.Context, id types.ID, workerID *types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.WorkerID = workerID
	r.UpdatedAt = time.Now().UTC()
	s.requests[id] = r
	return nil
}

func (s *MemoryStore) IncrementAttempts(_ context.Context, id types.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return 0, ErrNotFound
	}
	r.Attempts++
	r.UpdatedAt = time.Now().UTC()
	s.requests[id] = r
	return r.Attempts, nil
}
