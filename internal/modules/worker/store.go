// README: Worker stores (PostgreSQL + in-memory).
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sahay/internal/types"
)

var ErrNotFound = errors.New("worker not found")

type Store interface {
	Create(ctx context.Context, w *Worker) error
	Get(ctx context.Context, id types.ID) (*Worker, error)
	AtStation(ctx context.Context, station string) ([]Worker, error)
	SetBusy(ctx context.Context, id types.ID, taskID types.ID) error
	Release(ctx context.Context, id types.ID) error
	SetOnline(ctx context.Context, id types.ID, online bool) error
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, w *Worker) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO workers (
            id, name, station, approved, eligible, online,
            rating, experience_years, completed_count, last_online_at, languages
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(w.ID), w.Name, w.Station, w.Approved, w.Eligible, w.Online,
		w.Rating, w.ExperienceYears, w.CompletedCount, w.LastOnlineAt, w.Languages,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Worker, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, name, station, approved, eligible, online, current_task_id,
               rating, experience_years, completed_count, last_online_at, languages
        FROM workers
        WHERE id = $1`, string(id),
	)
	w, err := scanWorker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

func (s *PGStore) AtStation(ctx context.Context, station string) ([]Worker, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, name, station, approved, eligible, online, current_task_id,
               rating, experience_years, completed_count, last_online_at, languages
        FROM workers
        WHERE station = $1 AND approved = TRUE`, station,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

func (s *PGStore) SetBusy(ctx context.Context, id types.ID, taskID types.ID) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE workers SET eligible = FALSE, current_task_id = $1 WHERE id = $2`,
		string(taskID), string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Release(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE workers SET eligible = TRUE, current_task_id = NULL WHERE id = $1`,
		string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetOnline(ctx context.Context, id types.ID, online bool) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE workers SET online = $1, last_online_at = CASE WHEN $1 THEN NOW() ELSE last_online_at END
        WHERE id = $2`,
		online, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorker(row rowScanner) (*Worker, error) {
	var w Worker
	var taskID *string
	err := row.Scan(
		&w.ID, &w.Name, &w.Station, &w.Approved, &w.Eligible, &w.Online, &taskID,
		&w.Rating, &w.ExperienceYears, &w.CompletedCount, &w.LastOnlineAt, &w.Languages,
	)
	if err != nil {
		return nil, err
	}
	if taskID != nil {
		t := types.ID(*taskID)
		w.CurrentTaskID = &t
	}
	return &w, nil
}

// MemoryStore backs tests and dev mode.
type MemoryStore struct {
	mu      sync.Mutex
	workers map[types.ID]Worker
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workers: make(map[types.ID]Worker)}
}

func (s *MemoryStore) Create(_ context.Context, w *Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = *w
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := w
	return &out, nil
}

func (s *MemoryStore) AtStation(_ context.Context, station string) ([]Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var workers []Worker
	for _, w := range s.workers {
		if w.Station == station && w.Approved {
			workers = append(workers, w)
		}
	}
	return workers, nil
}

func (s *MemoryStore) SetBusy(_ context.Context, id types.ID, taskID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return ErrNotFound
	}
	w.Eligible = false
	t := taskID
	w.CurrentTaskID = &t
	s.workers[id] = w
	return nil
}

func (s *MemoryStore) Release(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return ErrNotFound
	}
	w.Eligible = true
	w.CurrentTaskID = nil
	s.workers[id] = w
	return nil
}

func (s *MemoryStore) SetOnline(_ context.Context, id types.ID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return ErrNotFound
	}
	w.Online = online
	if online {
		w.LastOnlineAt = time.Now().UTC()
	}
	s.workers[id] = w
	return nil
}
