// README: Work item store backed by PostgreSQL; status changes are conditional updates.
package task

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sahay/internal/types"
)

var ErrNotFound = errors.New("work item not found")

// Store is the storage contract the engine runs on. UpdateStatus is a
// compare-and-swap: it succeeds only if the item is still at (from,
// version), so at most one assignment wins per item.
type Store interface {
	Create(ctx context.Context, w *WorkItem) error
	Get(ctx context.Context, id types.ID) (*WorkItem, error)
	ByRequest(ctx context.Context, requestID types.ID) ([]WorkItem, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, workerID *types.ID) (bool, error)
	AppendNote(ctx context.Context, id types.ID, note string) error

	PendingWithin(ctx context.Context, until time.Time, limit int) ([]WorkItem, error)
	ActiveVehicles(ctx context.Context, until time.Time) ([]string, error)
	ActiveByVehicle(ctx context.Context, vehicleID string) ([]WorkItem, error)
	OverdueBefore(ctx context.Context, cutoff time.Time) ([]WorkItem, error)
	StaleInProgress(ctx context.Context, cutoff time.Time) ([]WorkItem, error)
	Shift(ctx context.Context, id types.ID, delta time.Duration) error

	OpenByWorker(ctx context.Context, workerID types.ID) ([]WorkItem, error)
	Upcoming(ctx context.Context, station string, from time.Time, hoursAhead int, limit int) ([]WorkItem, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	CompletedSince(ctx context.Context, since time.Time) (int, error)
}

const workItemColumns = `
        id, request_id, kind, station, vehicle_id, sequence,
        scheduled_at, worker_arrival_at, buffer_minutes, buffer_reason,
        status, status_version, worker_id, assigned_at, notes, created_at, updated_at`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, w *WorkItem) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO work_items (
            id, request_id, kind, station, vehicle_id, sequence,
            scheduled_at, worker_arrival_at, buffer_minutes, buffer_reason,
            status, status_version, notes, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		string(w.ID), string(w.RequestID), string(w.Kind), w.Station, w.VehicleID, w.Sequence,
		w.ScheduledAt, w.WorkerArrivalAt, w.BufferMinutes, w.BufferReason,
		string(w.Status), w.StatusVersion, w.Notes, w.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*WorkItem, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, string(id))
	w, err := scanWorkItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

func (s *PGStore) ByRequest(ctx context.Context, requestID types.ID) ([]WorkItem, error) {
	return s.query(ctx, `
        SELECT `+workItemColumns+` FROM work_items
        WHERE request_id = $1 ORDER BY sequence`, string(requestID))
}

// UpdateStatus flips the item from (from, version) to to. An assignment
// records the worker and timestamp; a move back to pending clears both.
func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, workerID *types.ID) (bool, error) {
	var worker *string
	if workerID != nil {
		v := string(*workerID)
		worker = &v
	}
	tag, err := s.db.Exec(ctx, `
        UPDATE work_items
        SET status = $1,
            status_version = status_version + 1,
            worker_id = CASE WHEN $1 = 'assigned' THEN $2
                             WHEN $1 = 'pending' THEN NULL
                             ELSE worker_id END,
            assigned_at = CASE WHEN $1 = 'assigned' THEN NOW()
                               WHEN $1 = 'pending' THEN NULL
                               ELSE assigned_at END,
            updated_at = NOW()
        WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(to), worker, string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) AppendNote(ctx context.Context, id types.ID, note string) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE work_items
        SET notes = CASE WHEN notes = '' THEN $1 ELSE notes || E'\n' || $1 END,
            updated_at = NOW()
        WHERE id = $2`,
		note, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) PendingWithin(ctx context.Context, until time.Time, limit int) ([]WorkItem, error) {
	return s.query(ctx, `
        SELECT `+workItemColumns+` FROM work_items
        WHERE status = 'pending' AND scheduled_at <= $1
        ORDER BY scheduled_at ASC
        LIMIT $2`, until, limit)
}

func (s *PGStore) ActiveVehicles(ctx context.Context, until time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
        SELECT DISTINCT vehicle_id FROM work_items
        WHERE status IN ('pending','assigned','in_progress') AND scheduled_at <= $1`, until,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *PGStore) ActiveByVehicle(ctx context.Context, vehicleID string) ([]WorkItem, error) {
	return s.query(ctx, `
        SELECT `+workItemColumns+` FROM work_items
        WHERE vehicle_id = $1 AND status IN ('pending','assigned','in_progress')
        ORDER BY scheduled_at ASC`, vehicleID)
}

func (s *PGStore) OverdueBefore(ctx context.Context, cutoff time.Time) ([]WorkItem, error) {
	return s.query(ctx, `
        SELECT `+workItemColumns+` FROM work_items
        WHERE status IN ('pending','assigned','in_progress') AND scheduled_at < $1
        ORDER BY scheduled_at ASC`, cutoff)
}

func (s *PGStore) StaleInProgress(ctx context.Context, cutoff time.Time) ([]WorkItem, error) {
	return s.query(ctx, `
        SELECT `+workItemColumns+` FROM work_items
        WHERE status = 'in_progress' AND updated_at < $1
        ORDER BY updated_at ASC`, cutoff)
}

func (s *PGStore) Shift(ctx context.Context, id types.ID, delta time.Duration) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE work_items
        SET scheduled_at = scheduled_at + $1,
            worker_arrival_at = worker_arrival_at + $1,
            updated_at = NOW()
        WHERE id = $2`,
		delta, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) OpenByWorker(ctx context.Context, workerID types.ID) ([]WorkItem, error) {
	return s.query(ctx, `
        SELECT `+workItemColumns+` FROM work_items
        WHERE worker_id = $1 AND status IN ('assigned','in_progress')
        ORDER BY scheduled_at ASC`, string(workerID))
}

func (s *PGStore) Upcoming(ctx context.Context, station string, from time.Time, hoursAhead int, limit int) ([]WorkItem, error) {
	until := from.Add(time.Duration(hoursAhead) * time.Hour)
	return s.query(ctx, `
        SELECT `+workItemColumns+` FROM work_items
        WHERE station = $1 AND status IN ('pending','assigned','in_progress')
          AND scheduled_at BETWEEN $2 AND $3
        ORDER BY scheduled_at ASC
        LIMIT $4`, station, from, until, limit)
}

func (s *PGStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[Status(st)] = n
	}
	return counts, rows.Err()
}

func (s *PGStore) CompletedSince(ctx context.Context, since time.Time) (int, error) {
	row := s.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM work_items WHERE status = 'completed' AND updated_at >= $1`, since,
	)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (s *PGStore) query(ctx context.Context, sql string, args ...any) ([]WorkItem, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *w)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*WorkItem, error) {
	var w WorkItem
	var workerID *string
	err := row.Scan(
		&w.ID, &w.RequestID, &w.Kind, &w.Station, &w.VehicleID, &w.Sequence,
		&w.ScheduledAt, &w.WorkerArrivalAt, &w.BufferMinutes, &w.BufferReason,
		&w.Status, &w.StatusVersion, &workerID, &w.AssignedAt, &w.Notes, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if workerID != nil {
		id := types.ID(*workerID)
		w.WorkerID = &id
	}
	return &w, nil
}
