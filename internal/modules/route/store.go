// README: Route stop stores (PostgreSQL + in-memory).
package route

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store interface {
	StopsByVehicle(ctx context.Context, vehicleID string) ([]Stop, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) StopsByVehicle(ctx context.Context, vehicleID string) ([]Stop, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, vehicle_id, station, COALESCE(arrival, ''), COALESCE(departure, ''), sequence, total_stops
        FROM route_stops
        WHERE vehicle_id = $1
        ORDER BY sequence`, vehicleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []Stop
	for rows.Next() {
		var st Stop
		if err := rows.Scan(&st.ID, &st.VehicleID, &st.Station, &st.Arrival, &st.Departure, &st.Sequence, &st.TotalStops); err != nil {
			return nil, err
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

// MemoryStore backs tests and dev mode.
type MemoryStore struct {
	mu    sync.Mutex
	stops map[string][]Stop
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stops: make(map[string][]Stop)}
}

func (s *MemoryStore) Add(stop Stop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops[stop.VehicleID] = append(s.stops[stop.VehicleID], stop)
}

func (s *MemoryStore) StopsByVehicle(_ context.Context, vehicleID string) ([]Stop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.stops[vehicleID]
	out := make([]Stop, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
