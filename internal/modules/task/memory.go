// README: In-memory work item store with the same conditional-update semantics.
package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"sahay/internal/types"
)

// MemoryStore backs tests and dev mode. UpdateStatus keeps the
// compare-and-swap contract under the mutex.
type MemoryStore struct {
	mu    sync.Mutex
	items map[types.ID]WorkItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[types.ID]WorkItem), now: func() time.Time { return time.Now().UTC() }}
}

func (s *MemoryStore) Create(_ context.Context, w *WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	s.items[w.ID] = *w
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := w
	return &out, nil
}

func (s *MemoryStore) ByRequest(_ context.Context, requestID types.ID) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []WorkItem
	for _, w := range s.items {
		if w.RequestID == requestID {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Sequence < items[j].Sequence })
	return items, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, workerID *types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.items[id]
	if !ok || w.Status != from || w.StatusVersion != version {
		return false, nil
	}
	now := s.now()
	w.Status = to
	w.StatusVersion++
	switch to {
	case StatusAssigned:
		w.WorkerID = workerID
		t := now
		w.AssignedAt = &t
	case StatusPending:
		w.WorkerID = nil
		w.AssignedAt = nil
	}
	w.UpdatedAt = now
	s.items[id] = w
	return true, nil
}

func (s *MemoryStore) AppendNote(_ context.Context, id types.ID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if w.Notes == "" {
		w.Notes = note
	} else {
		w.Notes += "\n" + note
	}
	w.UpdatedAt = s.now()
	s.items[id] = w
	return nil
}

func (s *MemoryStore) PendingWithin(_ context.Context, until time.Time, limit int) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []WorkItem
	for _, w := range s.items {
		if w.Status == StatusPending && !w.ScheduledAt.After(until) {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledAt.Before(items[j].ScheduledAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) ActiveVehicles(_ context.Context, until time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var vehicles []string
	for _, w := range s.items {
		if !w.Status.Terminal() && !w.ScheduledAt.After(until) && !seen[w.VehicleID] {
			seen[w.VehicleID] = true
			vehicles = append(vehicles, w.VehicleID)
		}
	}
	sort.Strings(vehicles)
	return vehicles, nil
}

func (s *MemoryStore) ActiveByVehicle(_ context.Context, vehicleID string) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []WorkItem
	for _, w := range s.items {
		if w.VehicleID == vehicleID && !w.Status.Terminal() {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledAt.Before(items[j].ScheduledAt) })
	return items, nil
}

func (s *MemoryStore) OverdueBefore(_ context.Context, cutoff time.Time) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []WorkItem
	for _, w := range s.items {
		if !w.Status.Terminal() && w.ScheduledAt.Before(cutoff) {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledAt.Before(items[j].ScheduledAt) })
	return items, nil
}

func (s *MemoryStore) StaleInProgress(_ context.Context, cutoff time.Time) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []WorkItem
	for _, w := range s.items {
		if w.Status == StatusInProgress && w.UpdatedAt.Before(cutoff) {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })
	return items, nil
}

func (s *MemoryStore) Shift(_ context.Context, id types.ID, delta time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	w.ScheduledAt = w.ScheduledAt.Add(delta)
	w.WorkerArrivalAt = w.WorkerArrivalAt.Add(delta)
	w.UpdatedAt = s.now()
	s.items[id] = w
	return nil
}

func (s *MemoryStore) OpenByWorker(_ context.Context, workerID types.ID) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []WorkItem
	for _, w := range s.items {
		if w.WorkerID != nil && *w.WorkerID == workerID &&
			(w.Status == StatusAssigned || w.Status == StatusInProgress) {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledAt.Before(items[j].ScheduledAt) })
	return items, nil
}

func (s *MemoryStore) Upcoming(_ context.Context, station string, from time.Time, hoursAhead int, limit int) ([]WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := from.Add(time.Duration(hoursAhead) * time.Hour)
	var items []WorkItem
	for _, w := range s.items {
		if w.Station == station && !w.Status.Terminal() &&
			!w.ScheduledAt.Before(from) && !w.ScheduledAt.After(until) {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledAt.Before(items[j].ScheduledAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int)
	for _, w := range s.items {
		counts[w.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) CompletedSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.items {
		if w.Status == StatusCompleted && !w.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}
