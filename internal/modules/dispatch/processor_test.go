// README: Queue processor sweep tests.
package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sahay/internal/config"
	"sahay/internal/events"
	"sahay/internal/modules/assignment"
	"sahay/internal/modules/request"
	"sahay/internal/modules/task"
	"sahay/internal/modules/worker"
	"sahay/internal/types"
)

type fixture struct {
	proc     *Processor
	assigner *assignment.Service
	tasks    *task.MemoryStore
	requests *request.MemoryStore
	workers  *worker.MemoryStore
	events   <-chan events.Event
	now      time.Time
}

func setup(t *testing.T, mutate func(*config.SchedulingConfig)) *fixture {
	t.Helper()
	cfg := config.DefaultScheduling()
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		tasks:    task.NewMemoryStore(),
		requests: request.NewMemoryStore(),
		workers:  worker.NewMemoryStore(),
		now:      time.Now().UTC(),
	}
	bus := events.NewBus()
	f.events = bus.Subscribe(128)
	f.assigner = assignment.NewService(f.tasks, f.workers, f.requests, bus, cfg, zerolog.Nop())
	f.proc = NewProcessor(f.tasks, f.requests, f.assigner, bus, cfg, zerolog.Nop())
	f.proc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seedPending(t *testing.T, kind task.Kind, station string, scheduledAt time.Time) (*request.ServiceRequest, *task.WorkItem) {
	t.Helper()
	ctx := context.Background()
	req := &request.ServiceRequest{ID: types.NewID(), Kind: request.KindPickup, VehicleID: "12301", Status: request.StatusSearching}
	if err := f.requests.Create(ctx, req); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	item := &task.WorkItem{
		ID:          types.NewID(),
		RequestID:   req.ID,
		Kind:        kind,
		Station:     station,
		VehicleID:   "12301",
		Sequence:    1,
		ScheduledAt: scheduledAt,
		Status:      task.StatusPending,
	}
	if err := f.tasks.Create(ctx, item); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return req, item
}

func (f *fixture) seedWorker(t *testing.T, station string) *worker.Worker {
	t.Helper()
	w := &worker.Worker{ID: types.NewID(), Station: station, Approved: true, Eligible: true, Online: true, Rating: 4.0}
	if err := f.workers.Create(context.Background(), w); err != nil {
		t.Fatalf("seed worker: %v", err)
	}
	return w
}

func (f *fixture) countEvents(want events.Type) int {
	n := 0
	for {
		select {
		case e := <-f.events:
			if e.Type == want {
				n++
			}
		default:
			return n
		}
	}
}

func TestTickAssignsPendingPickup(t *testing.T) {
	f := setup(t, nil)
	_, item := f.seedPending(t, task.KindPickup, "Beta", f.now.Add(3*time.Hour))
	w := f.seedWorker(t, "Beta")

	f.proc.Tick(context.Background())

	got, _ := f.tasks.Get(context.Background(), item.ID)
	if got.Status != task.StatusAssigned || got.WorkerID == nil || *got.WorkerID != w.ID {
		t.Fatalf("item after tick: %+v", got)
	}
	if n := f.countEvents(events.TaskAssigned); n != 1 {
		t.Fatalf("taskAssigned events = %d, want 1", n)
	}
}

func TestTickNoWorkersEscalates(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	// Three pickups inside the escalation threshold (60m), nobody on shift.
	var items []*task.WorkItem
	for i := 0; i < 3; i++ {
		_, item := f.seedPending(t, task.KindPickup, "Beta", f.now.Add(30*time.Minute))
		items = append(items, item)
	}

	f.proc.Tick(ctx)

	for _, item := range items {
		got, _ := f.tasks.Get(ctx, item.ID)
		if got.Status != task.StatusPending {
			t.Fatalf("item %s status = %s, want pending (no supply never cancels)", item.ID, got.Status)
		}
		parent, _ := f.requests.Get(ctx, got.RequestID)
		if parent.Attempts != 1 {
			t.Fatalf("attempts = %d, want 1", parent.Attempts)
		}
	}
	if n := f.countEvents(events.Escalation); n != 3 {
		t.Fatalf("escalation events = %d, want 3", n)
	}
}

func TestTickFarDeadlineNoEscalation(t *testing.T) {
	f := setup(t, nil)
	f.seedPending(t, task.KindPickup, "Beta", f.now.Add(3*time.Hour))

	f.proc.Tick(context.Background())

	if n := f.countEvents(events.Escalation); n != 0 {
		t.Fatalf("escalation events = %d, want 0 for a far deadline", n)
	}
}

func TestCapacityWarningAtAttemptCap(t *testing.T) {
	f := setup(t, func(cfg *config.SchedulingConfig) { cfg.MaxAssignAttempts = 2 })
	f.seedPending(t, task.KindPickup, "Beta", f.now.Add(30*time.Minute))
	ctx := context.Background()

	f.proc.Tick(ctx)
	if n := f.countEvents(events.CapacityWarning); n != 0 {
		t.Fatalf("capacity warning after 1 attempt, cap is 2")
	}
	f.proc.Tick(ctx)
	if n := f.countEvents(events.CapacityWarning); n != 1 {
		t.Fatalf("capacity warnings = %d, want 1 at the cap", n)
	}
	// Past the cap: warned once, not on every subsequent sweep.
	f.proc.Tick(ctx)
	if n := f.countEvents(events.CapacityWarning); n != 0 {
		t.Fatalf("capacity warning repeated past the cap")
	}
}

func TestNonPickupWaitsForAssignWindow(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	// Drop 3h out with a 120m window: matching must not start yet.
	_, drop := f.seedPending(t, task.KindDrop, "Gamma", f.now.Add(3*time.Hour))
	f.seedWorker(t, "Gamma")

	f.proc.Tick(ctx)
	got, _ := f.tasks.Get(ctx, drop.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("drop matched outside its window: %+v", got)
	}

	// Inside the window it goes out.
	f.now = f.now.Add(2 * time.Hour)
	f.proc.Tick(ctx)
	got, _ = f.tasks.Get(ctx, drop.ID)
	if got.Status != task.StatusAssigned {
		t.Fatalf("drop not matched inside window: %+v", got)
	}
}

func TestParentCancelledCascades(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	req, item := f.seedPending(t, task.KindPickup, "Beta", f.now.Add(time.Hour))
	f.seedWorker(t, "Beta")
	if err := f.requests.UpdateStatus(ctx, req.ID, request.StatusCancelled); err != nil {
		t.Fatalf("cancel request: %v", err)
	}

	f.proc.Tick(ctx)

	got, _ := f.tasks.Get(ctx, item.ID)
	if got.Status != task.StatusCancelled {
		t.Fatalf("item status = %s, want cancelled with dead parent", got.Status)
	}
}

func TestSiblingWorkerNotReusedForDrop(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	// Round trip: pickup completed by w1; parent carries w1. The drop must
	// not adopt w1, it goes to a different worker at the drop station.
	req := &request.ServiceRequest{ID: types.NewID(), Kind: request.KindRoundTrip, VehicleID: "12301", Status: request.StatusAccepted}
	_ = f.requests.Create(ctx, req)
	w1 := f.seedWorker(t, "Alpha")
	w2 := f.seedWorker(t, "Gamma")
	_ = f.requests.SetWorker(ctx, req.ID, &w1.ID)

	pickup := &task.WorkItem{
		ID: types.NewID(), RequestID: req.ID, Kind: task.KindPickup, Station: "Alpha",
		VehicleID: "12301", Sequence: 1, ScheduledAt: f.now.Add(-time.Hour),
		Status: task.StatusCompleted, WorkerID: &w1.ID,
	}
	_ = f.tasks.Create(ctx, pickup)
	drop := &task.WorkItem{
		ID: types.NewID(), RequestID: req.ID, Kind: task.KindDrop, Station: "Gamma",
		VehicleID: "12301", Sequence: 2, ScheduledAt: f.now.Add(time.Hour),
		Status: task.StatusPending,
	}
	_ = f.tasks.Create(ctx, drop)

	f.proc.Tick(ctx)

	got, _ := f.tasks.Get(ctx, drop.ID)
	if got.Status != task.StatusAssigned || got.WorkerID == nil {
		t.Fatalf("drop not assigned: %+v", got)
	}
	if *got.WorkerID != w2.ID {
		t.Fatalf("drop went to %s, want the fresh worker %s", *got.WorkerID, w2.ID)
	}
}

func TestOverdueEventAndForceCancel(t *testing.T) {
	f := setup(t, nil) // expiry 120m
	ctx := context.Background()

	_, justOverdue := f.seedPending(t, task.KindPickup, "Beta", f.now.Add(-121*time.Minute))
	_, longPast := f.seedPending(t, task.KindPickup, "Beta", f.now.Add(-241*time.Minute))

	if err := f.proc.sweepOverdue(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if n := f.countEvents(events.TaskOverdue); n != 2 {
		t.Fatalf("overdue events = %d, want 2", n)
	}
	got, _ := f.tasks.Get(ctx, justOverdue.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("recently overdue item cancelled too early: %s", got.Status)
	}
	got, _ = f.tasks.Get(ctx, longPast.ID)
	if got.Status != task.StatusCancelled {
		t.Fatalf("item past twice the expiry not force-cancelled: %s", got.Status)
	}
}

// An item that stays overdue is reported once, not on every sweep.
func TestOverdueEventNotRepeated(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	_, item := f.seedPending(t, task.KindPickup, "Beta", f.now.Add(-121*time.Minute))

	if err := f.proc.sweepOverdue(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n := f.countEvents(events.TaskOverdue); n != 1 {
		t.Fatalf("overdue events after first sweep = %d, want 1", n)
	}

	for i := 0; i < 3; i++ {
		if err := f.proc.sweepOverdue(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if n := f.countEvents(events.TaskOverdue); n != 0 {
		t.Fatalf("overdue events on repeat sweeps = %d, want 0", n)
	}

	// Once the item leaves the overdue set (here: pushed back into the
	// future by a reschedule) and lapses again, it is reported again.
	if err := f.tasks.Shift(ctx, item.ID, 5*time.Hour); err != nil {
		t.Fatalf("shift: %v", err)
	}
	if err := f.proc.sweepOverdue(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	f.now = f.now.Add(6 * time.Hour)
	if err := f.proc.sweepOverdue(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n := f.countEvents(events.TaskOverdue); n != 1 {
		t.Fatalf("overdue events after lapsing again = %d, want 1", n)
	}
}

func TestSLASweepFlagsStaleInProgress(t *testing.T) {
	f := setup(t, nil) // max task duration 90m
	ctx := context.Background()

	_, item := f.seedPending(t, task.KindPickup, "Beta", f.now.Add(time.Hour))
	w := f.seedWorker(t, "Beta")
	if _, _, err := f.assigner.Assign(ctx, item.ID, w.ID, assignment.AssignOptions{}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := f.assigner.Start(ctx, item.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.proc.sweepSLA(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n := f.countEvents(events.SLAViolation); n != 0 {
		t.Fatalf("fresh in-progress item flagged")
	}

	// Two hours later with no progress it trips the SLA.
	f.now = f.now.Add(2 * time.Hour)
	if err := f.proc.sweepSLA(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n := f.countEvents(events.SLAViolation); n != 1 {
		t.Fatalf("sla events = %d, want 1", n)
	}
}

func TestStatsHealth(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	stats, err := f.proc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Health != "healthy" {
		t.Fatalf("empty queue health = %s, want healthy", stats.Health)
	}

	f.seedPending(t, task.KindPickup, "Beta", f.now.Add(-3*time.Hour))
	stats, _ = f.proc.Stats(ctx)
	if stats.Pending != 1 || stats.Overdue != 1 || stats.Health != "warning" {
		t.Fatalf("stats = %+v, want 1 pending overdue, warning", stats)
	}

	for i := 0; i < 4; i++ {
		f.seedPending(t, task.KindPickup, "Beta", f.now.Add(-3*time.Hour))
	}
	stats, _ = f.proc.Stats(ctx)
	if stats.Overdue != 5 || stats.Health != "critical" {
		t.Fatalf("stats = %+v, want 5 overdue critical", stats)
	}
}
