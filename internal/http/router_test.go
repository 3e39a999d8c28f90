// README: End-to-end API tests on in-memory stores.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sahay/internal/config"
	"sahay/internal/events"
	"sahay/internal/modules/assignment"
	"sahay/internal/modules/dispatch"
	"sahay/internal/modules/intake"
	"sahay/internal/modules/request"
	"sahay/internal/modules/route"
	"sahay/internal/modules/task"
	"sahay/internal/modules/worker"
	"sahay/internal/types"
)

type apiFixture struct {
	router  *gin.Engine
	workers *worker.MemoryStore
	tasks   *task.MemoryStore
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultScheduling()
	routeStore := route.NewMemoryStore()
	routeStore.Add(route.Stop{VehicleID: "12301", Station: "Alpha Junction", Departure: "16:55", Sequence: 1, TotalStops: 3})
	routeStore.Add(route.Stop{VehicleID: "12301", Station: "Beta", Arrival: "20:00", Departure: "20:05", Sequence: 2, TotalStops: 3})
	routeStore.Add(route.Stop{VehicleID: "12301", Station: "Gamma Terminal", Arrival: "23:55", Sequence: 3, TotalStops: 3})

	tasks := task.NewMemoryStore()
	workers := worker.NewMemoryStore()
	requests := request.NewMemoryStore()
	bus := events.NewBus()
	log := zerolog.Nop()

	generator := task.NewGenerator(route.NewLookup(routeStore, route.NameClassifier{}), tasks, cfg, log)
	assigner := assignment.NewService(tasks, workers, requests, bus, cfg, log)
	intakeSvc := intake.NewService(requests, generator, assigner, log)
	processor := dispatch.NewProcessor(tasks, requests, assigner, bus, cfg, log)

	router := NewRouter(RouterDeps{
		Intake:    intakeSvc,
		Assigner:  assigner,
		Processor: processor,
		Tasks:     tasks,
		Workers:   workers,
		Log:       log,
	})
	return &apiFixture{router: router, workers: workers, tasks: tasks}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreateAndFetchRequest(t *testing.T) {
	f := setupAPI(t)

	rec := f.do(t, http.MethodPost, "/api/requests", gin.H{
		"passenger_name": "A. Devi",
		"kind":           "pickup",
		"vehicle_id":     "12301",
		"pickup_station": "Beta",
		"travel_date":    "2026-09-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode(t, rec)
	id, _ := created["request_id"].(string)
	if id == "" {
		t.Fatalf("no request_id in %v", created)
	}

	rec = f.do(t, http.MethodGet, "/api/requests/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode(t, rec)
	if got["status"] != "searching" {
		t.Fatalf("request status = %v, want searching", got["status"])
	}
	tasks, _ := got["tasks"].([]any)
	if len(tasks) != 1 {
		t.Fatalf("tasks = %v, want 1", got["tasks"])
	}
}

func TestCreateRequestBadPlacement(t *testing.T) {
	f := setupAPI(t)
	rec := f.do(t, http.MethodPost, "/api/requests", gin.H{
		"kind":           "pickup",
		"vehicle_id":     "12301",
		"pickup_station": "Gamma Terminal",
		"travel_date":    "2026-09-01",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if problems, _ := body["problems"].([]any); len(problems) == 0 {
		t.Fatalf("no problems reported: %v", body)
	}
}

func TestCreateRequestMissingFields(t *testing.T) {
	f := setupAPI(t)
	rec := f.do(t, http.MethodPost, "/api/requests", gin.H{"kind": "pickup"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAssignLifecycleOverAPI(t *testing.T) {
	f := setupAPI(t)
	ctx := context.Background()

	w := &worker.Worker{ID: types.NewID(), Station: "Beta", Approved: true, Eligible: true, Online: true, Rating: 4.0}
	if err := f.workers.Create(ctx, w); err != nil {
		t.Fatalf("seed worker: %v", err)
	}
	item := &task.WorkItem{
		ID: types.NewID(), RequestID: types.NewID(), Kind: task.KindPickup, Station: "Beta",
		VehicleID: "12301", Sequence: 1, ScheduledAt: time.Now().UTC().Add(2 * time.Hour),
		Status: task.StatusPending,
	}
	if err := f.tasks.Create(ctx, item); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	// Requests store is empty on purpose: the aggregate recompute warning path
	// must not fail the assignment.
	base := fmt.Sprintf("/api/tasks/%s", item.ID)

	rec := f.do(t, http.MethodPost, base+"/validate", gin.H{"worker_id": string(w.ID)})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d, body %s", rec.Code, rec.Body.String())
	}
	if body := decode(t, rec); body["valid"] != true {
		t.Fatalf("validate body = %v", body)
	}

	rec = f.do(t, http.MethodPost, base+"/assign", gin.H{"worker_id": string(w.ID), "note": "desk override"})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d, body %s", rec.Code, rec.Body.String())
	}

	// A second assign races against an already-assigned item: conflict.
	w2 := &worker.Worker{ID: types.NewID(), Station: "Beta", Approved: true, Eligible: true}
	_ = f.workers.Create(ctx, w2)
	rec = f.do(t, http.MethodPost, base+"/assign", gin.H{"worker_id": string(w2.ID), "skip_validation": true})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double assign status = %d, want 409", rec.Code)
	}

	rec = f.do(t, http.MethodPost, base+"/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, base+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Completed items cannot be unassigned.
	rec = f.do(t, http.MethodPost, base+"/unassign", gin.H{"reason": "test"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("unassign after complete status = %d, want 409", rec.Code)
	}
}

func TestTaskNotFound(t *testing.T) {
	f := setupAPI(t)
	rec := f.do(t, http.MethodPost, "/api/tasks/"+string(types.NewID())+"/start", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/tasks/not-a-real-id/start", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id status = %d, want 400", rec.Code)
	}
}

func TestUpcomingTasks(t *testing.T) {
	f := setupAPI(t)
	ctx := context.Background()
	_ = f.tasks.Create(ctx, &task.WorkItem{
		ID: types.NewID(), RequestID: types.NewID(), Kind: task.KindPickup, Station: "Beta",
		VehicleID: "12301", ScheduledAt: time.Now().UTC().Add(time.Hour), Status: task.StatusPending,
	})
	_ = f.tasks.Create(ctx, &task.WorkItem{
		ID: types.NewID(), RequestID: types.NewID(), Kind: task.KindPickup, Station: "Beta",
		VehicleID: "12301", ScheduledAt: time.Now().UTC().Add(30 * time.Hour), Status: task.StatusPending,
	})

	rec := f.do(t, http.MethodGet, "/api/tasks/upcoming?station=Beta&hours=4", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if tasks, _ := body["tasks"].([]any); len(tasks) != 1 {
		t.Fatalf("tasks = %v, want only the near-term one", body["tasks"])
	}

	rec = f.do(t, http.MethodGet, "/api/tasks/upcoming", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing station status = %d, want 400", rec.Code)
	}
}

func TestWorkerAvailability(t *testing.T) {
	f := setupAPI(t)
	ctx := context.Background()
	w := &worker.Worker{ID: types.NewID(), Station: "Beta", Approved: true, Eligible: true}
	_ = f.workers.Create(ctx, w)

	rec := f.do(t, http.MethodPut, "/api/workers/"+string(w.ID)+"/availability", gin.H{"online": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	got, _ := f.workers.Get(ctx, w.ID)
	if !got.Online {
		t.Fatal("worker not marked online")
	}

	rec = f.do(t, http.MethodPut, "/api/workers/"+string(types.NewID())+"/availability", gin.H{"online": true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown worker status = %d, want 404", rec.Code)
	}
}

func TestStatsAndHealth(t *testing.T) {
	f := setupAPI(t)

	rec := f.do(t, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	if body := decode(t, rec); body["health"] != "healthy" {
		t.Fatalf("health = %v, want healthy", body["health"])
	}

	rec = f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health endpoint = %d %q", rec.Code, rec.Body.String())
	}
}
