// README: Entry point; loads config, wires services, starts HTTP server and background loops.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sahay/internal/config"
	"sahay/internal/events"
	httptransport "sahay/internal/http"
	"sahay/internal/infra"
	"sahay/internal/modules/assignment"
	"sahay/internal/modules/delay"
	"sahay/internal/modules/dispatch"
	"sahay/internal/modules/intake"
	"sahay/internal/modules/request"
	"sahay/internal/modules/route"
	"sahay/internal/modules/task"
	"sahay/internal/modules/worker"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		requestStore request.Store
		taskStore    task.Store
		workerStore  worker.Store
		routeStore   route.Store
		delayCache   delay.Cache
	)
	cacheTTL := time.Duration(cfg.Scheduling.DelayCacheTTLSeconds) * time.Second
	if cfg.DB.DSN == "memory" {
		requestStore = request.NewMemoryStore()
		taskStore = task.NewMemoryStore()
		workerStore = worker.NewMemoryStore()
		routeStore = route.NewMemoryStore()
		delayCache = delay.NewMemoryCache(cacheTTL)
	} else {
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db init failed")
		}
		defer dbPool.Close()

		requestStore = request.NewPGStore(dbPool)
		taskStore = task.NewPGStore(dbPool)
		workerStore = worker.NewPGStore(dbPool)
		routeStore = route.NewPGStore(dbPool)
		delayCache = delay.NewRedisCache(infra.NewRedis(cfg.Redis.Addr), cacheTTL)
	}

	bus := events.NewBus()
	go logEvents(ctx, bus.Subscribe(64), log)

	routeLookup := route.NewLookup(routeStore, route.NameClassifier{})
	generator := task.NewGenerator(routeLookup, taskStore, cfg.Scheduling, log)
	assigner := assignment.NewService(taskStore, workerStore, requestStore, bus, cfg.Scheduling, log)
	intakeSvc := intake.NewService(requestStore, generator, assigner, log)
	processor := dispatch.NewProcessor(taskStore, requestStore, assigner, bus, cfg.Scheduling, log)
	tracker := delay.NewTracker(taskStore, delay.NewHTTPSource(cfg.Status.URL), delayCache, bus, cfg.Scheduling, log)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Intake:    intakeSvc,
		Assigner:  assigner,
		Processor: processor,
		Tasks:     taskStore,
		Workers:   workerStore,
		Log:       log,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	go processor.Run(ctx)
	go tracker.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("sahay api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// logEvents drains the bus; the surrounding application fans these out to
// notification delivery.
func logEvents(ctx context.Context, ch <-chan events.Event, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			log.Info().
				Str("event", string(e.Type)).
				Str("task_id", string(e.TaskID)).
				Str("vehicle_id", e.VehicleID).
				Str("station", e.Station).
				Int("delay_minutes", e.DelayMinutes).
				Str("reason", e.Reason).
				Msg("engine event")
		}
	}
}
