// README: HTTP router registration.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sahay/internal/http/handlers"
	"sahay/internal/http/middleware"
	"sahay/internal/modules/assignment"
	"sahay/internal/modules/dispatch"
	"sahay/internal/modules/intake"
	"sahay/internal/modules/task"
	"sahay/internal/modules/worker"
)

type RouterDeps struct {
	Intake    *intake.Service
	Assigner  *assignment.Service
	Processor *dispatch.Processor
	Tasks     task.Store
	Workers   worker.Store
	Log       zerolog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(deps.Log), middleware.Recovery(deps.Log))

	requestHandler := handlers.NewRequestHandler(deps.Intake, deps.Tasks)
	r.POST("/api/requests", requestHandler.Create)
	r.GET("/api/requests/:id", requestHandler.Get)

	taskHandler := handlers.NewTaskHandler(deps.Assigner, deps.Tasks)
	r.GET("/api/tasks/upcoming", taskHandler.Upcoming)
	r.POST("/api/tasks/:id/validate", taskHandler.Validate)
	r.POST("/api/tasks/:id/assign", taskHandler.Assign)
	r.POST("/api/tasks/:id/unassign", taskHandler.Unassign)
	r.POST("/api/tasks/:id/start", taskHandler.Start)
	r.POST("/api/tasks/:id/complete", taskHandler.Complete)

	workerHandler := handlers.NewWorkerHandler(deps.Workers)
	r.PUT("/api/workers/:id/availability", workerHandler.SetAvailability)

	statsHandler := handlers.NewStatsHandler(deps.Processor)
	r.GET("/api/stats", statsHandler.Get)

	r.GET("/health", func(c *gin.Context) {
		c.String(200, "OK")
	})
	return r
}
