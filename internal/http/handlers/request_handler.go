// README: Service request handlers for intake and lookup.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sahay/internal/modules/intake"
	"sahay/internal/modules/request"
	"sahay/internal/modules/task"
	"sahay/internal/types"
)

type RequestHandler struct {
	intake *intake.Service
	tasks  task.Store
}

func NewRequestHandler(svc *intake.Service, tasks task.Store) *RequestHandler {
	return &RequestHandler{intake: svc, tasks: tasks}
}

type createRequestReq struct {
	PassengerName  string `json:"passenger_name"`
	Kind           string `json:"kind"`
	VehicleID      string `json:"vehicle_id"`
	PickupStation  string `json:"pickup_station"`
	DropStation    string `json:"drop_station"`
	TravelDate     string `json:"travel_date"`
	SpecialDay     bool   `json:"special_day"`
	BufferOverride *int   `json:"buffer_override,omitempty"`
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.VehicleID == "" || req.Kind == "" || req.TravelDate == "" {
		writeError(c, http.StatusBadRequest, "missing fields")
		return
	}

	result, err := h.intake.Create(c.Request.Context(), intake.CreateCommand{
		PassengerName:  req.PassengerName,
		Kind:           request.Kind(req.Kind),
		VehicleID:      req.VehicleID,
		PickupStation:  req.PickupStation,
		DropStation:    req.DropStation,
		TravelDate:     req.TravelDate,
		SpecialDay:     req.SpecialDay,
		BufferOverride: req.BufferOverride,
	})
	if err != nil {
		var genErr *task.ValidationError
		if errors.As(err, &genErr) {
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "task generation failed", Problems: genErr.Problems})
			return
		}
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"request_id":  result.Request.ID,
		"status":      result.Request.Status,
		"tasks":       taskResponses(result.Tasks),
		"task_errors": result.TaskErrors,
	})
}

func (h *RequestHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid request id")
		return
	}
	req, err := h.intake.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	items, err := h.tasks.ByRequest(c.Request.Context(), req.ID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id": req.ID,
		"kind":       req.Kind,
		"vehicle_id": req.VehicleID,
		"status":     req.Status,
		"attempts":   req.Attempts,
		"tasks":      taskResponses(items),
	})
}
