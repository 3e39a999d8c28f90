// README: Work item handlers: validate, assign, unassign, progress, upcoming.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sahay/internal/modules/assignment"
	"sahay/internal/modules/task"
	"sahay/internal/types"
)

type TaskHandler struct {
	assigner *assignment.Service
	tasks    task.Store
}

func NewTaskHandler(assigner *assignment.Service, tasks task.Store) *TaskHandler {
	return &TaskHandler{assigner: assigner, tasks: tasks}
}

type taskResponse struct {
	TaskID          types.ID    `json:"task_id"`
	RequestID       types.ID    `json:"request_id"`
	Kind            task.Kind   `json:"kind"`
	Station         string      `json:"station"`
	VehicleID       string      `json:"vehicle_id"`
	Sequence        int         `json:"sequence"`
	ScheduledAt     time.Time   `json:"scheduled_at"`
	WorkerArrivalAt time.Time   `json:"worker_arrival_at"`
	BufferMinutes   int         `json:"buffer_minutes"`
	BufferReason    string      `json:"buffer_reason"`
	Status          task.Status `json:"status"`
	WorkerID        *types.ID   `json:"worker_id,omitempty"`
}

func toTaskResponse(w *task.WorkItem) taskResponse {
	return taskResponse{
		TaskID:          w.ID,
		RequestID:       w.RequestID,
		Kind:            w.Kind,
		Station:         w.Station,
		VehicleID:       w.VehicleID,
		Sequence:        w.Sequence,
		ScheduledAt:     w.ScheduledAt,
		WorkerArrivalAt: w.WorkerArrivalAt,
		BufferMinutes:   w.BufferMinutes,
		BufferReason:    w.BufferReason,
		Status:          w.Status,
		WorkerID:        w.WorkerID,
	}
}

func taskResponses(items []task.WorkItem) []taskResponse {
	out := make([]taskResponse, len(items))
	for i := range items {
		out[i] = toTaskResponse(&items[i])
	}
	return out
}

type assignReq struct {
	WorkerID          string `json:"worker_id"`
	Note              string `json:"note"`
	SkipValidation    bool   `json:"skip_validation"`
	AllowCrossStation bool   `json:"allow_cross_station"`
}

func (h *TaskHandler) Assign(c *gin.Context) {
	id := c.Param("id")
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(id) || !isValidID(req.WorkerID) {
		writeError(c, http.StatusBadRequest, "invalid task or worker id")
		return
	}
	item, vd, err := h.assigner.Assign(c.Request.Context(), types.ID(id), types.ID(req.WorkerID), assignment.AssignOptions{
		SkipValidation:    req.SkipValidation,
		AllowCrossStation: req.AllowCrossStation,
		Note:              req.Note,
	})
	if errors.Is(err, assignment.ErrValidation) {
		c.JSON(http.StatusConflict, gin.H{"valid": false, "errors": vd.Errors, "warnings": vd.Warnings})
		return
	}
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": toTaskResponse(item), "warnings": vd.Warnings})
}

type validateReq struct {
	WorkerID          string `json:"worker_id"`
	AllowCrossStation bool   `json:"allow_cross_station"`
}

func (h *TaskHandler) Validate(c *gin.Context) {
	id := c.Param("id")
	var req validateReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(id) || !isValidID(req.WorkerID) {
		writeError(c, http.StatusBadRequest, "invalid task or worker id")
		return
	}
	vd, err := h.assigner.Validate(c.Request.Context(), types.ID(id), types.ID(req.WorkerID), assignment.ValidateOptions{
		AllowCrossStation: req.AllowCrossStation,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": vd.Valid, "errors": vd.Errors, "warnings": vd.Warnings})
}

type unassignReq struct {
	Reason string `json:"reason"`
}

func (h *TaskHandler) Unassign(c *gin.Context) {
	id := c.Param("id")
	var req unassignReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid task id")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual unassign"
	}
	item, err := h.assigner.Unassign(c.Request.Context(), types.ID(id), req.Reason)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": toTaskResponse(item)})
}

func (h *TaskHandler) Start(c *gin.Context) {
	h.progress(c, h.assigner.Start)
}

func (h *TaskHandler) Complete(c *gin.Context) {
	h.progress(c, h.assigner.Complete)
}

func (h *TaskHandler) progress(c *gin.Context, fn func(context.Context, types.ID) (*task.WorkItem, error)) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid task id")
		return
	}
	item, err := fn(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": toTaskResponse(item)})
}

func (h *TaskHandler) Upcoming(c *gin.Context) {
	station := c.Query("station")
	if station == "" {
		writeError(c, http.StatusBadRequest, "station is required")
		return
	}
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "4"))
	if err != nil || hours <= 0 {
		writeError(c, http.StatusBadRequest, "invalid hours")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	items, err := h.tasks.Upcoming(c.Request.Context(), station, time.Now().UTC(), hours, limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": taskResponses(items)})
}
