// README: Worker handlers (availability toggle).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sahay/internal/modules/worker"
	"sahay/internal/types"
)

type WorkerHandler struct {
	workers worker.Store
}

func NewWorkerHandler(workers worker.Store) *WorkerHandler {
	return &WorkerHandler{workers: workers}
}

type availabilityReq struct {
	Online bool `json:"online"`
}

func (h *WorkerHandler) SetAvailability(c *gin.Context) {
	id := c.Param("id")
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid worker id")
		return
	}
	if err := h.workers.SetOnline(c.Request.Context(), types.ID(id), req.Online); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"worker_id": id, "online": req.Online})
}
