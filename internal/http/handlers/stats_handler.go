// README: Queue statistics handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sahay/internal/modules/dispatch"
)

type StatsHandler struct {
	processor *dispatch.Processor
}

func NewStatsHandler(processor *dispatch.Processor) *StatsHandler {
	return &StatsHandler{processor: processor}
}

func (h *StatsHandler) Get(c *gin.Context) {
	stats, err := h.processor.Stats(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
