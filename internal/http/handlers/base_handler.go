// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sahay/internal/modules/assignment"
	"sahay/internal/modules/request"
	"sahay/internal/modules/task"
	"sahay/internal/modules/worker"
)

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// isValidID ensures IDs are hex and 32 chars (matches the ID generator).
func isValidID(v string) bool {
	if len(v) != 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			continue
		}
		return false
	}
	return true
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

func writeDomainError(c *gin.Context, err error) {
	var genErr *task.ValidationError
	switch {
	case errors.As(err, &genErr):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "task generation failed", Problems: genErr.Problems})
	case errors.Is(err, task.ErrInvalidRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, request.ErrNotFound), errors.Is(err, task.ErrNotFound), errors.Is(err, worker.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, assignment.ErrConflict), errors.Is(err, assignment.ErrInvalidState), errors.Is(err, assignment.ErrNotAssigned):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
