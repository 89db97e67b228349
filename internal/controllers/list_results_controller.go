package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/captionq/internal/services"

	"github.com/gin-gonic/gin"
)

type listResultsController struct{ svc services.SessionService }

func NewListResultsController(svc services.SessionService) *listResultsController {
	return &listResultsController{svc}
}

func (h *listResultsController) Handle(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"images":    snap.Images,
		"results":   snap.Results,
		"lastError": snap.LastError,
	})
}
