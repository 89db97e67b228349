package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/captionq/internal/services"

	"github.com/gin-gonic/gin"
)

type resetSessionController struct{ svc services.SessionService }

func NewResetSessionController(svc services.SessionService) *resetSessionController {
	return &resetSessionController{svc}
}

func (h *resetSessionController) Handle(c *gin.Context) {
	if err := h.svc.Reset(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
