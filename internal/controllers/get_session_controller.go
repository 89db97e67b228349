package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/captionq/internal/services"

	"github.com/gin-gonic/gin"
)

type getSessionController struct{ svc services.SessionService }

func NewGetSessionController(svc services.SessionService) *getSessionController {
	return &getSessionController{svc}
}

func (h *getSessionController) Handle(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
