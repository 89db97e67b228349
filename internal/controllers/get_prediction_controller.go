package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/captionq/internal/services"

	"github.com/gin-gonic/gin"
)

type getPredictionController struct{ svc services.PipelineService }

func NewGetPredictionController(svc services.PipelineService) *getPredictionController {
	return &getPredictionController{svc}
}

func (h *getPredictionController) Handle(c *gin.Context) {
	job, err := h.svc.GetPrediction(c.Request.Context(), c.Param("predictionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
