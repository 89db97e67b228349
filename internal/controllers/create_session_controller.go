package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/osvaldoandrade/captionq/internal/services"
	"github.com/osvaldoandrade/captionq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type createSessionController struct{ svc services.SessionService }

func NewCreateSessionController(svc services.SessionService) *createSessionController {
	return &createSessionController{svc}
}

func (h *createSessionController) Handle(c *gin.Context) {
	var req domain.CreateSessionRequest
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sess, token, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess, "token": token})
}
