package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/osvaldoandrade/captionq/internal/middleware"
	"github.com/osvaldoandrade/captionq/internal/services"
	"github.com/osvaldoandrade/captionq/pkg/domain"

	"github.com/gin-gonic/gin"
)

var errBadRequest = errors.New("bad request")

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSizeLimitExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrImageNotInSession):
		return http.StatusConflict
	case errors.Is(err, errBadRequest), errors.Is(err, services.ErrInvalidWebhook):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPredictionFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrPredictionTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUpload),
		errors.Is(err, domain.ErrConversionSubmit),
		errors.Is(err, domain.ErrConversionFetch),
		errors.Is(err, domain.ErrPredictionSubmit),
		errors.Is(err, domain.ErrPredictionFetch),
		errors.Is(err, domain.ErrMalformedResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if step, ok := domain.FailedStep(err); ok {
		body["step"] = step
	}
	if status >= http.StatusInternalServerError {
		middleware.Logger(c).Error("request failed", "status", status, "err", err)
	}
	c.JSON(status, body)
}
