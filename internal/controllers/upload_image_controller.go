package controllers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/captionq/internal/providers"
	"github.com/osvaldoandrade/captionq/internal/services"
	"github.com/osvaldoandrade/captionq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type uploadImageController struct {
	svc      services.PipelineService
	maxBytes int64
}

func NewUploadImageController(svc services.PipelineService, maxBytes int64) *uploadImageController {
	return &uploadImageController{svc: svc, maxBytes: maxBytes}
}

// Handle accepts a JSON body {file, fileName, contentType} or a multipart
// form with a "file" part. With ?wait=true the pipeline runs inline.
func (h *uploadImageController) Handle(c *gin.Context) {
	up, err := h.bind(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(up.Data) == 0 && strings.TrimSpace(up.Payload) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	sessionID := c.Param("id")
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		res, err := h.svc.Process(c.Request.Context(), sessionID, up)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	run, created, err := h.svc.Start(c.Request.Context(), sessionID, up, strings.TrimSpace(c.GetHeader("Idempotency-Key")))
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, run)
}

func (h *uploadImageController) bind(c *gin.Context) (domain.ImageUpload, error) {
	var up domain.ImageUpload
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBindJSON(&up); err != nil {
			return up, fmt.Errorf("%w: invalid request body", errBadRequest)
		}
		return up, nil
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return up, fmt.Errorf("%w: missing file part", errBadRequest)
	}
	if err := providers.CheckFileSize(fh.Size, h.maxBytes); err != nil {
		return up, err
	}
	f, err := fh.Open()
	if err != nil {
		return up, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return up, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	up.Data = data
	up.FileName = c.DefaultPostForm("fileName", fh.Filename)
	up.ContentType = c.DefaultPostForm("contentType", fh.Header.Get("Content-Type"))
	if up.ContentType == "application/octet-stream" {
		up.ContentType = ""
	}
	return up, nil
}
