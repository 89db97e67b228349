package controllers

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/osvaldoandrade/captionq/internal/services"

	"github.com/gin-gonic/gin"
)

type exportCSVController struct{ svc services.ExportService }

func NewExportCSVController(svc services.ExportService) *exportCSVController {
	return &exportCSVController{svc}
}

func (h *exportCSVController) Handle(c *gin.Context) {
	id := c.Param("id")
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(c.Request.Context(), id, &buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="captions-%s.csv"`, id))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
