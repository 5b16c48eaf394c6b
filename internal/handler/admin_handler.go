package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusops/sits-bridge/internal/models"
	"github.com/campusops/sits-bridge/pkg/response"
)

type connectionProber interface {
	TestConnection(ctx context.Context) (int, error)
}

type queueInspector interface {
	ListByRef(ctx context.Context, sitsRef string) ([]models.QueuedGrade, error)
}

// AdminHandler exposes operational endpoints for bridge operators.
type AdminHandler struct {
	sits  connectionProber
	queue queueInspector
}

// NewAdminHandler constructs handler.
func NewAdminHandler(sits connectionProber, queue queueInspector) *AdminHandler {
	return &AdminHandler{sits: sits, queue: queue}
}

// TestConnection probes the SITS endpoint and reports the upstream status.
func (h *AdminHandler) TestConnection(c *gin.Context) {
	status, err := h.sits.TestConnection(c.Request.Context())
	if err != nil {
		response.JSON(c, http.StatusBadGateway, gin.H{"reachable": false, "error": err.Error()}, nil)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"reachable": status == http.StatusOK, "upstream_status": status}, nil)
}

// QueueState lists every queue row for one assignment, newest first, so an
// operator can see exactly what happened to a batch after an export run.
func (h *AdminHandler) QueueState(c *gin.Context) {
	rows, err := h.queue.ListByRef(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}
	pending := 0
	for i := range rows {
		if rows[i].Pending() {
			pending++
		}
	}
	response.JSON(c, http.StatusOK, gin.H{"grades": rows, "pending": pending}, nil)
}
