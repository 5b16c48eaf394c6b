package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusops/sits-bridge/internal/dto"
	"github.com/campusops/sits-bridge/internal/middleware"
	"github.com/campusops/sits-bridge/internal/models"
	"github.com/campusops/sits-bridge/internal/service"
	appErrors "github.com/campusops/sits-bridge/pkg/errors"
	"github.com/campusops/sits-bridge/pkg/response"
)

// ReportHandler exposes the asynchronous operator-report endpoints.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Create queues a new report job.
func (h *ReportHandler) Create(c *gin.Context) {
	var req dto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	createdBy := "anonymous"
	if claims := middleware.CurrentClaims(c); claims != nil {
		createdBy = claims.ClientID
	}

	job, err := h.reports.CreateReport(c.Request.Context(), req.Type, createdBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, toReportResponse(job), nil)
}

// Get returns report job status.
func (h *ReportHandler) Get(c *gin.Context) {
	job, err := h.reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, toReportResponse(job), nil)
}

// Download streams the finished CSV.
func (h *ReportHandler) Download(c *gin.Context) {
	job, err := h.reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if job.Status != models.ReportStatusFinished || job.ResultPath == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "report is not finished"))
		return
	}
	c.FileAttachment(*job.ResultPath, job.ID+".csv")
}

func toReportResponse(job *models.ReportJob) dto.ReportJobResponse {
	return dto.ReportJobResponse{
		ID:           job.ID,
		Type:         job.Type,
		Status:       job.Status,
		CreatedAt:    job.CreatedAt,
		FinishedAt:   job.FinishedAt,
		ErrorMessage: job.ErrorMessage,
	}
}
