package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusops/sits-bridge/internal/dto"
	"github.com/campusops/sits-bridge/internal/service"
	appErrors "github.com/campusops/sits-bridge/pkg/errors"
	"github.com/campusops/sits-bridge/pkg/response"
)

// AssignmentHandler exposes the assignment registration endpoints consumed
// by the student-records side of the bridge.
type AssignmentHandler struct {
	assignments *service.AssignmentService
}

// NewAssignmentHandler constructs handler.
func NewAssignmentHandler(assignments *service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments}
}

// Submit registers a batch of new assignment definitions.
func (h *AssignmentHandler) Submit(c *gin.Context) {
	var req dto.SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	specs, err := h.assignments.AddAssignments(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, specs)
}

// Update applies a batch of changed assignment definitions.
func (h *AssignmentHandler) Update(c *gin.Context) {
	var req dto.SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	specs, err := h.assignments.UpdateAssignments(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, specs, nil)
}

// Get returns a single assignment by its SITS reference.
func (h *AssignmentHandler) Get(c *gin.Context) {
	spec, err := h.assignments.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.AssignmentStatus{AssignmentSpec: spec, State: spec.State()}, nil)
}

// Delete removes an assignment that has not yet been materialized.
func (h *AssignmentHandler) Delete(c *gin.Context) {
	if err := h.assignments.Delete(c.Request.Context(), c.Param("ref")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
