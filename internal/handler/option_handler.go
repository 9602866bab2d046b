package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	"github.com/pfe-hub/pfe-planner-api/internal/service"
	appErrors "github.com/pfe-hub/pfe-planner-api/pkg/errors"
	"github.com/pfe-hub/pfe-planner-api/pkg/response"
)

// OptionHandler manages option allocation endpoints.
type OptionHandler struct {
	service *service.OptionAllocationService
}

// NewOptionHandler constructs handler.
func NewOptionHandler(svc *service.OptionAllocationService) *OptionHandler {
	return &OptionHandler{service: svc}
}

// Allocate godoc
// @Summary Allocate candidates to option tracks
// @Tags Options
// @Accept json
// @Produce json
// @Param payload body dto.AllocateOptionsRequest true "Capacity split payload"
// @Success 200 {object} response.Envelope
// @Router /options/allocate [post]
func (h *OptionHandler) Allocate(c *gin.Context) {
	var req dto.AllocateOptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Allocate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Results godoc
// @Summary Latest option allocation results
// @Tags Options
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /options/assignments [get]
func (h *OptionHandler) Results(c *gin.Context) {
	result, err := h.service.Results(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
