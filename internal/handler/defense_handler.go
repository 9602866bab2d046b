package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	"github.com/pfe-hub/pfe-planner-api/internal/service"
	appErrors "github.com/pfe-hub/pfe-planner-api/pkg/errors"
	"github.com/pfe-hub/pfe-planner-api/pkg/response"
)

type defensePlanner interface {
	List(ctx context.Context, query dto.DefensePlanningQuery) ([]models.DefenseSession, error)
	Get(ctx context.Context, id string) (*models.DefenseSession, error)
	Create(ctx context.Context, req dto.CreateDefenseRequest) (*models.DefenseSession, error)
	Update(ctx context.Context, id string, req dto.UpdateDefenseRequest) (*models.DefenseSession, error)
	Delete(ctx context.Context, id string) error
	SetPublished(ctx context.Context, id string, published bool) error
}

type defenseGenerator interface {
	Generate(ctx context.Context, req dto.GenerateDefensesRequest) (*dto.GenerateDefensesResponse, error)
}

type planningExporter interface {
	ExportPlanning(ctx context.Context, query dto.DefensePlanningQuery, format string) ([]byte, string, error)
}

// DefenseHandler manages defense session endpoints.
type DefenseHandler struct {
	service   defensePlanner
	generator defenseGenerator
	exporter  planningExporter
}

// NewDefenseHandler constructs handler.
func NewDefenseHandler(svc *service.DefenseService, generator *service.DefenseGeneratorService, exporter *service.ExportService) *DefenseHandler {
	return &DefenseHandler{service: svc, generator: generator, exporter: exporter}
}

func planningQuery(c *gin.Context) dto.DefensePlanningQuery {
	var query dto.DefensePlanningQuery
	query.From = c.Query("from")
	query.To = c.Query("to")
	query.Room = c.Query("room")
	if raw := c.Query("published"); raw != "" {
		if published, err := strconv.ParseBool(raw); err == nil {
			query.Published = &published
		}
	}
	return query
}

// List godoc
// @Summary List defense sessions
// @Tags Defenses
// @Produce json
// @Param from query string false "Start date (2006-01-02)"
// @Param to query string false "End date (2006-01-02)"
// @Param room query string false "Filter by room"
// @Param published query bool false "Filter by publication flag"
// @Success 200 {object} response.Envelope
// @Router /defenses [get]
func (h *DefenseHandler) List(c *gin.Context) {
	sessions, err := h.service.List(c.Request.Context(), planningQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Get godoc
// @Summary Get defense session by id
// @Tags Defenses
// @Produce json
// @Param id path string true "Defense ID"
// @Success 200 {object} response.Envelope
// @Router /defenses/{id} [get]
func (h *DefenseHandler) Get(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Create godoc
// @Summary Schedule a defense session manually
// @Tags Defenses
// @Accept json
// @Produce json
// @Param payload body dto.CreateDefenseRequest true "Defense payload"
// @Success 201 {object} response.Envelope
// @Router /defenses [post]
func (h *DefenseHandler) Create(c *gin.Context) {
	var req dto.CreateDefenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Update godoc
// @Summary Update defense session
// @Tags Defenses
// @Accept json
// @Produce json
// @Param id path string true "Defense ID"
// @Param payload body dto.UpdateDefenseRequest true "Defense payload"
// @Success 200 {object} response.Envelope
// @Router /defenses/{id} [put]
func (h *DefenseHandler) Update(c *gin.Context) {
	var req dto.UpdateDefenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Delete godoc
// @Summary Delete defense session
// @Tags Defenses
// @Produce json
// @Param id path string true "Defense ID"
// @Success 204
// @Router /defenses/{id} [delete]
func (h *DefenseHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetPublished godoc
// @Summary Toggle publication of a defense session
// @Tags Defenses
// @Accept json
// @Produce json
// @Param id path string true "Defense ID"
// @Param payload body dto.PublishDefenseRequest true "Publication payload"
// @Success 204
// @Router /defenses/{id}/publish [patch]
func (h *DefenseHandler) SetPublished(c *gin.Context) {
	var req dto.PublishDefenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.SetPublished(c.Request.Context(), c.Param("id"), req.Published); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Generate godoc
// @Summary Generate a defense planning over rooms and dates
// @Tags Defenses
// @Accept json
// @Produce json
// @Param payload body dto.GenerateDefensesRequest true "Generation payload"
// @Success 200 {object} response.Envelope
// @Router /defenses/generate [post]
func (h *DefenseHandler) Generate(c *gin.Context) {
	var req dto.GenerateDefensesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Export the planning as CSV or PDF
// @Tags Defenses
// @Produce octet-stream
// @Param format query string true "Export format (csv or pdf)"
// @Param from query string false "Start date (2006-01-02)"
// @Param to query string false "End date (2006-01-02)"
// @Param room query string false "Filter by room"
// @Success 200
// @Router /defenses/export [get]
func (h *DefenseHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "pdf")
	payload, contentType, err := h.exporter.ExportPlanning(c.Request.Context(), planningQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("planning.%s", format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
