package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	internalmiddleware "github.com/pfe-hub/pfe-planner-api/internal/middleware"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
)

type defenseGeneratorMock struct {
	captured dto.GenerateDefensesRequest
}

func (m *defenseGeneratorMock) Generate(ctx context.Context, req dto.GenerateDefensesRequest) (*dto.GenerateDefensesResponse, error) {
	m.captured = req
	return &dto.GenerateDefensesResponse{Stats: dto.GenerationStats{ProjectCount: 1, PlacedCount: 1}}, nil
}

type planningExporterMock struct {
	format string
}

func (m *planningExporterMock) ExportPlanning(ctx context.Context, query dto.DefensePlanningQuery, format string) ([]byte, string, error) {
	m.format = format
	return []byte("payload"), "text/csv", nil
}

func TestDefenseGenerateSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockGen := &defenseGeneratorMock{}
	handler := &DefenseHandler{generator: mockGen}
	req, _ := http.NewRequest(http.MethodPost, "/defenses/generate", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.Generate(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"A1", "A2"}, mockGen.captured.Rooms)
	require.Equal(t, []string{"2026-06-15"}, mockGen.captured.Dates)
	require.True(t, mockGen.captured.ReplaceExisting)
}

func TestDefenseGenerateValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &DefenseHandler{generator: &defenseGeneratorMock{}}
	req, _ := http.NewRequest(http.MethodPost, "/defenses/generate", bytes.NewReader([]byte(`{"rooms":`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.Generate(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDefenseGenerateUnauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &DefenseHandler{generator: &defenseGeneratorMock{}}
	router := gin.New()
	router.POST("/defenses/generate", internalmiddleware.RequireRoles(models.RoleAdmin), handler.Generate)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/defenses/generate", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDefenseGenerateForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &DefenseHandler{generator: &defenseGeneratorMock{}}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher})
		c.Next()
	})
	router.POST("/defenses/generate", internalmiddleware.RequireRoles(models.RoleAdmin), handler.Generate)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/defenses/generate", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestDefenseExportSetsAttachmentHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockExp := &planningExporterMock{}
	handler := &DefenseHandler{exporter: mockExp}
	router := gin.New()
	router.GET("/defenses/export", handler.Export)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/defenses/export?format=csv&room=A1", nil)

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "csv", mockExp.format)
	require.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="planning.csv"`, w.Header().Get("Content-Disposition"))
	require.Equal(t, "payload", w.Body.String())
}

func validGeneratePayload() []byte {
	return []byte(`{"rooms":["A1","A2"],"dates":["2026-06-15"],"replaceExisting":true}`)
}
