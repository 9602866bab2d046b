package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	internalmiddleware "github.com/pfe-hub/pfe-planner-api/internal/middleware"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	"github.com/pfe-hub/pfe-planner-api/internal/service"
)

type exportJobServiceMock struct {
	createResp  *dto.ExportJobResponse
	createErr   error
	statusResp  *dto.ExportJobStatusResponse
	statusErr   error
	download    *service.ExportDownload
	downloadErr error
}

func (m *exportJobServiceMock) CreateJob(ctx context.Context, req dto.ExportJobRequest, actorID string) (*dto.ExportJobResponse, error) {
	return m.createResp, m.createErr
}

func (m *exportJobServiceMock) GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ExportJobStatusResponse, error) {
	return m.statusResp, m.statusErr
}

func (m *exportJobServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error) {
	return m.download, m.downloadErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestExportJobHandlerCreateJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &exportJobServiceMock{
		createResp: &dto.ExportJobResponse{ID: "job-1", Status: models.ExportStatusQueued, Progress: 0},
	}
	handler := &ExportJobHandler{service: mockSvc}

	payload, _ := json.Marshal(dto.ExportJobRequest{Format: models.ExportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/defenses/export-jobs", payload)
	c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.CreateJob(c)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestExportJobHandlerCreateJobUnauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &ExportJobHandler{service: &exportJobServiceMock{}}

	payload, _ := json.Marshal(dto.ExportJobRequest{Format: models.ExportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/defenses/export-jobs", payload)

	handler.CreateJob(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExportJobHandlerStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &exportJobServiceMock{
		statusResp: &dto.ExportJobStatusResponse{ID: "job-1", Status: models.ExportStatusFinished, Progress: 100},
	}
	handler := &ExportJobHandler{service: mockSvc}

	c, w := newGinContext(http.MethodGet, "/export-jobs/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.Status(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestExportJobHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp("", "planning*.csv")
	require.NoError(t, err)
	defer os.Remove(file.Name())
	_, _ = file.WriteString("data")
	_, _ = file.Seek(0, 0)

	mockSvc := &exportJobServiceMock{
		download: &service.ExportDownload{
			File:      file,
			Filename:  "planning.csv",
			Format:    models.ExportFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	handler := &ExportJobHandler{service: mockSvc}

	c, w := newGinContext(http.MethodGet, "/export/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "data", w.Body.String())
}
