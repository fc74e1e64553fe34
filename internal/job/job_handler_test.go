package job

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentforge/deployq/common"
	"github.com/agentforge/deployq/internal/dto"
	"github.com/agentforge/deployq/internal/mocks"
	"github.com/agentforge/deployq/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func setupRouter(svc JobServiceInterface) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())

	h := NewJobHandler(svc, nil)
	r.POST("/jobs", h.Submit)
	r.GET("/jobs", h.List)
	r.GET("/jobs/:id", h.Get)
	r.POST("/jobs/:id/cancel", h.Cancel)
	r.GET("/stats", h.Stats)
	return r
}

func TestJobHandler_Submit(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*mocks.JobServiceMock)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "successful submit",
			body: `{"target_id":"a1","config":{"agent_name":"helper","image":"img:1"}}`,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("SubmitJob", mock.Anything, mock.Anything).
					Return(&dto.SubmitJobResponseDTO{JobID: "j1"}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"job_id":"j1"`,
		},
		{
			name:           "invalid request body JSON",
			body:           "{invalid json}",
			setupMock:      func(m *mocks.JobServiceMock) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing target_id",
			body:           `{"config":{"agent_name":"helper"}}`,
			setupMock:      func(m *mocks.JobServiceMock) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "conflicting active job",
			body: `{"target_id":"a1","config":{"agent_name":"helper","image":"img:1"}}`,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("SubmitJob", mock.Anything, mock.Anything).
					Return(nil, common.Errf(http.StatusConflict, common.CodeConflict,
						"an active deployment already exists for this target"))
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `"code":"CONFLICT"`,
		},
		{
			name: "invalid config payload",
			body: `{"target_id":"a1","config":{"bogus":true}}`,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("SubmitJob", mock.Anything, mock.Anything).
					Return(nil, common.Errf(http.StatusBadRequest, common.CodeInvalidConfig, "config validation failed"))
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"code":"INVALID_CONFIG"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svcMock := new(mocks.JobServiceMock)
			tt.setupMock(svcMock)
			router := setupRouter(svcMock)

			req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectedBody)
			}
		})
	}
}

func TestJobHandler_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svcMock := new(mocks.JobServiceMock)
		svcMock.On("GetJobByID", mock.Anything, "j1").Return(&dto.JobResponseDTO{
			JobID:  "j1",
			Status: "processing",
		}, nil)
		router := setupRouter(svcMock)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/j1", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"processing"`)
	})

	t.Run("not found", func(t *testing.T) {
		svcMock := new(mocks.JobServiceMock)
		svcMock.On("GetJobByID", mock.Anything, "missing").
			Return(nil, common.Errf(http.StatusNotFound, common.CodeNotFound, "job not found"))
		router := setupRouter(svcMock)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
	})
}

func TestJobHandler_Cancel(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svcMock := new(mocks.JobServiceMock)
		svcMock.On("CancelJob", mock.Anything, "j1").Return(nil)
		router := setupRouter(svcMock)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/j1/cancel", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		svcMock := new(mocks.JobServiceMock)
		svcMock.On("CancelJob", mock.Anything, "missing").
			Return(common.Errf(http.StatusNotFound, common.CodeNotFound, "job not found"))
		router := setupRouter(svcMock)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/missing/cancel", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestJobHandler_Stats(t *testing.T) {
	svcMock := new(mocks.JobServiceMock)
	svcMock.On("QueueStats", mock.Anything).Return(&dto.QueueStatsDTO{
		Counts: map[string]int64{"queued": 3},
		Total:  3,
	}, nil)
	router := setupRouter(svcMock)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queued":3`)
}

func TestJobHandler_List(t *testing.T) {
	svcMock := new(mocks.JobServiceMock)
	svcMock.On("ListJobs", mock.Anything, "queued", "").Return([]dto.JobResponseDTO{
		{JobID: "j1", Status: "queued"},
	}, nil)
	router := setupRouter(svcMock)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs?status=queued", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"job_id":"j1"`)
}
