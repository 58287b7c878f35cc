package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduforge/eduforge-api/internal/middleware"
	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/repository"
	"github.com/eduforge/eduforge-api/internal/service"
)

type requestRepoStub struct {
	items map[string]*models.Request
}

func (s *requestRepoStub) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	return nil, 0, nil
}

func (s *requestRepoStub) FindByID(ctx context.Context, id string) (*models.Request, error) {
	req, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *req
	return &copied, nil
}

type catalogReaderStub struct {
	items map[string]*models.CatalogService
}

func (s *catalogReaderStub) FindByID(ctx context.Context, id string) (*models.CatalogService, error) {
	svc, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *svc
	return &copied, nil
}

type requestWorkflowStub struct {
	created     []repository.CreateRequestParams
	transitions []repository.UpdateRequestStatusParams
}

func (s *requestWorkflowStub) CreateRequest(ctx context.Context, params repository.CreateRequestParams) error {
	s.created = append(s.created, params)
	return nil
}

func (s *requestWorkflowStub) UpdateRequestStatus(ctx context.Context, params repository.UpdateRequestStatusParams) error {
	s.transitions = append(s.transitions, params)
	return nil
}

func newRequestHandler(repo *requestRepoStub, catalog *catalogReaderStub, workflow *requestWorkflowStub) *RequestHandler {
	return NewRequestHandler(service.NewRequestService(repo, catalog, workflow, nil, nil))
}

func testContext(t *testing.T, method, target string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, target, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestRequestHandlerCreate(t *testing.T) {
	catalog := &catalogReaderStub{items: map[string]*models.CatalogService{
		"svc-1": {ID: "svc-1", Title: "Essay review", Active: true},
	}}
	workflow := &requestWorkflowStub{}
	handler := newRequestHandler(&requestRepoStub{}, catalog, workflow)

	body, _ := json.Marshal(service.CreateRequestRequest{
		ServiceID:    "svc-1",
		Title:        "Review my thesis introduction",
		Instructions: "Focus on the argument structure.",
		Deadline:     time.Now().UTC().Add(72 * time.Hour),
	})
	c, w := testContext(t, http.MethodPost, "/requests", body,
		&models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, workflow.created, 1)

	var envelope struct {
		Data models.Request `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, models.RequestStatusCreated, envelope.Data.Status)
}

func TestRequestHandlerCreateInvalidBody(t *testing.T) {
	handler := newRequestHandler(&requestRepoStub{}, &catalogReaderStub{}, &requestWorkflowStub{})

	c, w := testContext(t, http.MethodPost, "/requests", []byte(`not json`),
		&models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestHandlerGetNotFound(t *testing.T) {
	handler := newRequestHandler(&requestRepoStub{}, &catalogReaderStub{}, &requestWorkflowStub{})

	c, w := testContext(t, http.MethodGet, "/requests/req-404", nil,
		&models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "id", Value: "req-404"}}

	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestHandlerGetForbiddenForOtherStudent(t *testing.T) {
	repo := &requestRepoStub{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1", Status: models.RequestStatusCreated},
	}}
	handler := newRequestHandler(repo, &catalogReaderStub{}, &requestWorkflowStub{})

	c, w := testContext(t, http.MethodGet, "/requests/req-1", nil,
		&models.JWTClaims{UserID: "stu-2", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Get(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestHandlerUpdateStatusInvalidTransition(t *testing.T) {
	repo := &requestRepoStub{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1", Status: models.RequestStatusCreated},
	}}
	handler := newRequestHandler(repo, &catalogReaderStub{}, &requestWorkflowStub{})

	body, _ := json.Marshal(service.UpdateRequestStatusRequest{Status: models.RequestStatusInProgress})
	c, w := testContext(t, http.MethodPut, "/requests/req-1/status", body,
		&models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.UpdateStatus(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "INVALID_TRANSITION", envelope.Error.Code)
}

func TestRequestHandlerMissingClaimsIsForbidden(t *testing.T) {
	handler := newRequestHandler(&requestRepoStub{}, &catalogReaderStub{}, &requestWorkflowStub{})

	body, _ := json.Marshal(service.CreateRequestRequest{
		ServiceID: "svc-1", Title: "X", Deadline: time.Now().UTC().Add(time.Hour),
	})
	c, w := testContext(t, http.MethodPost, "/requests", body, nil)

	handler.Create(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
