package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluree/api/internal/auth"
	"github.com/pluree/api/internal/middleware"
	"github.com/pluree/api/internal/model"
	"github.com/pluree/api/internal/service"
	"github.com/pluree/api/internal/training"
	ws "github.com/pluree/api/internal/websocket"
	"github.com/pluree/api/pkg/response"
)

type fakeTrainingService struct {
	lastUserID string
	lastReq    *model.TrainingStartRequest
	created    bool
	startErr   error
	statusErr  error
	cancelErr  error
	// owner, when set, is the only caller the fake's jobs are visible to
	owner    string
	canceled bool
}

func (f *fakeTrainingService) StartTraining(_ context.Context, req *model.TrainingStartRequest, userID string) (*model.TrainingStartResponse, bool, error) {
	f.lastUserID = userID
	f.lastReq = req
	if f.startErr != nil {
		return nil, false, f.startErr
	}
	key := userID
	if key == "" {
		key = training.DefaultSentinelKey
	}
	return &model.TrainingStartResponse{
		JobID:          "job-1",
		Status:         model.JobStatusQueued,
		CorrelationKey: key,
		Busy:           true,
		Message:        "Training queued.",
		CreatedAt:      time.Now(),
	}, f.created, nil
}

func (f *fakeTrainingService) visible(userID string) bool {
	return f.owner == "" || f.owner == userID
}

func (f *fakeTrainingService) GetStatus(_ context.Context, jobID, userID string) (*model.TrainingStatusResponse, error) {
	f.lastUserID = userID
	if !f.visible(userID) {
		return nil, service.ErrJobNotFound
	}
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &model.TrainingStatusResponse{JobID: jobID, Status: model.JobStatusRunning, Message: "Status check 2/7: new", Busy: true}, nil
}

func (f *fakeTrainingService) CancelTraining(_ context.Context, jobID, userID string) (*model.TrainingCancelResponse, error) {
	f.lastUserID = userID
	if !f.visible(userID) {
		return nil, service.ErrJobNotFound
	}
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.canceled = true
	return &model.TrainingCancelResponse{Success: true, JobID: jobID, Status: model.JobStatusCanceled}, nil
}

func setupApp(svc TrainingService, configured bool) *fiber.App {
	h := NewTrainingHandler(svc, validator.New(), configured)
	app := fiber.New()
	api := app.Group("/api", middleware.GatewayIdentify())
	api.Post("/training/start", h.Start)
	api.Get("/training/status/:jobId", h.Status)
	api.Post("/training/cancel/:jobId", h.Cancel)
	app.Get("/ws/training/:jobId", middleware.GatewayIdentify(), h.Stream(ws.NewHub()))
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func TestTrainingStart_Created(t *testing.T) {
	svc := &fakeTrainingService{created: true}
	app := setupApp(svc, true)

	resp, body := doRequest(t, app, http.MethodPost, "/api/training/start",
		`{"videoUrl":"https://videos.example/intro.mp4","instagram":"@persona"}`,
		map[string]string{"X-User-Id": "user-42"})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "job-1", body["jobId"])
	assert.Equal(t, "user-42", body["correlationKey"])
	assert.Equal(t, true, body["busy"])
	assert.Equal(t, "user-42", svc.lastUserID)
	assert.Equal(t, "@persona", svc.lastReq.Instagram)
}

func TestTrainingStart_AnonymousUsesSentinel(t *testing.T) {
	svc := &fakeTrainingService{created: true}
	app := setupApp(svc, true)

	resp, body := doRequest(t, app, http.MethodPost, "/api/training/start",
		`{"videoUrl":"https://videos.example/intro.mp4"}`, nil)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "", svc.lastUserID)
	assert.Equal(t, training.DefaultSentinelKey, body["correlationKey"])
}

func TestTrainingStart_ActiveRun(t *testing.T) {
	app := setupApp(&fakeTrainingService{created: false}, true)

	resp, body := doRequest(t, app, http.MethodPost, "/api/training/start",
		`{"videoUrl":"https://videos.example/intro.mp4"}`, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "job-1", body["jobId"])
}

func TestTrainingStart_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		svc  *fakeTrainingService
	}{
		{"invalid json", `{"videoUrl":`, &fakeTrainingService{}},
		{"missing video url", `{"instagram":"@persona"}`, &fakeTrainingService{}},
		{"whitespace video url", `{"videoUrl":"   "}`, &fakeTrainingService{
			startErr: &training.ValidationError{Field: "videoUrl", Message: "Video URL is required."},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupApp(tt.svc, true)
			resp, body := doRequest(t, app, http.MethodPost, "/api/training/start", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, response.CodeValidationError, errorCode(body))
		})
	}
}

func TestTrainingStart_NotConfigured(t *testing.T) {
	svc := &fakeTrainingService{created: true}
	app := setupApp(svc, false)

	resp, body := doRequest(t, app, http.MethodPost, "/api/training/start",
		`{"videoUrl":"https://videos.example/intro.mp4"}`, nil)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, response.CodeNotConfigured, errorCode(body))
	assert.Nil(t, svc.lastReq)
}

func TestTrainingStart_ServiceError(t *testing.T) {
	app := setupApp(&fakeTrainingService{startErr: errors.New("redis down")}, true)

	resp, body := doRequest(t, app, http.MethodPost, "/api/training/start",
		`{"videoUrl":"https://videos.example/intro.mp4"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, response.CodeServiceError, errorCode(body))
}

func TestTrainingStatus(t *testing.T) {
	app := setupApp(&fakeTrainingService{}, true)
	resp, body := doRequest(t, app, http.MethodGet, "/api/training/status/job-7", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "job-7", body["jobId"])
	assert.Equal(t, "Status check 2/7: new", body["message"])

	app = setupApp(&fakeTrainingService{statusErr: service.ErrJobNotFound}, true)
	resp, body = doRequest(t, app, http.MethodGet, "/api/training/status/job-7", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, response.CodeNotFound, errorCode(body))
}

func TestTrainingCancel(t *testing.T) {
	app := setupApp(&fakeTrainingService{}, true)
	resp, body := doRequest(t, app, http.MethodPost, "/api/training/cancel/job-7", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "canceled", body["status"])

	app = setupApp(&fakeTrainingService{cancelErr: service.ErrJobFinished}, true)
	resp, body = doRequest(t, app, http.MethodPost, "/api/training/cancel/job-7", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, response.CodeConflict, errorCode(body))

	app = setupApp(&fakeTrainingService{cancelErr: service.ErrJobNotFound}, true)
	resp, _ = doRequest(t, app, http.MethodPost, "/api/training/cancel/job-7", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrainingCancel_OtherCallersJob(t *testing.T) {
	svc := &fakeTrainingService{owner: "user-a"}
	app := setupApp(svc, true)

	resp, body := doRequest(t, app, http.MethodPost, "/api/training/cancel/job-7", "",
		map[string]string{"X-User-Id": "user-b"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, response.CodeNotFound, errorCode(body))
	assert.Equal(t, "user-b", svc.lastUserID)
	assert.False(t, svc.canceled)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/training/status/job-7", "",
		map[string]string{"X-User-Id": "user-b"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodPost, "/api/training/cancel/job-7", "",
		map[string]string{"X-User-Id": "user-a"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "canceled", body["status"])
	assert.True(t, svc.canceled)
}

func TestTrainingStream_OtherCallersJob(t *testing.T) {
	svc := &fakeTrainingService{owner: "user-a"}
	app := setupApp(svc, true)

	resp, body := doRequest(t, app, http.MethodGet, "/ws/training/job-7", "",
		map[string]string{"X-User-Id": "user-b"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, response.CodeNotFound, errorCode(body))

	// the owner passes the ownership check and reaches the upgrade
	resp, _ = doRequest(t, app, http.MethodGet, "/ws/training/job-7", "",
		map[string]string{"X-User-Id": "user-a"})
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestAuthVerify(t *testing.T) {
	h := NewAuthHandler(nil, "secret")
	app := fiber.New()
	app.Get("/auth/verify", h.Verify)

	token, err := auth.NewLegacyToken("user-42", "admin@example.com", "secret", time.Hour)
	require.NoError(t, err)

	resp, _ := doRequest(t, app, http.MethodGet, "/auth/verify", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "user-42", resp.Header.Get("X-User-Id"))
	assert.Equal(t, "admin@example.com", resp.Header.Get("X-User-Email"))

	resp, _ = doRequest(t, app, http.MethodGet, "/auth/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodGet, "/auth/verify", "", map[string]string{"Authorization": "Bearer forged"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
