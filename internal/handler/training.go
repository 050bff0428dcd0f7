package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pluree/api/internal/middleware"
	"github.com/pluree/api/internal/model"
	"github.com/pluree/api/internal/service"
	"github.com/pluree/api/internal/training"
	ws "github.com/pluree/api/internal/websocket"
	"github.com/pluree/api/pkg/response"
)

// TrainingService is implemented by service.TrainingService
type TrainingService interface {
	StartTraining(ctx context.Context, req *model.TrainingStartRequest, userID string) (*model.TrainingStartResponse, bool, error)
	GetStatus(ctx context.Context, jobID, userID string) (*model.TrainingStatusResponse, error)
	CancelTraining(ctx context.Context, jobID, userID string) (*model.TrainingCancelResponse, error)
}

type TrainingHandler struct {
	service    TrainingService
	validator  *validator.Validate
	configured bool
}

// NewTrainingHandler creates the training handler. configured is false when
// the pipeline webhooks are missing; starts are then refused.
func NewTrainingHandler(svc TrainingService, v *validator.Validate, configured bool) *TrainingHandler {
	return &TrainingHandler{
		service:    svc,
		validator:  v,
		configured: configured,
	}
}

// Start handles POST /api/training/start
// @Summary      Start a training run
// @Description  Queues a persona training run, or returns the caller's active run
// @Tags         Training
// @Accept       json
// @Produce      json
// @Param        request body model.TrainingStartRequest true "Training request"
// @Success      202 {object} model.TrainingStartResponse
// @Success      200 {object} model.TrainingStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/training/start [post]
func (h *TrainingHandler) Start(c *fiber.Ctx) error {
	if !h.configured {
		return response.NotConfigured(c, "Training webhooks are not configured")
	}

	var req model.TrainingStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, created, err := h.service.StartTraining(c.UserContext(), &req, middleware.GetUserID(c))
	if err != nil {
		var vErr *training.ValidationError
		if errors.As(err, &vErr) {
			return response.ValidationError(c, vErr.Message, fiber.Map{vErr.Field: "required"})
		}
		return response.ServiceError(c, err.Error())
	}

	if !created {
		return response.OK(c, result)
	}
	return response.Accepted(c, result)
}

// Status handles GET /api/training/status/:jobId
// @Summary      Get training status
// @Tags         Training
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.TrainingStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/training/status/{jobId} [get]
func (h *TrainingHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/training/cancel/:jobId
// @Summary      Cancel a training run
// @Tags         Training
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.TrainingCancelResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/training/cancel/{jobId} [post]
func (h *TrainingHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.CancelTraining(c.UserContext(), jobID, middleware.GetUserID(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrJobFinished):
			return response.Conflict(c, "Job already completed")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Stream handles GET /ws/training/:jobId. Only the job's owner may
// subscribe; they first receive the job's current state, then every status
// line as it happens.
func (h *TrainingHandler) Stream(hub *ws.Hub) fiber.Handler {
	upgrade := websocket.New(func(c *websocket.Conn) {
		initial, _ := c.Locals("snapshot").([]byte)
		hub.HandleConnection(c, c.Params("jobId"), initial)
	})

	return func(c *fiber.Ctx) error {
		jobID := c.Params("jobId")
		if jobID == "" {
			return response.ValidationError(c, "Job ID is required", nil)
		}

		status, err := h.service.GetStatus(c.UserContext(), jobID, middleware.GetUserID(c))
		if err != nil {
			if errors.Is(err, service.ErrJobNotFound) {
				return response.NotFound(c, "Job not found")
			}
			return response.ServiceError(c, err.Error())
		}

		c.Locals("snapshot", snapshot(status))
		return upgrade(c)
	}
}

func snapshot(status *model.TrainingStatusResponse) []byte {
	data, err := json.Marshal(model.WSStatusMessage{
		Type:           model.WSMessageTypeStatus,
		JobID:          status.JobID,
		Status:         status.Status,
		Phase:          status.Phase,
		PipelineStatus: status.PipelineStatus,
		Event:          "snapshot",
		Message:        status.Message,
		Busy:           status.Busy,
	})
	if err != nil {
		return nil
	}
	return data
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
