package http

import (
	"context"
	"errors"
	"net/http"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/dto"
	"golang-stock-pulse/internal/scheduler/service"
	"golang-stock-pulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// JobHandler exposes the registered jobs and manual triggers.
type JobHandler struct {
	scheduler service.SchedulerService
	logger    *logger.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(scheduler service.SchedulerService, logger *logger.Logger) *JobHandler {
	return &JobHandler{scheduler: scheduler, logger: logger}
}

// RegisterRoutes registers the job routes to the Echo group.
func (h *JobHandler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetAllJobs)
	g.POST("/:type/trigger", h.TriggerJob)
}

// GetAllJobs godoc
// @Summary List registered jobs
// @Description Live state of every registered job class
// @Tags jobs
// @Produce  json
// @Success 200 {array} dto.JobStatusResponse
// @Router /jobs [get]
func (h *JobHandler) GetAllJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, h.scheduler.Status())
}

// TriggerJob godoc
// @Summary Run a job now
// @Description Runs one tick of the job and waits for it. A busy job answers 409.
// @Tags jobs
// @Produce  json
// @Param   type  path    string true    "Job type"
// @Success 200 {object} dto.TriggerResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.TriggerResponse
// @Router /jobs/{type}/trigger [post]
func (h *JobHandler) TriggerJob(c echo.Context) error {
	jobType := entity.JobType(c.Param("type"))

	// the run outlives a disconnected client
	ctx := context.WithoutCancel(c.Request().Context())
	status, err := h.scheduler.Trigger(ctx, jobType)
	if errors.Is(err, entity.ErrNotFound) {
		return c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	}

	resp := dto.TriggerResponse{Type: string(jobType), Status: string(status)}
	if err != nil {
		resp.Error = err.Error()
		h.logger.Warn("Manual trigger failed", logger.StringField("job_type", string(jobType)), logger.ErrorField(err))
	}
	if status == entity.StatusSkipped {
		return c.JSON(http.StatusConflict, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
