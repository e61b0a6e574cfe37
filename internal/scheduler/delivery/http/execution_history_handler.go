package http

import (
	"errors"
	"net/http"
	"strconv"

	"golang-stock-pulse/internal/entity"
	"golang-stock-pulse/internal/scheduler/dto"
	"golang-stock-pulse/internal/scheduler/service"
	"golang-stock-pulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ExecutionHistoryHandler handles HTTP requests for execution history.
type ExecutionHistoryHandler struct {
	historyService service.ExecutionHistoryService
	logger         *logger.Logger
}

// NewExecutionHistoryHandler creates a new ExecutionHistoryHandler.
func NewExecutionHistoryHandler(historyService service.ExecutionHistoryService, logger *logger.Logger) *ExecutionHistoryHandler {
	return &ExecutionHistoryHandler{historyService: historyService, logger: logger}
}

// RegisterRoutes registers the execution history routes to the Echo group.
func (h *ExecutionHistoryHandler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetAllExecutionHistories)
	g.GET("/:id", h.GetExecutionHistoryByID)
}

// RegisterJobRoutes registers the job-specific execution history routes.
func (h *ExecutionHistoryHandler) RegisterJobRoutes(g *echo.Group) {
	g.GET("/:type/executions", h.GetExecutionHistoriesByJobType)
}

// GetAllExecutionHistories godoc
// @Summary Get recent execution histories
// @Tags executions
// @Produce  json
// @Success 200 {array} dto.ExecutionHistoryResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /executions [get]
func (h *ExecutionHistoryHandler) GetAllExecutionHistories(c echo.Context) error {
	histories, err := h.historyService.GetAllExecutionHistories(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to get all execution histories", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get execution histories"})
	}
	return c.JSON(http.StatusOK, histories)
}

// GetExecutionHistoryByID godoc
// @Summary Get an execution history by ID
// @Tags executions
// @Produce  json
// @Param   id  path    int true    "Execution History ID"
// @Success 200 {object} dto.ExecutionHistoryResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /executions/{id} [get]
func (h *ExecutionHistoryHandler) GetExecutionHistoryByID(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid history id"})
	}

	history, err := h.historyService.GetExecutionHistoryByID(c.Request().Context(), uint(id))
	if errors.Is(err, entity.ErrNotFound) {
		return c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, history)
}

// GetExecutionHistoriesByJobType godoc
// @Summary Get execution histories for a job type
// @Tags jobs
// @Produce  json
// @Param   type  path    string true    "Job type"
// @Success 200 {array} dto.ExecutionHistoryResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /jobs/{type}/executions [get]
func (h *ExecutionHistoryHandler) GetExecutionHistoriesByJobType(c echo.Context) error {
	jobType := entity.JobType(c.Param("type"))
	histories, err := h.historyService.GetExecutionHistoriesByJobType(c.Request().Context(), jobType)
	if err != nil {
		h.logger.Error("Failed to get execution histories", logger.StringField("job_type", string(jobType)), logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, histories)
}
