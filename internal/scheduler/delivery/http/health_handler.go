package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler serves liveness and the Prometheus scrape endpoint.
type HealthHandler struct {
	gatherer prometheus.Gatherer
}

func NewHealthHandler(gatherer prometheus.Gatherer) *HealthHandler {
	return &HealthHandler{gatherer: gatherer}
}

// RegisterRoutes mounts /healthz and, when a gatherer is set, metricsPath.
func (h *HealthHandler) RegisterRoutes(e *echo.Echo, metricsPath string) {
	e.GET("/healthz", h.Health)
	if h.gatherer != nil {
		e.GET(metricsPath, echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
