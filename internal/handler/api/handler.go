package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/service/metrics"
	"PricePulse/internal/service/ratelimit"
	"PricePulse/internal/usecase"
	xhttp "PricePulse/pkg/http"
	applogger "PricePulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// PricingHandler serves the tracking, intelligence and portfolio API.
type PricingHandler struct {
	scheduler *usecase.TrackingScheduler
	intel     *usecase.IntelligenceService
	health    HealthChecker
	limiter   *ratelimit.Limiter
	logger    *applogger.Logger
}

func NewPricingHandler(
	scheduler *usecase.TrackingScheduler,
	intel *usecase.IntelligenceService,
	health HealthChecker,
	limiter *ratelimit.Limiter,
	logger *applogger.Logger,
) *PricingHandler {
	metrics.Register()
	return &PricingHandler{scheduler: scheduler, intel: intel, health: health, limiter: limiter, logger: logger}
}

var _ xhttp.Handler = (*PricingHandler)(nil)

func (h *PricingHandler) RegisterRoutes(e *echo.Echo) {
	var mutating []echo.MiddlewareFunc
	if h.limiter != nil {
		mutating = append(mutating, h.limiter.Middleware())
	}

	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.PUT("/products/:id", h.UpsertProduct, mutating...)
	g.GET("/products/:id", h.GetProduct)
	g.GET("/products/:id/intelligence", h.Intelligence)

	g.POST("/tracking", h.StartTracking, mutating...)
	g.GET("/tracking", h.ListJobs)
	g.GET("/tracking/:job_id", h.GetJob)
	g.DELETE("/tracking/:job_id", h.StopTracking, mutating...)

	g.POST("/portfolio/summary", h.PortfolioSummary, mutating...)
}

func (h *PricingHandler) Health(c echo.Context) error {
	if h.health != nil {
		if err := h.health.Health(c.Request().Context()); err != nil {
			h.logger.Warn("health check failed", applogger.Error(err))
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// errorResponse maps domain errors onto the API envelope.
func (h *PricingHandler) errorResponse(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	kind := "internal"
	defer func() { metrics.EndpointErrors.WithLabelValues(op, kind).Inc() }()
	switch {
	case errors.Is(err, models.ErrDuplicateJob):
		appErr, kind = xhttp.ConflictError(err.Error()), "conflict"
	case errors.Is(err, models.ErrJobNotFound), errors.Is(err, models.ErrProductNotFound):
		appErr, kind = xhttp.NotFoundError(err.Error()), "not_found"
	case models.IsInvalidInput(err):
		appErr, kind = xhttp.BadRequestError(err.Error()), "invalid"
	case errors.Is(err, usecase.ErrSchedulerClosed):
		appErr, kind = xhttp.UnavailableError(err.Error()).WithRetryAfter(5*time.Second), "unavailable"
	default:
		h.logger.Error(op+" failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("Something went wrong").WithError(err))
	}
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}
