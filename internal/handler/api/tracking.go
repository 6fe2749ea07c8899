package api

import (
	"PricePulse/internal/domain/models"
	xhttp "PricePulse/pkg/http"
	applogger "PricePulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

func (h *PricingHandler) StartTracking(c echo.Context) error {
	req := &models.StartTrackingRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id, err := h.scheduler.Start(c.Request().Context(), req.ProductID, req.Competitors, req.IntervalMinutes)
	if err != nil {
		return h.errorResponse(c, "start tracking", err)
	}
	h.logger.Debug("tracking requested", applogger.String("job_id", id), applogger.String("remote", c.RealIP()))
	return xhttp.CreatedResponse(c, models.StartTrackingResponse{JobID: id})
}

func (h *PricingHandler) StopTracking(c echo.Context) error {
	req := &models.JobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.scheduler.Stop(c.Request().Context(), req.JobID); err != nil {
		return h.errorResponse(c, "stop tracking", err)
	}
	job, err := h.scheduler.Get(c.Request().Context(), req.JobID)
	if err != nil {
		return h.errorResponse(c, "stop tracking", err)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *PricingHandler) GetJob(c echo.Context) error {
	req := &models.JobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.scheduler.Get(c.Request().Context(), req.JobID)
	if err != nil {
		return h.errorResponse(c, "get job", err)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *PricingHandler) ListJobs(c echo.Context) error {
	jobs, err := h.scheduler.List(c.Request().Context())
	if err != nil {
		return h.errorResponse(c, "list jobs", err)
	}
	return xhttp.ListResponse(c, jobs, int64(len(jobs)))
}
