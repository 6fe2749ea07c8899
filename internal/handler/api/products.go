package api

import (
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/service/metrics"
	"PricePulse/internal/usecase"
	xhttp "PricePulse/pkg/http"
	"PricePulse/pkg/util"

	"github.com/labstack/echo/v4"
)

// UpsertProduct is the catalog sync entry point. The path id wins over any id in the body.
func (h *PricingHandler) UpsertProduct(c echo.Context) error {
	req := &models.UpsertProductRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	req.ProductID = c.Param("id")
	p, err := h.intel.UpsertProduct(c.Request().Context(), req.Product())
	if err != nil {
		return h.errorResponse(c, "upsert product", err)
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *PricingHandler) GetProduct(c echo.Context) error {
	req := &models.ProductRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.intel.GetProduct(c.Request().Context(), req.ProductID)
	if err != nil {
		return h.errorResponse(c, "get product", err)
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *PricingHandler) Intelligence(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.EndpointLatency.WithLabelValues("intelligence").Observe(time.Since(start).Seconds()) }()

	req := &models.IntelligenceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	q := usecase.IntelligenceQuery{Limit: req.Limit}
	if req.Since != "" {
		since, ok := util.ParseTime(req.Since)
		if !ok {
			return xhttp.BadRequestResponse(c, xhttp.FieldError("ERR_FORMAT", "since", "since must be RFC3339, a date or a unix timestamp"))
		}
		q.Since = since
	}
	intel, err := h.intel.GetCurrentIntelligence(c.Request().Context(), req.ProductID, q)
	if err != nil {
		return h.errorResponse(c, "intelligence", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	c.Response().Header().Set(echo.HeaderLastModified, intel.GeneratedAt.UTC().Format(time.RFC1123))
	return xhttp.SuccessResponse(c, intel)
}

func (h *PricingHandler) PortfolioSummary(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.EndpointLatency.WithLabelValues("portfolio").Observe(time.Since(start).Seconds()) }()

	req := &models.PortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	summary, err := h.intel.GetPortfolioSummary(c.Request().Context(), req.ProductIDs, req.TopN)
	if err != nil {
		return h.errorResponse(c, "portfolio summary", err)
	}
	return xhttp.SuccessResponse(c, summary)
}
