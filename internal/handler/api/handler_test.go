package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	drepo "PricePulse/internal/domain/repository"
	"PricePulse/internal/repository"
	"PricePulse/internal/service/ratelimit"
	"PricePulse/internal/services/detector"
	"PricePulse/internal/services/market"
	"PricePulse/internal/services/portfolio"
	"PricePulse/internal/services/pricing"
	"PricePulse/internal/usecase"
	applogger "PricePulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestAPI(t *testing.T, limiter *ratelimit.Limiter) *echo.Echo {
	t.Helper()
	l := applogger.NewNop()
	store := repository.NewMemoryStore()
	src := drepo.ObservationSourceFunc(func(_ context.Context, productID, competitor string) (models.Observation, error) {
		return models.Observation{ProductID: productID, Competitor: competitor, Price: 95, Currency: "USD", Available: true, Timestamp: time.Now().UTC(), Confidence: 1}, nil
	})
	proc := usecase.NewObservationProcessor(store, detector.New(), nil, l)
	sched := usecase.NewTrackingScheduler(src, proc, store, nil, l, usecase.DefaultSchedulerConfig())
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })
	intel := usecase.NewIntelligenceService(store, market.NewAnalyzer(), pricing.NewEngine(), portfolio.NewAggregator(),
		nil, l, usecase.DefaultIntelligenceConfig(), usecase.WithJobLookup(sched))

	e := echo.New()
	NewPricingHandler(sched, intel, store, limiter, l).RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func TestProductRoutes(t *testing.T) {
	e := newTestAPI(t, nil)

	code, env := do(t, e, http.MethodPut, "/api/products/sku-1", `{"cost":50,"currentPrice":100,"unitsSold":10}`)
	if code != http.StatusOK {
		t.Fatalf("upsert status %d: %s", code, env.Data)
	}
	var p models.Product
	_ = json.Unmarshal(env.Data, &p)
	if p.ID != "sku-1" || p.Currency != "USD" {
		t.Fatalf("unexpected product %+v", p)
	}

	if code, _ := do(t, e, http.MethodPut, "/api/products/sku-2", `{"cost":5,"currentPrice":0}`); code != http.StatusBadRequest {
		t.Fatalf("zero price should be rejected, got %d", code)
	}
	if code, _ := do(t, e, http.MethodGet, "/api/products/sku-1", ""); code != http.StatusOK {
		t.Fatalf("get product status %d", code)
	}
	if code, _ := do(t, e, http.MethodGet, "/api/products/missing", ""); code != http.StatusNotFound {
		t.Fatalf("missing product status %d", code)
	}
}

func TestTrackingRoutes(t *testing.T) {
	e := newTestAPI(t, nil)

	code, env := do(t, e, http.MethodPost, "/api/tracking", `{"productId":"sku-1","competitors":["acme","globex"],"intervalMinutes":30}`)
	if code != http.StatusCreated {
		t.Fatalf("start status %d: %s", code, env.Data)
	}
	var started models.StartTrackingResponse
	_ = json.Unmarshal(env.Data, &started)
	if started.JobID == "" {
		t.Fatalf("no job id returned")
	}

	if code, _ := do(t, e, http.MethodPost, "/api/tracking", `{"productId":"sku-1","competitors":["acme"]}`); code != http.StatusConflict {
		t.Fatalf("duplicate status %d, want 409", code)
	}
	if code, _ := do(t, e, http.MethodPost, "/api/tracking", `{"productId":"sku-2","competitors":[]}`); code != http.StatusBadRequest {
		t.Fatalf("empty competitors status %d, want 400", code)
	}
	if code, _ := do(t, e, http.MethodPost, "/api/tracking", `{"productId":"sku-2","competitors":["a"],"intervalMinutes":-5}`); code != http.StatusBadRequest {
		t.Fatalf("negative interval status %d, want 400", code)
	}

	code, env = do(t, e, http.MethodGet, "/api/tracking/"+started.JobID, "")
	var job models.TrackingJob
	_ = json.Unmarshal(env.Data, &job)
	if code != http.StatusOK || job.ProductID != "sku-1" || job.IntervalMinutes != 30 {
		t.Fatalf("get job %d %+v", code, job)
	}

	code, env = do(t, e, http.MethodGet, "/api/tracking", "")
	if code != http.StatusOK || !strings.Contains(string(env.Data), started.JobID) {
		t.Fatalf("list jobs %d %s", code, env.Data)
	}

	if code, _ := do(t, e, http.MethodDelete, "/api/tracking/nope", ""); code != http.StatusNotFound {
		t.Fatalf("stop unknown status %d, want 404", code)
	}
	code, env = do(t, e, http.MethodDelete, "/api/tracking/"+started.JobID, "")
	_ = json.Unmarshal(env.Data, &job)
	if code != http.StatusOK || job.State != models.JobStopped {
		t.Fatalf("stop %d %+v", code, job)
	}
}

func TestIntelligenceAndPortfolioRoutes(t *testing.T) {
	e := newTestAPI(t, nil)
	do(t, e, http.MethodPut, "/api/products/sku-1", `{"cost":50,"currentPrice":100,"unitsSold":10}`)

	code, env := do(t, e, http.MethodGet, "/api/products/sku-1/intelligence", "")
	if code != http.StatusOK {
		t.Fatalf("intelligence status %d: %s", code, env.Data)
	}
	var intel models.Intelligence
	_ = json.Unmarshal(env.Data, &intel)
	if intel.Recommendation.Confidence != models.ConfidenceLow {
		t.Fatalf("no observations should give low confidence, got %s", intel.Recommendation.Confidence)
	}

	if code, _ := do(t, e, http.MethodGet, "/api/products/sku-1/intelligence?since=yesterday", ""); code != http.StatusBadRequest {
		t.Fatalf("bad since status %d", code)
	}
	if code, _ := do(t, e, http.MethodGet, "/api/products/sku-1/intelligence?since=2026-01-02&limit=5", ""); code != http.StatusOK {
		t.Fatalf("since/limit status %d", code)
	}
	if code, _ := do(t, e, http.MethodGet, "/api/products/ghost/intelligence", ""); code != http.StatusNotFound {
		t.Fatalf("unknown product status %d", code)
	}

	code, env = do(t, e, http.MethodPost, "/api/portfolio/summary", `{"productIds":["sku-1","ghost"]}`)
	if code != http.StatusOK {
		t.Fatalf("portfolio status %d: %s", code, env.Data)
	}
	var summary models.PortfolioSummary
	_ = json.Unmarshal(env.Data, &summary)
	if summary.ProductCount != 1 || summary.Errors["ghost"] == "" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if code, _ := do(t, e, http.MethodPost, "/api/portfolio/summary", `{"productIds":[]}`); code != http.StatusBadRequest {
		t.Fatalf("empty portfolio status %d", code)
	}
}

func TestHealthAndRateLimit(t *testing.T) {
	e := newTestAPI(t, ratelimit.New(1, 0))

	if code, _ := do(t, e, http.MethodGet, "/healthz", ""); code != http.StatusOK {
		t.Fatalf("healthz status %d", code)
	}
	body := `{"cost":1,"currentPrice":2}`
	if code, _ := do(t, e, http.MethodPut, "/api/products/a", body); code != http.StatusOK {
		t.Fatalf("first write status %d", code)
	}
	req := httptest.NewRequest(http.MethodPut, "/api/products/a", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second write status %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q", got)
	}
	if code, _ := do(t, e, http.MethodGet, "/api/products/a", ""); code != http.StatusOK {
		t.Fatalf("reads must not be rate limited, got %d", code)
	}
}
