package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func render(t *testing.T, fn func(c echo.Context) error) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := fn(c); err != nil {
		t.Fatalf("render: %v", err)
	}
	var env APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return rec, env
}

func TestAppErrorResponseUnwrapsChain(t *testing.T) {
	cause := errors.New("job exists")
	err := fmt.Errorf("start: %w", ConflictError("already tracked").WithError(cause))

	rec, env := render(t, func(c echo.Context) error { return AppErrorResponse(c, err) })
	if rec.Code != http.StatusConflict || env.Status != http.StatusConflict {
		t.Fatalf("status %d/%d", rec.Code, env.Status)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Fatalf("unexpected Retry-After")
	}
	if StatusOf(err) != http.StatusConflict || !errors.Is(err, cause) {
		t.Fatalf("StatusOf or unwrap broken")
	}
}

func TestAppErrorResponseRetryAfterRoundsUp(t *testing.T) {
	err := UnavailableError("shutting down").WithRetryAfter(1500 * time.Millisecond)
	rec, _ := render(t, func(c echo.Context) error { return AppErrorResponse(c, err) })
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("code %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestAppErrorResponseHidesPlainErrors(t *testing.T) {
	rec, env := render(t, func(c echo.Context) error { return AppErrorResponse(c, errors.New("dsn=secret")) })
	if rec.Code != http.StatusInternalServerError || env.Data != "Something went wrong" {
		t.Fatalf("got %d %v", rec.Code, env.Data)
	}
	if StatusOf(errors.New("x")) != http.StatusInternalServerError {
		t.Fatalf("plain errors map to 500")
	}
}

func TestListResponseNilRows(t *testing.T) {
	_, env := render(t, func(c echo.Context) error { return ListResponse[string](c, nil, 0) })
	data, _ := env.Data.(map[string]interface{})
	rows, ok := data["rows"].([]interface{})
	if !ok || len(rows) != 0 {
		t.Fatalf("rows = %#v", data["rows"])
	}
}
