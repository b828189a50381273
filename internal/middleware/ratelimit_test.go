package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"laeproxy-go/internal/model"
)

func TestRateLimiter(t *testing.T) {
	e := echo.New()

	// 1 request per second, burst of 1: the second request should be rejected.
	e.Use(RateLimiter(1))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", rec.Code, http.StatusOK)
	}

	var denied *httptest.ResponseRecorder
	for range 10 {
		req = httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			denied = rec
			break
		}
	}
	if denied == nil {
		t.Fatal("expected at least one 429 response after burst, got none")
	}

	if v := denied.Header().Get(model.HeaderResult); v != "rate limit exceeded" {
		t.Errorf("%s = %q, want %q", model.HeaderResult, v, "rate limit exceeded")
	}
	var body map[string]string
	if err := json.Unmarshal(denied.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "rate limit exceeded" {
		t.Errorf("error = %q, want %q", body["error"], "rate limit exceeded")
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	e := echo.New()
	e.Use(RateLimiter(1))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		req.Header.Set(echo.HeaderXRealIP, ip)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("first request from %s: status = %d, want %d", ip, rec.Code, http.StatusOK)
		}
	}
}
