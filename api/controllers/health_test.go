package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthReadyReportsChecks(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	handler := HealthReady(cfg, nil, map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}, "bigquery": nil})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Data struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Status != "ready" || body.Data.Checks["db"] != "ok" {
		t.Fatalf("unexpected body %+v", body.Data)
	}
	if _, ok := body.Data.Checks["bigquery"]; ok {
		t.Fatalf("nil dependency should be skipped")
	}
}

func TestHealthReadyFailsOnDependencyError(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	handler := HealthReady(cfg, nil, map[string]Pinger{"db": stubPinger{err: errors.New("down")}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "prod"}}
	rec := httptest.NewRecorder()
	HealthLive(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Entitlements-Env") != "prod" {
		t.Fatalf("unexpected live response %d %v", rec.Code, rec.Header())
	}
}
