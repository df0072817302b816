package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/buzztail/internal/metrics"
)

// fakePinger はPingerのテスト用実装。
type fakePinger struct {
	err error
}

func (p *fakePinger) PingContext(ctx context.Context) error {
	return p.err
}

func newTestRouter(pinger Pinger) (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	router := NewRouter(&RouterDeps{DB: pinger, Gatherer: reg, Logger: logger})
	return router, reg
}

// TestHealthz_ReturnsOKWhenDatabaseReachable はDB疎通時に200が返ることを検証する。
func TestHealthz_ReturnsOKWhenDatabaseReachable(t *testing.T) {
	router, _ := newTestRouter(&fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("JSONのデコードに失敗しました: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

// TestHealthz_Returns503WhenDatabaseUnreachable はDB疎通失敗時に503が返ることを検証する。
func TestHealthz_Returns503WhenDatabaseUnreachable(t *testing.T) {
	router, _ := newTestRouter(&fakePinger{err: errors.New("接続拒否")})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// TestMetricsEndpoint_ServesRegisteredMetrics は/metricsで登録済みメトリクスが返ることを検証する。
func TestMetricsEndpoint_ServesRegisteredMetrics(t *testing.T) {
	router, reg := newTestRouter(&fakePinger{})
	c := metrics.NewCollector(reg)
	c.RecordPostFetched("AAPL")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "buzztail_posts_fetched_total") {
		t.Error("登録済みメトリクスがレスポンスに含まれていません")
	}
}

// TestRouter_UnknownPathReturns404 は未定義パスで404が返ることを検証する。
func TestRouter_UnknownPathReturns404(t *testing.T) {
	router, _ := newTestRouter(&fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
