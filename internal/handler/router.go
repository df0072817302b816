// Package handler は運用系HTTPエンドポイントのルーティングを提供する。
// 収集エンジン本体はワーカーとして動き、HTTPはヘルスチェックと
// メトリクス公開のためだけに使う。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/buzztail/internal/metrics"
	"github.com/hitoshi/buzztail/internal/middleware"
)

// pingTimeout はヘルスチェック時のデータベース疎通確認のタイムアウト。
const pingTimeout = 3 * time.Second

// Pinger はデータベース疎通確認のインターフェース。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	DB       Pinger
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter は運用エンドポイントのルーティングを構成したchi.Routerを返す。
//
//	GET /healthz  データベース疎通を含む稼働確認
//	GET /metrics  Prometheusスクレイプ
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	r.Get("/healthz", healthzHandler(deps.DB))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	return r
}

// healthzHandler はデータベース疎通を確認するヘルスチェックハンドラーを返す。
func healthzHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "unavailable",
			})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
		})
	}
}
