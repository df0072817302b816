// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/buzztail/internal/config"
	"github.com/hitoshi/buzztail/internal/database"
	"github.com/hitoshi/buzztail/internal/dedup"
	"github.com/hitoshi/buzztail/internal/expand"
	"github.com/hitoshi/buzztail/internal/handler"
	"github.com/hitoshi/buzztail/internal/logger"
	"github.com/hitoshi/buzztail/internal/metrics"
	"github.com/hitoshi/buzztail/internal/progress"
	"github.com/hitoshi/buzztail/internal/ratebudget"
	"github.com/hitoshi/buzztail/internal/repository"
	"github.com/hitoshi/buzztail/internal/security"
	"github.com/hitoshi/buzztail/internal/source"
	"github.com/hitoshi/buzztail/internal/worker"
	"github.com/hitoshi/buzztail/internal/worker/backfill"
	"github.com/hitoshi/buzztail/internal/worker/cleanup"
	"github.com/hitoshi/buzztail/internal/worker/livetail"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runWorker(cfg)
	}
}

// runWorker は収集ワーカーモードで起動する。
// DB接続とトピック定義を読み込み、全依存関係をワイヤリングして
// オーケストレーターと運用HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("データベース接続を確立しました")

	// 2. トピック定義の読み込み
	topics, err := config.LoadTopics(cfg.TopicsFile)
	if err != nil {
		return fmt.Errorf("failed to load topics: %w", err)
	}

	slog.Info("トピック定義を読み込みました",
		slog.Int("topic_count", len(topics.Topics)),
		slog.Int("partition_count", len(topics.Partitions)),
	)

	// 3. リポジトリの初期化
	postRepo := repository.NewPostgresPostRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)
	checkpointRepo := repository.NewPostgresCheckpointRepo(db)

	// 4. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 5. レート予算コーディネーターとソースクライアントの初期化
	coordinator := ratebudget.NewCoordinator(ratebudget.Config{
		LowWater:    cfg.RateLowWater,
		SleepBuffer: cfg.RateSleepBuffer,
		Window:      cfg.RateWindow,
		PerMinute:   cfg.RatePerMinute,
	}, slog.Default())
	coordinator.SetSleepRecorder(collector)

	client := source.NewClient(source.Config{
		BaseURL:      cfg.SourceBaseURL,
		UserAgent:    cfg.SourceUserAgent,
		Token:        cfg.SourceToken,
		Timeout:      cfg.SourceTimeout,
		PageSize:     cfg.SearchPageSize,
		PollInterval: cfg.StreamPollInterval,
	}, coordinator, slog.Default(), collector)

	// 6. 収集パイプラインの初期化
	sanitizer := security.NewContentSanitizer()
	index := dedup.NewIndex(postRepo, commentRepo)

	topicNames := make([]string, 0, len(topics.Topics))
	for _, topic := range topics.Topics {
		topicNames = append(topicNames, topic.Name)
	}
	tracker := progress.NewTracker(topicNames)

	expander := expand.NewExpander(
		client, commentRepo, index, sanitizer,
		tracker, collector, cfg.CommentCap, slog.Default(),
	)

	// 7. オーケストレーターの構築
	reporter := progress.NewReporter(tracker, cfg.ProgressInterval, slog.Default())
	orch := worker.NewOrchestrator(cfg.StaggerDelay, reporter, collector, slog.Default())

	for _, topic := range topics.Topics {
		orch.AddBackfill(topic.Name, backfill.NewTask(
			topic, topics.Partitions, client,
			postRepo, checkpointRepo, index, sanitizer,
			expander, tracker, collector, slog.Default(),
		))
		orch.AddLiveTail(topic.Name, livetail.NewTask(
			topic, topics.Partitions, client,
			postRepo, index, sanitizer,
			expander, tracker, collector, slog.Default(),
		))
	}

	// 8. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// 9. 運用HTTPサーバーの起動
	router := handler.NewRouter(&handler.RouterDeps{
		DB:       db,
		Gatherer: reg,
		Logger:   slog.Default(),
	})
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("運用HTTPサーバーを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTPサーバーの起動に失敗しました", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("シャットダウンします...")
		cancel()
	}()

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("クリーンアップジョブに失敗しました", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("クリーンアップジョブに失敗しました", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// オーケストレーターをメインgoroutineで実行（ブロッキング）
	orch.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("ワーカーを停止しました")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("データベースマイグレーションが完了しました",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
