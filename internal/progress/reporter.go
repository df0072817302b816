package progress

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Reporter は一定間隔でトピックごとの進捗をログに出力し、カウンターを
// リセットする。
type Reporter struct {
	tracker  *Tracker
	interval time.Duration
	logger   *slog.Logger
}

// NewReporter はReporterの新しいインスタンスを生成する。
func NewReporter(tracker *Tracker, interval time.Duration, logger *slog.Logger) *Reporter {
	return &Reporter{
		tracker:  tracker,
		interval: interval,
		logger:   logger,
	}
}

// Start は定期レポートのループを開始する。コンテキストがキャンセルされる
// まで実行を継続し、終了前に残りのカウンターを最後に1回出力する。
func (r *Reporter) Start(ctx context.Context) {
	r.logger.Info("進捗レポーターを起動します", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.report()
			r.logger.Info("進捗レポーターを停止します")
			return
		case <-ticker.C:
			r.report()
		}
	}
}

// report は全トピックの進捗を出力し、カウンターをリセットする。
// カウンターが0でも出力する。停滞したタスクは0の並びとして観測できる。
func (r *Reporter) report() {
	topics := r.tracker.Topics()
	sort.Strings(topics)

	for _, topic := range topics {
		c := r.tracker.SnapshotAndReset(topic)
		r.logger.Info("収集進捗",
			"topic", topic,
			"posts_fetched", c.PostsFetched,
			"posts_skipped", c.PostsSkipped,
			"comments_fetched", c.CommentsFetched,
			"comments_skipped", c.CommentsSkipped,
		)
	}
}
