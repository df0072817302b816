// Package backfill はトピックごとの過去投稿の遡り収集を提供する。
// 検索結果を新しい順に走査し、チェックポイント（ウォーターマーク）に
// 到達した時点でそのクエリの走査を打ち切る。
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/buzztail/internal/config"
	"github.com/hitoshi/buzztail/internal/dedup"
	"github.com/hitoshi/buzztail/internal/model"
	"github.com/hitoshi/buzztail/internal/repository"
	"github.com/hitoshi/buzztail/internal/security"
	"github.com/hitoshi/buzztail/internal/source"
)

// Searcher はパーティション内のクエリ検索インターフェース。
// 返されるイテレーターは新しい順で結果を届ける。
type Searcher interface {
	Search(partition, query string) source.Iterator
}

// CommentExpander は受理した投稿のコメント展開インターフェース。
type CommentExpander interface {
	Expand(ctx context.Context, topic, postID string) (fetched, skipped int, err error)
}

// ProgressSink は投稿収集の進捗を受け取る。
type ProgressSink interface {
	PostFetched(topic string)
	PostSkipped(topic string)
}

// MetricsSink は投稿収集のメトリクスを受け取る。
type MetricsSink interface {
	RecordPostFetched(topic string)
	RecordPostSkipped(topic string)
}

// Task は1トピック分のバックフィルを実行する。
// パーティション×キーワードの全組み合わせを順に走査し、受理した投稿ごとに
// チェックポイントを前進させる。中断しても保存済みの位置から再開できる。
type Task struct {
	topic          config.Topic
	partitions     []string
	searcher       Searcher
	postRepo       repository.PostRepository
	checkpointRepo repository.CheckpointRepository
	index          *dedup.Index
	sanitizer      security.ContentSanitizerService
	expander       CommentExpander
	progress       ProgressSink
	metrics        MetricsSink
	logger         *slog.Logger

	// テストで差し替える時刻取得関数
	now func() time.Time
}

// NewTask はTaskの新しいインスタンスを生成する。
func NewTask(
	topic config.Topic,
	partitions []string,
	searcher Searcher,
	postRepo repository.PostRepository,
	checkpointRepo repository.CheckpointRepository,
	index *dedup.Index,
	sanitizer security.ContentSanitizerService,
	expander CommentExpander,
	progress ProgressSink,
	metrics MetricsSink,
	logger *slog.Logger,
) *Task {
	return &Task{
		topic:          topic,
		partitions:     partitions,
		searcher:       searcher,
		postRepo:       postRepo,
		checkpointRepo: checkpointRepo,
		index:          index,
		sanitizer:      sanitizer,
		expander:       expander,
		progress:       progress,
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
	}
}

// Run はバックフィルを1周実行する。ウォーターマークは開始時に1度だけ
// 読み、以降は受理した投稿の日時で前進させる。エラーはそのまま呼び出し元
// （オーケストレーター）に返す。
func (t *Task) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := t.logger.With(
		slog.String("topic", t.topic.Name),
		slog.String("run_id", runID),
	)

	watermark, err := t.checkpointRepo.GetCheckpoint(ctx, t.topic.Name)
	if err != nil {
		return fmt.Errorf("チェックポイントの取得に失敗しました: %w", err)
	}

	logger.Info("バックフィルを開始します",
		slog.Time("watermark", watermark),
		slog.Int("partition_count", len(t.partitions)),
		slog.Int("keyword_count", len(t.topic.Keywords)),
	)

	for _, partition := range t.partitions {
		for _, keyword := range t.topic.Keywords {
			if err := t.scanQuery(ctx, logger, partition, keyword, watermark); err != nil {
				return err
			}
		}
	}

	logger.Info("バックフィルが完了しました")
	return nil
}

// scanQuery は1つのパーティション×キーワードの検索結果を走査する。
// ウォーターマーク以前の投稿に到達したらそのクエリを打ち切る。重複の
// スキップは打ち切りではなく走査を継続する。
func (t *Task) scanQuery(ctx context.Context, logger *slog.Logger, partition, keyword string, watermark time.Time) error {
	it := t.searcher.Search(partition, keyword)

	for {
		item, err := it.Next(ctx)
		if errors.Is(err, source.ErrEndOfResults) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("検索結果の走査に失敗しました: %w", err)
		}

		// ピン留めされた投稿は時系列の順序を乱すため受理しない
		if item.Pinned {
			continue
		}

		// ウォーターマーク以前に到達したらこのクエリは収集済み
		if !item.CreatedAt.After(watermark) {
			logger.Debug("ウォーターマークに到達しました",
				slog.String("partition", partition),
				slog.String("keyword", keyword),
				slog.String("post_id", item.ID),
			)
			return nil
		}

		accepted, err := t.accept(ctx, item)
		if err != nil {
			return err
		}
		if !accepted {
			t.progress.PostSkipped(t.topic.Name)
			t.metrics.RecordPostSkipped(t.topic.Name)
			continue
		}

		t.progress.PostFetched(t.topic.Name)
		t.metrics.RecordPostFetched(t.topic.Name)

		if _, _, err := t.expander.Expand(ctx, t.topic.Name, item.ID); err != nil {
			return err
		}

		// 受理ごとにチェックポイントを前進させる。巻き戻りはストア側で防ぐ。
		if err := t.checkpointRepo.SetCheckpoint(ctx, t.topic.Name, item.CreatedAt); err != nil {
			return fmt.Errorf("チェックポイントの更新に失敗しました: %w", err)
		}
	}
}

// accept は投稿の重複を確認し、新規であれば保存する。
// 保存できた場合のみtrueを返す。
func (t *Task) accept(ctx context.Context, item *source.Item) (bool, error) {
	seen, err := t.index.SeenPost(ctx, item.ID)
	if err != nil {
		return false, fmt.Errorf("投稿の重複確認に失敗しました: %w", err)
	}
	if seen {
		return false, nil
	}

	post := &model.Post{
		ID:            item.ID,
		Topic:         t.topic.Name,
		CreatedAt:     item.CreatedAt,
		Title:         t.sanitizer.Sanitize(item.Title),
		Body:          t.sanitizer.Sanitize(item.Body),
		Score:         item.Score,
		CommentCount:  item.CommentCount,
		LastFetchedAt: t.now().UTC(),
	}

	inserted, err := t.postRepo.InsertPost(ctx, post)
	if err != nil {
		return false, fmt.Errorf("投稿の保存に失敗しました: %w", err)
	}
	t.index.MarkPost(item.ID)
	return inserted, nil
}
