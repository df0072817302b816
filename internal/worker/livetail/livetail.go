// Package livetail はパーティションの新着ストリームからのリアルタイム収集を
// 提供する。タイトルにトピックのキーワードを含む投稿だけを受理する。
package livetail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/buzztail/internal/config"
	"github.com/hitoshi/buzztail/internal/dedup"
	"github.com/hitoshi/buzztail/internal/model"
	"github.com/hitoshi/buzztail/internal/repository"
	"github.com/hitoshi/buzztail/internal/security"
	"github.com/hitoshi/buzztail/internal/source"
)

// Streamer はパーティション群の新着ストリームのインターフェース。
type Streamer interface {
	Stream(partitions []string) source.Iterator
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

// Task は1トピック分のリアルタイム収集を実行する。
// バックフィルと異なりチェックポイントは持たない。取りこぼした期間は
// 次のバックフィル周回が埋める。
type Task struct {
	topic      config.Topic
	partitions []string
	streamer   Streamer
	postRepo   repository.PostRepository
	index      *dedup.Index
	sanitizer  security.ContentSanitizerService
	expander   CommentExpander
	progress   ProgressSink
	metrics    MetricsSink
	logger     *slog.Logger

	// 小文字化済みキーワード。照合は大文字小文字を区別しない。
	keywords []string

	// テストで差し替える時刻取得関数
	now func() time.Time
}

// NewTask はTaskの新しいインスタンスを生成する。
func NewTask(
	topic config.Topic,
	partitions []string,
	streamer Streamer,
	postRepo repository.PostRepository,
	index *dedup.Index,
	sanitizer security.ContentSanitizerService,
	expander CommentExpander,
	progress ProgressSink,
	metrics MetricsSink,
	logger *slog.Logger,
) *Task {
	keywords := make([]string, 0, len(topic.Keywords))
	for _, kw := range topic.Keywords {
		keywords = append(keywords, strings.ToLower(kw))
	}
	return &Task{
		topic:      topic,
		partitions: partitions,
		streamer:   streamer,
		postRepo:   postRepo,
		index:      index,
		sanitizer:  sanitizer,
		expander:   expander,
		progress:   progress,
		metrics:    metrics,
		logger:     logger,
		keywords:   keywords,
		now:        time.Now,
	}
}

// Run はストリームの消費を開始する。コンテキストのキャンセルで正常終了し、
// ストリームのエラーは呼び出し元に返す。
func (t *Task) Run(ctx context.Context) error {
	logger := t.logger.With(slog.String("topic", t.topic.Name))
	logger.Info("リアルタイム収集を開始します",
		slog.Int("partition_count", len(t.partitions)),
	)

	it := t.streamer.Stream(t.partitions)
	for {
		item, err := it.Next(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Info("リアルタイム収集を停止します")
			return nil
		}
		if err != nil {
			return fmt.Errorf("ストリームの読み取りに失敗しました: %w", err)
		}

		if !t.matches(item.Title) {
			continue
		}

		// ピン留めされた投稿は受理しない
		if item.Pinned {
			continue
		}

		if err := t.ingest(ctx, item); err != nil {
			return err
		}
	}
}

// matches はタイトルがトピックのいずれかのキーワードを含むかを返す。
// 大文字小文字は区別しない。
func (t *Task) matches(title string) bool {
	lowered := strings.ToLower(title)
	for _, kw := range t.keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// ingest は投稿の重複を確認し、新規であれば保存してコメントを展開する。
func (t *Task) ingest(ctx context.Context, item *source.Item) error {
	seen, err := t.index.SeenPost(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("投稿の重複確認に失敗しました: %w", err)
	}
	if seen {
		t.progress.PostSkipped(t.topic.Name)
		t.metrics.RecordPostSkipped(t.topic.Name)
		return nil
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
		return fmt.Errorf("投稿の保存に失敗しました: %w", err)
	}
	t.index.MarkPost(item.ID)

	if !inserted {
		t.progress.PostSkipped(t.topic.Name)
		t.metrics.RecordPostSkipped(t.topic.Name)
		return nil
	}

	t.progress.PostFetched(t.topic.Name)
	t.metrics.RecordPostFetched(t.topic.Name)

	if _, _, err := t.expander.Expand(ctx, t.topic.Name, item.ID); err != nil {
		return err
	}
	return nil
}
