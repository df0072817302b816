// Package expand は受理された投稿のコメントツリー取得と保存を行う。
package expand

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/buzztail/internal/dedup"
	"github.com/hitoshi/buzztail/internal/model"
	"github.com/hitoshi/buzztail/internal/repository"
	"github.com/hitoshi/buzztail/internal/security"
	"github.com/hitoshi/buzztail/internal/source"
)

// defaultCommentCap は1投稿あたりの保存コメント数の既定上限。
const defaultCommentCap = 10

// CommentFetcher はコメントツリーの取得インターフェース。
type CommentFetcher interface {
	FetchCommentTree(ctx context.Context, postID string) ([]source.Comment, error)
}

// ProgressSink はコメント収集の進捗を受け取る。
type ProgressSink interface {
	CommentsFetched(topic string, n int)
	CommentsSkipped(topic string, n int)
}

// MetricsSink はコメント収集のメトリクスを受け取る。
type MetricsSink interface {
	RecordCommentsFetched(topic string, count int)
	RecordCommentsSkipped(topic string, count int)
}

// Expander は投稿のコメントツリーを取得し、重複を除いて保存する。
// 投稿の受理ごとに1回呼び出され、親投稿がストアに存在する前提で動く。
type Expander struct {
	fetcher     CommentFetcher
	commentRepo repository.CommentRepository
	index       *dedup.Index
	sanitizer   security.ContentSanitizerService
	progress    ProgressSink
	metrics     MetricsSink
	capacity    int
	logger      *slog.Logger
}

// NewExpander はExpanderの新しいインスタンスを生成する。
// capacityが0以下の場合は既定値を使う。
func NewExpander(
	fetcher CommentFetcher,
	commentRepo repository.CommentRepository,
	index *dedup.Index,
	sanitizer security.ContentSanitizerService,
	progress ProgressSink,
	metrics MetricsSink,
	capacity int,
	logger *slog.Logger,
) *Expander {
	if capacity <= 0 {
		capacity = defaultCommentCap
	}
	return &Expander{
		fetcher:     fetcher,
		commentRepo: commentRepo,
		index:       index,
		sanitizer:   sanitizer,
		progress:    progress,
		metrics:     metrics,
		capacity:    capacity,
		logger:      logger,
	}
}

// Expand は投稿のコメントツリーを取得し、配信順の先頭から上限件数まで
// 保存する。重複コメントはスキップとして数える。保存は1回のバッチ挿入で
// 行い、受理・スキップの件数を返す。
func (e *Expander) Expand(ctx context.Context, topic, postID string) (fetched, skipped int, err error) {
	comments, err := e.fetcher.FetchCommentTree(ctx, postID)
	if err != nil {
		return 0, 0, fmt.Errorf("コメントの展開に失敗しました: %w", err)
	}

	// 配信順のまま上限で切り詰める
	if len(comments) > e.capacity {
		comments = comments[:e.capacity]
	}

	batch := make([]model.Comment, 0, len(comments))
	for _, c := range comments {
		seen, err := e.index.SeenComment(ctx, c.ID)
		if err != nil {
			return 0, 0, fmt.Errorf("コメントの重複確認に失敗しました: %w", err)
		}
		if seen {
			skipped++
			continue
		}

		var author *string
		if c.Author != "" {
			a := c.Author
			author = &a
		}

		batch = append(batch, model.Comment{
			ID:        c.ID,
			PostID:    postID,
			Author:    author,
			Body:      e.sanitizer.Sanitize(c.Body),
			CreatedAt: c.CreatedAt,
			Score:     c.Score,
			Permalink: c.Permalink,
		})
	}

	if len(batch) > 0 {
		inserted, err := e.commentRepo.InsertComments(ctx, batch)
		if err != nil {
			return 0, 0, fmt.Errorf("コメントの保存に失敗しました: %w", err)
		}
		for _, c := range batch {
			e.index.MarkComment(c.ID)
		}
		fetched = inserted
		// 挿入されなかった分はストア側で検出された重複
		skipped += len(batch) - inserted
	}

	if fetched > 0 {
		e.progress.CommentsFetched(topic, fetched)
		e.metrics.RecordCommentsFetched(topic, fetched)
	}
	if skipped > 0 {
		e.progress.CommentsSkipped(topic, skipped)
		e.metrics.RecordCommentsSkipped(topic, skipped)
	}

	e.logger.Debug("コメントを展開しました",
		"topic", topic,
		"post_id", postID,
		"fetched", fetched,
		"skipped", skipped,
	)

	return fetched, skipped, nil
}
