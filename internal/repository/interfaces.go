// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/buzztail/internal/model"
)

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// ExistsPost は指定IDの投稿がストアに存在するかを返す。
	// 複数のタスクから並行に呼び出せる。
	ExistsPost(ctx context.Context, id string) (bool, error)

	// InsertPost は投稿を挿入する。同一IDがすでに存在する場合は挿入せず
	// inserted=falseを返す（insert-or-ignore）。重複はエラーではない。
	InsertPost(ctx context.Context, post *model.Post) (inserted bool, err error)
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// ExistsComment は指定IDのコメントがストアに存在するかを返す。
	ExistsComment(ctx context.Context, id string) (bool, error)

	// InsertComments はコメントをバッチ挿入する。既存IDの要素は無視され、
	// 実際に挿入された件数を返す。部分的な重複はエラーではない。
	InsertComments(ctx context.Context, comments []model.Comment) (inserted int, err error)
}

// CheckpointRepository はトピックごとのチェックポイントの永続化インターフェース。
type CheckpointRepository interface {
	// GetCheckpoint はトピックのウォーターマークを取得する。
	// 未登録の場合はゼロ値（エポック）を返す。
	GetCheckpoint(ctx context.Context, topic string) (time.Time, error)

	// SetCheckpoint はトピックのウォーターマークを更新する。
	// 保存済みの値より古い値を渡しても巻き戻らない（単調非減少）。
	SetCheckpoint(ctx context.Context, topic string, ts time.Time) error
}
