// Package source はコンテンツソース（Reddit系の掲示板API）のクライアントを提供する。
// 検索・ストリーム・コメントツリー取得の3つの機能を遅延シーケンスとして公開し、
// すべての外部呼び出しをレート予算コーディネーターでゲートする。
package source

import (
	"context"
	"errors"
	"time"
)

// ErrEndOfResults は有限シーケンス（検索結果）の終端を示す。
var ErrEndOfResults = errors.New("source: 検索結果の終端に到達しました")

// Item はソースから取得した投稿項目を表す。
type Item struct {
	ID           string
	CreatedAt    time.Time
	Title        string
	Body         string
	Score        int
	CommentCount int
	Pinned       bool // ピン留め/スティッキー投稿（時系列シグナルではない）
}

// Comment はソースから取得したコメントを表す。
// Authorは投稿者が特定できない場合（削除済みアカウント等）は空文字列となる。
type Comment struct {
	ID        string
	Author    string
	Body      string
	CreatedAt time.Time
	Score     int
	Permalink string
}

// Iterator は項目の遅延シーケンスを表す。
// Nextは次の項目が届くまで呼び出し元をブロックする。有限シーケンスの
// 終端ではErrEndOfResultsを返す。無限シーケンス（ストリーム）は
// エラーが起きるまで終端に到達しない。
type Iterator interface {
	Next(ctx context.Context) (*Item, error)
}

// Gate は外部呼び出しのゲートと予算更新のインターフェース。
// ratebudget.Coordinatorが実装する。
type Gate interface {
	// Acquire は外部呼び出しが安全になるまでブロックする。
	Acquire(ctx context.Context) error
	// Update は応答メタデータのクォータ情報を反映する。
	Update(remaining int, resetAt time.Time)
	// UpdateUnknown はクォータ情報が欠落していた場合の悲観的デフォルトを設定する。
	UpdateUnknown()
	// ReportFailure は一時的エラーを記録する。
	ReportFailure()
	// ReportSuccess は呼び出し成功を記録する。
	ReportSuccess()
}
