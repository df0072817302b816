// Package model はドメインモデルを定義する。
package model

import "time"

// Post はコンテンツソースから収集した投稿を表す。
// 初回受理時に1度だけ作成され、以降は変更されない（追記専用）。
// 同一IDの再取得はストア側で無視される。
type Post struct {
	ID            string // ソースが割り当てたグローバル一意ID
	Topic         string
	CreatedAt     time.Time // ソース上の投稿日時
	Title         string
	Body          string // サニタイズ済みテキスト
	Score         int
	CommentCount  int
	LastFetchedAt time.Time // エンジンが取得した日時
}

// Checkpoint はトピックごとのバックフィル進捗（ウォーターマーク）を表す。
// last_fetched_atは単調非減少で更新される。
type Checkpoint struct {
	Topic         string
	LastFetchedAt time.Time
}
