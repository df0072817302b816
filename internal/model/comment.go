// Package model はドメインモデルを定義する。
package model

import "time"

// Comment は投稿に紐づくコメントを表す。
// 親となるPostがストアに存在する状態でのみ保存され、以降は変更されない。
type Comment struct {
	ID        string
	PostID    string
	Author    *string // 投稿者が特定できない場合はnil（削除済みアカウント等）
	Body      string  // サニタイズ済みテキスト
	CreatedAt time.Time
	Score     int
	Permalink string
}
