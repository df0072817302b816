// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は収集した投稿・コメント本文をサニタイズする。
// ソースの本文はマークダウン由来のテキストだが、HTML断片が混入することが
// あるため、bluemondayの厳格ポリシーでタグをすべて除去したプレーン
// テキストとして保存する。下流の分析がタグを解釈する必要をなくすため。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は本文サニタイズ機能のインターフェースを定義する。
// 投稿・コメントの保存前に使用される。
type ContentSanitizerService interface {
	// Sanitize は本文からHTMLタグを除去したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（全タグ除去）を使用する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は本文からHTMLタグを除去したプレーンテキストを返す。
// bluemondayがエスケープしたエンティティは元の文字に戻す
// （保存するのはHTMLではなくテキストのため）。
func (s *contentSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// compile-time interface check
var _ ContentSanitizerService = (*contentSanitizer)(nil)
