package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// FetchCommentTree は投稿のコメントツリーを取得し、ソースが届けた
// ツリー走査順のまま平坦化して返す。並べ替えは行わない。
// 形式不正なノードは落とすだけで致命的エラーにはしない。
func (c *Client) FetchCommentTree(ctx context.Context, postID string) ([]Comment, error) {
	path := fmt.Sprintf("/comments/%s.json", url.PathEscape(postID))
	body, err := c.do(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("コメントツリーの取得に失敗しました: %w", err)
	}

	// レスポンスは [投稿リスティング, コメントリスティング] の2要素配列
	var envelopes []listingEnvelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, fmt.Errorf("コメントツリーのパースに失敗しました: %w", err)
	}
	if len(envelopes) < 2 {
		return nil, nil
	}

	var comments []Comment
	flattenComments(envelopes[1].Data.Children, &comments)
	return comments, nil
}

// flattenComments はコメントリスティングの子要素を配信順（先行順）で
// 平坦化する。kind "t1" 以外のノード（"more"等）はスキップする。
func flattenComments(children []listingChild, out *[]Comment) {
	for _, child := range children {
		if child.Kind != "t1" {
			continue
		}

		var wc wireComment
		if err := json.Unmarshal(child.Data, &wc); err != nil {
			continue
		}
		if wc.ID == "" {
			continue
		}

		*out = append(*out, Comment{
			ID:        wc.ID,
			Author:    normalizeAuthor(wc.Author),
			Body:      wc.Body,
			CreatedAt: unixToTime(wc.CreatedUTC),
			Score:     wc.Score,
			Permalink: wc.Permalink,
		})

		// repliesは空文字列またはネストしたリスティング
		if len(wc.Replies) > 0 {
			var nested listingEnvelope
			if err := json.Unmarshal(wc.Replies, &nested); err == nil {
				flattenComments(nested.Data.Children, out)
			}
		}
	}
}

// normalizeAuthor は削除済みアカウント等の表記を「投稿者不明」に正規化する。
func normalizeAuthor(author string) string {
	if author == "[deleted]" {
		return ""
	}
	return author
}
