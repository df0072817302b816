package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Search はパーティション内をクエリで検索する有限イテレーターを返す。
// 結果は新しい順で、afterカーソルによるページングを内部で行う。
// シーケンスは先頭からの再開しかできない（途中からの再開トークンは仮定しない）。
func (c *Client) Search(partition, query string) Iterator {
	return &searchIterator{
		client:    c,
		partition: partition,
		query:     query,
	}
}

// searchIterator は検索結果のページングを隠蔽する有限イテレーター。
type searchIterator struct {
	client    *Client
	partition string
	query     string

	buf   []Item
	after string
	done  bool
}

// Next は次の検索結果を返す。ページの取得が必要な場合はブロックする。
// 終端ではErrEndOfResultsを返す。
func (it *searchIterator) Next(ctx context.Context) (*Item, error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, ErrEndOfResults
		}
		if err := it.fetchPage(ctx); err != nil {
			return nil, err
		}
	}

	item := it.buf[0]
	it.buf = it.buf[1:]
	return &item, nil
}

// fetchPage は次のページを取得してバッファに積む。
func (it *searchIterator) fetchPage(ctx context.Context) error {
	q := url.Values{}
	q.Set("q", it.query)
	q.Set("sort", "new")
	q.Set("restrict_sr", "1")
	q.Set("limit", strconv.Itoa(it.client.cfg.PageSize))
	if it.after != "" {
		q.Set("after", it.after)
	}

	path := fmt.Sprintf("/r/%s/search.json", url.PathEscape(it.partition))
	body, err := it.client.do(ctx, path, q)
	if err != nil {
		return fmt.Errorf("検索ページの取得に失敗しました: %w", err)
	}

	items, after, err := parseListing(body)
	if err != nil {
		return err
	}

	it.buf = items
	it.after = after
	if after == "" || len(items) == 0 {
		it.done = true
	}

	return nil
}
