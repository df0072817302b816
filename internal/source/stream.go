package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// seenCapacity はストリームが重複排除のために記憶する直近ID数。
const seenCapacity = 500

// Stream は複数パーティションを合成した新着投稿の無限イテレーターを返す。
// 新着リスティングをポーリングし、未配信の項目を古い順に届ける。
// 再開はできない。停止中に公開された項目は取りこぼす可能性がある
// （履歴の追い付きはバックフィル側の責務）。
func (c *Client) Stream(partitions []string) Iterator {
	return &streamIterator{
		client:     c,
		partitions: partitions,
		seen:       make(map[string]struct{}, seenCapacity),
	}
}

// streamIterator は新着リスティングのポーリングを遅延シーケンスとして公開する。
// 直近に配信したIDをリングで記憶して重複配信を防ぐ。
type streamIterator struct {
	client     *Client
	partitions []string

	pending   []Item
	seen      map[string]struct{}
	seenOrder []string
	primed    bool
}

// Next は次の新着項目が届くまでブロックする。
// ソースのエラー（再試行の上限超過を含む）はそのまま返し、ストリームを終える。
func (it *streamIterator) Next(ctx context.Context) (*Item, error) {
	for {
		if len(it.pending) > 0 {
			item := it.pending[0]
			it.pending = it.pending[1:]
			return &item, nil
		}

		if err := it.poll(ctx); err != nil {
			return nil, err
		}

		if len(it.pending) == 0 {
			// 新着なし。次のポーリングまで待機する。
			if err := sleepContext(ctx, it.client.cfg.PollInterval); err != nil {
				return nil, err
			}
		}
	}
}

// poll は新着リスティングを1回取得し、未配信の項目を古い順に積む。
// 初回のポーリングは既存項目を既読扱いにするだけで配信しない
// （購読開始以降の新着のみを届けるため）。
func (it *streamIterator) poll(ctx context.Context) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(it.client.cfg.PageSize))

	path := fmt.Sprintf("/r/%s/new.json", url.PathEscape(strings.Join(it.partitions, "+")))
	body, err := it.client.do(ctx, path, q)
	if err != nil {
		return fmt.Errorf("新着リスティングの取得に失敗しました: %w", err)
	}

	items, _, err := parseListing(body)
	if err != nil {
		return err
	}

	// リスティングは新しい順なので、配信は古い順に反転する
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if _, ok := it.seen[item.ID]; ok {
			continue
		}
		it.remember(item.ID)
		if it.primed {
			it.pending = append(it.pending, item)
		}
	}

	it.primed = true
	return nil
}

// remember はIDを既読リングに記録する。容量を超えた分は古い順に忘れる。
func (it *streamIterator) remember(id string) {
	it.seen[id] = struct{}{}
	it.seenOrder = append(it.seenOrder, id)
	if len(it.seenOrder) > seenCapacity {
		oldest := it.seenOrder[0]
		it.seenOrder = it.seenOrder[1:]
		delete(it.seen, oldest)
	}
}

// sleepContext はコンテキストのキャンセルに応答するスリープ。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
