package source

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// listingEnvelope はソースAPIのリスティング形式の外枠。
type listingEnvelope struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	After    string         `json:"after"`
	Children []listingChild `json:"children"`
}

type listingChild struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// wireItem は投稿項目のワイヤ表現。
type wireItem struct {
	ID          string  `json:"id"`
	CreatedUTC  float64 `json:"created_utc"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Stickied    bool    `json:"stickied"`
}

// wireComment はコメントのワイヤ表現。repliesは空文字列または
// ネストしたリスティングのいずれかで届くためRawMessageで受ける。
type wireComment struct {
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	CreatedUTC float64         `json:"created_utc"`
	Score      int             `json:"score"`
	Permalink  string          `json:"permalink"`
	Replies    json.RawMessage `json:"replies"`
}

// parseListing はリスティングJSONから投稿項目を取り出す。
// 不正な形式の子要素は落とすだけで致命的エラーにはしない。
// 戻り値のafterは次ページのカーソル（終端では空文字列）。
func parseListing(body []byte) (items []Item, after string, err error) {
	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", fmt.Errorf("リスティングのパースに失敗しました: %w", err)
	}

	items = make([]Item, 0, len(env.Data.Children))
	for _, child := range env.Data.Children {
		if child.Kind != "t3" {
			continue
		}

		var wi wireItem
		if err := json.Unmarshal(child.Data, &wi); err != nil {
			continue
		}
		if wi.ID == "" {
			continue
		}

		items = append(items, Item{
			ID:           wi.ID,
			CreatedAt:    unixToTime(wi.CreatedUTC),
			Title:        wi.Title,
			Body:         wi.SelfText,
			Score:        wi.Score,
			CommentCount: wi.NumComments,
			Pinned:       wi.Stickied,
		})
	}

	return items, env.Data.After, nil
}

// unixToTime はcreated_utcの小数秒をtime.Timeに変換する。
func unixToTime(sec float64) time.Time {
	s, frac := math.Modf(sec)
	return time.Unix(int64(s), int64(frac*float64(time.Second))).UTC()
}
