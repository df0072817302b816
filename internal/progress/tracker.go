// Package progress はトピックごとの収集進捗カウンターと定期レポートを提供する。
package progress

import "sync"

// Counters はトピックごとの進捗カウンターのスナップショット。
type Counters struct {
	PostsFetched    int
	PostsSkipped    int
	CommentsFetched int
	CommentsSkipped int
}

// IsZero は全カウンターが0かを返す。
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Tracker はトピックごとの進捗カウンターを管理する。
// カウンターへのアクセスはトピック単位で排他され、加算とスナップショット
// リセットがレースしない。トピック間の競合はない。
type Tracker struct {
	mu     sync.RWMutex
	topics map[string]*topicCounters
}

// topicCounters は1トピック分のカウンターとそのロック。
type topicCounters struct {
	mu sync.Mutex
	c  Counters
}

// NewTracker はTrackerの新しいインスタンスを生成する。
func NewTracker(topics []string) *Tracker {
	t := &Tracker{topics: make(map[string]*topicCounters, len(topics))}
	for _, topic := range topics {
		t.topics[topic] = &topicCounters{}
	}
	return t
}

// topic は指定トピックのカウンターを返す。未知のトピックは遅延作成する。
func (t *Tracker) topic(name string) *topicCounters {
	t.mu.RLock()
	tc, ok := t.topics[name]
	t.mu.RUnlock()
	if ok {
		return tc
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if tc, ok := t.topics[name]; ok {
		return tc
	}
	tc = &topicCounters{}
	t.topics[name] = tc
	return tc
}

// PostFetched は投稿の受理を記録する。
func (t *Tracker) PostFetched(topic string) {
	tc := t.topic(topic)
	tc.mu.Lock()
	tc.c.PostsFetched++
	tc.mu.Unlock()
}

// PostSkipped は投稿のスキップ（重複等）を記録する。
func (t *Tracker) PostSkipped(topic string) {
	tc := t.topic(topic)
	tc.mu.Lock()
	tc.c.PostsSkipped++
	tc.mu.Unlock()
}

// CommentsFetched はコメントの受理を記録する。
func (t *Tracker) CommentsFetched(topic string, n int) {
	tc := t.topic(topic)
	tc.mu.Lock()
	tc.c.CommentsFetched += n
	tc.mu.Unlock()
}

// CommentsSkipped はコメントのスキップを記録する。
func (t *Tracker) CommentsSkipped(topic string, n int) {
	tc := t.topic(topic)
	tc.mu.Lock()
	tc.c.CommentsSkipped += n
	tc.mu.Unlock()
}

// SnapshotAndReset はトピックのカウンターを読み取り、0にリセットする。
// 読み取りとリセットは1つのアトミックな操作として行われる。
func (t *Tracker) SnapshotAndReset(topic string) Counters {
	tc := t.topic(topic)
	tc.mu.Lock()
	defer tc.mu.Unlock()
	snapshot := tc.c
	tc.c = Counters{}
	return snapshot
}

// Topics は登録済みトピック名の一覧を返す。順序は不定。
func (t *Tracker) Topics() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.topics))
	for name := range t.topics {
		names = append(names, name)
	}
	return names
}
