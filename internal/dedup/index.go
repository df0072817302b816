// Package dedup は「項目Xは保存済みか」の問い合わせ面を提供する。
// プロセス存続期間の既知ID集合をメモリに保持し、ストアへの往復を減らす。
// これは最適化にすぎず、一意性の最終的な拠り所はストアの制約である。
package dedup

import (
	"context"
	"sync"
)

// defaultCapacity はメモリに記憶する直近ID数のデフォルト。
const defaultCapacity = 10000

// PostExistenceChecker は投稿の存在確認インターフェース。
type PostExistenceChecker interface {
	ExistsPost(ctx context.Context, id string) (bool, error)
}

// CommentExistenceChecker はコメントの存在確認インターフェース。
type CommentExistenceChecker interface {
	ExistsComment(ctx context.Context, id string) (bool, error)
}

// Index は投稿・コメントの重複判定を行う。複数タスクから並行に使用できる。
type Index struct {
	postRepo    PostExistenceChecker
	commentRepo CommentExistenceChecker

	mu       sync.Mutex
	posts    *recentSet
	comments *recentSet
}

// NewIndex はIndexの新しいインスタンスを生成する。
func NewIndex(postRepo PostExistenceChecker, commentRepo CommentExistenceChecker) *Index {
	return &Index{
		postRepo:    postRepo,
		commentRepo: commentRepo,
		posts:       newRecentSet(defaultCapacity),
		comments:    newRecentSet(defaultCapacity),
	}
}

// SeenPost は投稿IDが保存済みかを返す。
// メモリ上の集合をまず確認し、なければストアに問い合わせる。
// ストアで確認できたIDは次回以降のためにメモリに記録する。
func (i *Index) SeenPost(ctx context.Context, id string) (bool, error) {
	i.mu.Lock()
	hit := i.posts.contains(id)
	i.mu.Unlock()
	if hit {
		return true, nil
	}

	exists, err := i.postRepo.ExistsPost(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		i.MarkPost(id)
	}
	return exists, nil
}

// SeenComment はコメントIDが保存済みかを返す。
func (i *Index) SeenComment(ctx context.Context, id string) (bool, error) {
	i.mu.Lock()
	hit := i.comments.contains(id)
	i.mu.Unlock()
	if hit {
		return true, nil
	}

	exists, err := i.commentRepo.ExistsComment(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		i.MarkComment(id)
	}
	return exists, nil
}

// MarkPost は挿入済みの投稿IDをメモリに記録する。
func (i *Index) MarkPost(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.posts.add(id)
}

// MarkComment は挿入済みのコメントIDをメモリに記録する。
func (i *Index) MarkComment(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.comments.add(id)
}

// recentSet は容量制限付きのID集合。容量を超えた分は古い順に忘れる。
// 忘れてもストアへの問い合わせに退避するだけで正しさは損なわれない。
type recentSet struct {
	capacity int
	ids      map[string]struct{}
	order    []string
}

func newRecentSet(capacity int) *recentSet {
	return &recentSet{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

func (s *recentSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *recentSet) add(id string) {
	if _, ok := s.ids[id]; ok {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
}
