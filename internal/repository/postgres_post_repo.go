package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/buzztail/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// ExistsPost は指定IDの投稿が存在するかを返す。
func (r *PostgresPostRepo) ExistsPost(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("投稿の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// InsertPost は投稿を挿入する。同一IDがすでに存在する場合は何もせずfalseを返す。
// 存在確認と挿入の間のレースはON CONFLICTが吸収する。
func (r *PostgresPostRepo) InsertPost(ctx context.Context, post *model.Post) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, topic, created_at, title, body, score, comment_count, last_fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		post.ID, post.Topic, post.CreatedAt, post.Title, post.Body,
		post.Score, post.CommentCount, post.LastFetchedAt,
	)
	if err != nil {
		return false, fmt.Errorf("投稿の挿入に失敗しました: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("投稿挿入の結果取得に失敗しました: %w", err)
	}

	return rows > 0, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
