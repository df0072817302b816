package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/buzztail/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// ExistsComment は指定IDのコメントが存在するかを返す。
func (r *PostgresCommentRepo) ExistsComment(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM comments WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("コメントの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// InsertComments はコメントをバッチ挿入する。
// 既存IDの行はON CONFLICTにより無視され、実際に挿入された件数を返す。
func (r *PostgresCommentRepo) InsertComments(ctx context.Context, comments []model.Comment) (int, error) {
	if len(comments) == 0 {
		return 0, nil
	}

	const cols = 7
	placeholders := make([]string, 0, len(comments))
	args := make([]interface{}, 0, len(comments)*cols)

	for i, c := range comments {
		base := i * cols
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			c.ID, c.PostID, nullablePtr(c.Author), c.Body, c.CreatedAt, c.Score, c.Permalink,
		)
	}

	query := `INSERT INTO comments (id, post_id, author, body, created_at, score, permalink)
	          VALUES ` + strings.Join(placeholders, ", ") + `
	          ON CONFLICT (id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("コメントのバッチ挿入に失敗しました: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("コメント挿入の結果取得に失敗しました: %w", err)
	}

	return int(rows), nil
}

// nullablePtr は*stringをsql.NullStringに変換する。
func nullablePtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
