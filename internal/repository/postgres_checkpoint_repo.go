package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresCheckpointRepo はPostgreSQLを使用したチェックポイントリポジトリ。
type PostgresCheckpointRepo struct {
	db *sql.DB
}

// NewPostgresCheckpointRepo はPostgresCheckpointRepoを生成する。
func NewPostgresCheckpointRepo(db *sql.DB) *PostgresCheckpointRepo {
	return &PostgresCheckpointRepo{db: db}
}

// GetCheckpoint はトピックのウォーターマークを取得する。未登録の場合はゼロ値を返す。
func (r *PostgresCheckpointRepo) GetCheckpoint(ctx context.Context, topic string) (time.Time, error) {
	var ts time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT last_fetched_at FROM checkpoints WHERE topic = $1`,
		topic,
	).Scan(&ts)

	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("チェックポイントの取得に失敗しました: %w", err)
	}

	return ts, nil
}

// SetCheckpoint はトピックのウォーターマークを更新する。
// GREATESTにより保存済みの値より古い値では巻き戻らない（単調非減少）。
func (r *PostgresCheckpointRepo) SetCheckpoint(ctx context.Context, topic string, ts time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checkpoints (topic, last_fetched_at)
		 VALUES ($1, $2)
		 ON CONFLICT (topic) DO UPDATE
		 SET last_fetched_at = GREATEST(checkpoints.last_fetched_at, EXCLUDED.last_fetched_at)`,
		topic, ts,
	)
	if err != nil {
		return fmt.Errorf("チェックポイントの更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CheckpointRepository = (*PostgresCheckpointRepo)(nil)
