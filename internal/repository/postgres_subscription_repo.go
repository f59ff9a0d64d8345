package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/feedpoller/internal/model"
)

// PostgreSQLのエラーコード
const (
	pgForeignKeyViolation = "23503"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// Follow は購読を作成する。既に購読済みの場合はfalseを返す。
func (r *PostgresSubscriptionRepo) Follow(ctx context.Context, subscriberID, feedID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (subscriber_id, feed_id)
		 VALUES ($1, $2)
		 ON CONFLICT (subscriber_id, feed_id) DO NOTHING`,
		subscriberID, feedID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation {
			if pqErr.Constraint == "subscriptions_subscriber_id_fkey" {
				return false, model.ErrSubscriberNotFound
			}
			return false, model.ErrFeedNotFound
		}
		return false, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("作成結果の取得に失敗しました: %w", err)
	}
	return rowsAffected == 1, nil
}

// Unfollow は購読を削除し、購読が存在したかを返す。
func (r *PostgresSubscriptionRepo) Unfollow(ctx context.Context, subscriberID, feedID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = $1 AND feed_id = $2`,
		subscriberID, feedID,
	)
	if err != nil {
		return false, fmt.Errorf("購読の削除に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListFeeds は購読中のフィードを購読開始順に返す。
func (r *PostgresSubscriptionRepo) ListFeeds(ctx context.Context, subscriberID int64) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.id, f.feed_url, f.etag, f.last_modified, f.failed, f.created_at, f.updated_at
		 FROM subscriptions s
		 JOIN feeds f ON f.id = s.feed_id
		 WHERE s.subscriber_id = $1
		 ORDER BY s.created_at ASC, s.id ASC`,
		subscriberID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanFeeds(rows)
}

// AdvanceCursor は既読カーソルをentryIDまで進める。
// GREATESTにより、現在値より小さい値を渡してもカーソルは戻らない。
func (r *PostgresSubscriptionRepo) AdvanceCursor(ctx context.Context, subscriberID, feedID, entryID int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions s
		 SET last_read_entry_id = GREATEST(s.last_read_entry_id, e.id)
		 FROM entries e
		 WHERE s.subscriber_id = $1
		   AND s.feed_id = $2
		   AND e.id = $3
		   AND e.feed_id = s.feed_id`,
		subscriberID, feedID, entryID,
	)
	if err != nil {
		return fmt.Errorf("既読カーソルの更新に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// 更新できなかった原因を判定する
	if _, err := r.Cursor(ctx, subscriberID, feedID); err != nil {
		return err
	}
	return model.ErrEntryNotFound
}

// UnreadSince はカーソルより後のエントリを公開日時順に返す。
func (r *PostgresSubscriptionRepo) UnreadSince(ctx context.Context, subscriberID, feedID int64) ([]model.Entry, error) {
	cursor, err := r.Cursor(ctx, subscriberID, feedID)
	if err != nil {
		return nil, err
	}
	return listEntriesSince(ctx, r.db, feedID, cursor)
}

// Cursor は購読の既読カーソルを返す。購読がない場合はmodel.ErrSubscriptionNotFoundを返す。
func (r *PostgresSubscriptionRepo) Cursor(ctx context.Context, subscriberID, feedID int64) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_read_entry_id FROM subscriptions WHERE subscriber_id = $1 AND feed_id = $2`,
		subscriberID, feedID,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.ErrSubscriptionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("既読カーソルの取得に失敗しました: %w", err)
	}
	return cursor, nil
}

// compile-time interface check
var _ SubscriptionStore = (*PostgresSubscriptionRepo)(nil)
