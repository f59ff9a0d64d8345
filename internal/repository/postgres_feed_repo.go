package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/feedpoller/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したフィードレジストリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// ResolveOrCreate はURLに対応するフィードIDを返す。存在しなければ作成する。
// 同時に作成された場合でもON CONFLICTにより1行に収束する。
func (r *PostgresFeedRepo) ResolveOrCreate(ctx context.Context, feedURL string) (int64, bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO feeds (feed_url) VALUES ($1)
		 ON CONFLICT (feed_url) DO NOTHING
		 RETURNING id`,
		feedURL,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM feeds WHERE feed_url = $1`,
		feedURL,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("既存フィードの取得に失敗しました: %w", err)
	}
	return id, false, nil
}

// FindByURL はURLでフィードを検索する。
func (r *PostgresFeedRepo) FindByURL(ctx context.Context, feedURL string) (*model.Feed, error) {
	feed := &model.Feed{}
	var etag, lastModified sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, feed_url, etag, last_modified, failed, created_at, updated_at
		 FROM feeds WHERE feed_url = $1`,
		feedURL,
	).Scan(&feed.ID, &feed.FeedURL, &etag, &lastModified, &feed.Failed, &feed.CreatedAt, &feed.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrFeedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("フィードURLによるフィードの検索に失敗しました: %w", err)
	}

	feed.ETag = nullStringValue(etag)
	feed.LastModified = nullStringValue(lastModified)
	return feed, nil
}

// CacheTokens は条件付きGET用のトークンを返す。
// 購読者がいないフィードは存在しないものとして扱う。
func (r *PostgresFeedRepo) CacheTokens(ctx context.Context, feedID int64) (model.CacheTokens, error) {
	var feedURL string
	var etag, lastModified sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT f.feed_url, f.etag, f.last_modified
		 FROM feeds f
		 WHERE f.id = $1
		   AND EXISTS (SELECT 1 FROM subscriptions s WHERE s.feed_id = f.id)`,
		feedID,
	).Scan(&feedURL, &etag, &lastModified)

	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheTokens{}, model.ErrFeedNotFound
	}
	if err != nil {
		return model.CacheTokens{}, fmt.Errorf("キャッシュトークンの取得に失敗しました: %w", err)
	}

	return model.CacheTokens{
		FeedURL:      feedURL,
		ETag:         nullStringValue(etag),
		LastModified: nullStringValue(lastModified),
	}, nil
}

// ApplySuccess は空でないトークンだけを更新し、失敗フラグを解除する。
func (r *PostgresFeedRepo) ApplySuccess(ctx context.Context, feedID int64, etag, lastModified string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    etag = COALESCE($2, etag),
		    last_modified = COALESCE($3, last_modified),
		    failed = false,
		    updated_at = now()
		 WHERE id = $1`,
		feedID, nullString(etag), nullString(lastModified),
	)
	if err != nil {
		return fmt.Errorf("フェッチ成功の反映に失敗しました: %w", err)
	}
	return requireAffected(result, model.ErrFeedNotFound)
}

// MarkFailed は指定フィードの失敗フラグを立てる。
func (r *PostgresFeedRepo) MarkFailed(ctx context.Context, feedID int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET failed = true, updated_at = now() WHERE id = $1`,
		feedID,
	)
	if err != nil {
		return fmt.Errorf("失敗フラグの設定に失敗しました: %w", err)
	}
	return requireAffected(result, model.ErrFeedNotFound)
}

// RequestForceUpdate は失敗フラグが立っている場合のみ解除する。
// 条件付きUPDATEのため、同時に呼ばれてもtrueを返すのは1回だけになる。
func (r *PostgresFeedRepo) RequestForceUpdate(ctx context.Context, feedID int64) (bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE feeds SET failed = false, updated_at = now()
		 WHERE id = $1 AND failed = true
		 RETURNING id`,
		feedID,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("強制更新の要求に失敗しました: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM feeds WHERE id = $1)`,
		feedID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("フィードの存在確認に失敗しました: %w", err)
	}
	if !exists {
		return false, model.ErrFeedNotFound
	}
	return false, nil
}

// ListPollable は購読者がいて失敗状態でないフィードをID順に返す。
func (r *PostgresFeedRepo) ListPollable(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.id, f.feed_url, f.etag, f.last_modified, f.failed, f.created_at, f.updated_at
		 FROM feeds f
		 WHERE f.failed = false
		   AND EXISTS (SELECT 1 FROM subscriptions s WHERE s.feed_id = f.id)
		 ORDER BY f.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ポーリング対象フィードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanFeeds(rows)
}

// scanFeeds はfeeds行を読み取る。列順はid, feed_url, etag, last_modified, failed, created_at, updated_at。
func scanFeeds(rows *sql.Rows) ([]*model.Feed, error) {
	var feeds []*model.Feed
	for rows.Next() {
		feed := &model.Feed{}
		var etag, lastModified sql.NullString
		if err := rows.Scan(
			&feed.ID, &feed.FeedURL, &etag, &lastModified,
			&feed.Failed, &feed.CreatedAt, &feed.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("フィード行の読み取りに失敗しました: %w", err)
		}
		feed.ETag = nullStringValue(etag)
		feed.LastModified = nullStringValue(lastModified)
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// requireAffected は更新行数が0の場合にnotFoundを返す。
func requireAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ FeedRegistry = (*PostgresFeedRepo)(nil)
