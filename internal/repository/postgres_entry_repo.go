package repository

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"slices"

	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/hitoshi/feedpoller/internal/model"
)

// PostgresEntryRepo はPostgreSQLを使用したエントリストア。
type PostgresEntryRepo struct {
	db *sql.DB
}

// NewPostgresEntryRepo はPostgresEntryRepoを生成する。
func NewPostgresEntryRepo(db *sql.DB) *PostgresEntryRepo {
	return &PostgresEntryRepo{db: db}
}

// hashedEntry は挿入前のエントリと内容ハッシュの組。
type hashedEntry struct {
	model.NewEntry
	hash string
}

// Append は公開日時の昇順に並べてエントリを追加する。
// 挿入は1文で行い、unnestの並び順でIDが採番される。
// (feed_id, published, content_hash)の一意制約に衝突した行は無視する。
func (r *PostgresEntryRepo) Append(ctx context.Context, feedID int64, entries []model.NewEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	rows := prepareEntries(entries)

	published := lo.Map(rows, func(e hashedEntry, _ int) int64 { return e.Published })
	contents := lo.Map(rows, func(e hashedEntry, _ int) string { return e.Content })
	hashes := lo.Map(rows, func(e hashedEntry, _ int) string { return e.hash })

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO entries (feed_id, published, content, content_hash)
		 SELECT $1, t.published, t.content, t.content_hash
		 FROM unnest($2::bigint[], $3::text[], $4::text[])
		      WITH ORDINALITY AS t(published, content, content_hash, ord)
		 ORDER BY t.ord
		 ON CONFLICT (feed_id, published, content_hash) DO NOTHING`,
		feedID, pq.Array(published), pq.Array(contents), pq.Array(hashes),
	)
	if err != nil {
		return 0, fmt.Errorf("エントリの追加に失敗しました: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("追加結果の取得に失敗しました: %w", err)
	}
	return int(inserted), nil
}

// ListSince はafterIDより大きいIDのエントリを公開日時順に返す。
func (r *PostgresEntryRepo) ListSince(ctx context.Context, feedID int64, afterID int64) ([]model.Entry, error) {
	return listEntriesSince(ctx, r.db, feedID, afterID)
}

// prepareEntries はバッチ内の重複を除き、公開日時で安定ソートする。
// 同じ公開日時のエントリはフィード内の出現順を保つ。
func prepareEntries(entries []model.NewEntry) []hashedEntry {
	hashed := lo.Map(entries, func(e model.NewEntry, _ int) hashedEntry {
		return hashedEntry{NewEntry: e, hash: contentHash(e.Content)}
	})
	hashed = lo.UniqBy(hashed, func(e hashedEntry) string {
		return fmt.Sprintf("%d|%s", e.Published, e.hash)
	})
	slices.SortStableFunc(hashed, func(a, b hashedEntry) int {
		return cmp.Compare(a.Published, b.Published)
	})
	return hashed
}

// contentHash はエントリ内容のSHA-256ハッシュ（16進数）を計算する。
func contentHash(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

// listEntriesSince はエントリを(published, id)順に読み出す。
func listEntriesSince(ctx context.Context, q queryer, feedID int64, afterID int64) ([]model.Entry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, feed_id, published, content
		 FROM entries
		 WHERE feed_id = $1 AND id > $2
		 ORDER BY published ASC, id ASC`,
		feedID, afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("エントリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	entries := []model.Entry{}
	for rows.Next() {
		var e model.Entry
		if err := rows.Scan(&e.ID, &e.FeedID, &e.Published, &e.Content); err != nil {
			return nil, fmt.Errorf("エントリ行の読み取りに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エントリ一覧の走査に失敗しました: %w", err)
	}
	return entries, nil
}

// compile-time interface check
var _ EntryStore = (*PostgresEntryRepo)(nil)
