// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/feedpoller/internal/model"
)

// FeedRegistry はフィードのキャッシュトークンと失敗フラグを管理する。
// フィードはURLで一意に識別され、削除されない。
type FeedRegistry interface {
	// ResolveOrCreate はURLに対応するフィードIDを返す。存在しなければ作成する。
	// createdは今回の呼び出しで作成した場合にtrueになる。
	ResolveOrCreate(ctx context.Context, feedURL string) (feedID int64, created bool, err error)

	// FindByURL はURLでフィードを検索する。見つからない場合はmodel.ErrFeedNotFoundを返す。
	FindByURL(ctx context.Context, feedURL string) (*model.Feed, error)

	// CacheTokens は条件付きGET用のトークンを返す。
	// フィードが存在しない、または購読者が1人もいない場合はmodel.ErrFeedNotFoundを返す。
	CacheTokens(ctx context.Context, feedID int64) (model.CacheTokens, error)

	// ApplySuccess は空でないトークンだけを更新し、失敗フラグを解除する。
	ApplySuccess(ctx context.Context, feedID int64, etag, lastModified string) error

	// MarkFailed は失敗フラグを無条件に立てる。
	MarkFailed(ctx context.Context, feedID int64) error

	// RequestForceUpdate は失敗フラグが立っている場合のみ解除し、遷移が起きたかを返す。
	RequestForceUpdate(ctx context.Context, feedID int64) (bool, error)

	// ListPollable は購読者がいて失敗状態でないフィードを返す。
	ListPollable(ctx context.Context) ([]*model.Feed, error)
}

// EntryStore はフィードごとの追記専用エントリログ。
type EntryStore interface {
	// Append は公開日時の昇順に並べてエントリを追加し、実際に挿入した件数を返す。
	// (feed, published, content)が既存と重複するエントリは黙って無視する。
	Append(ctx context.Context, feedID int64, entries []model.NewEntry) (int, error)

	// ListSince はafterIDより大きいIDのエントリを公開日時順に返す。
	// afterIDがmodel.NoneReadの場合は全件を返す。
	ListSince(ctx context.Context, feedID int64, afterID int64) ([]model.Entry, error)
}

// SubscriptionStore は購読者ごとの既読カーソルを管理する。
type SubscriptionStore interface {
	// Follow は購読を作成する。既に購読済みの場合はfalseを返す。
	Follow(ctx context.Context, subscriberID, feedID int64) (bool, error)

	// Unfollow は購読を削除し、購読が存在したかを返す。
	Unfollow(ctx context.Context, subscriberID, feedID int64) (bool, error)

	// ListFeeds は購読中のフィードを返す。
	ListFeeds(ctx context.Context, subscriberID int64) ([]*model.Feed, error)

	// Cursor は既読カーソルを返す。購読がない場合はmodel.ErrSubscriptionNotFoundを返す。
	Cursor(ctx context.Context, subscriberID, feedID int64) (int64, error)

	// AdvanceCursor は既読カーソルをentryIDまで進める。
	// 現在値より小さい値は無視し、フィードに属さないentryIDはmodel.ErrEntryNotFoundになる。
	AdvanceCursor(ctx context.Context, subscriberID, feedID, entryID int64) error

	// UnreadSince はカーソルより後のエントリを公開日時順に返す。
	UnreadSince(ctx context.Context, subscriberID, feedID int64) ([]model.Entry, error)
}

// SubscriberRepository は購読者の永続化インターフェース。
type SubscriberRepository interface {
	// Create は購読者を作成する。同名が存在する場合はmodel.ErrSubscriberExistsを返す。
	Create(ctx context.Context, username string) (*model.Subscriber, error)

	// FindByUsername はユーザー名で購読者を検索する。
	// 見つからない場合はmodel.ErrSubscriberNotFoundを返す。
	FindByUsername(ctx context.Context, username string) (*model.Subscriber, error)
}

// queryer は*sql.DBと*sql.Txの共通部分。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
