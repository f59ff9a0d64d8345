// Package model はドメインモデルを定義する。
package model

import "time"

// Feed は購読対象のRSS/Atomフィードを表す。
// ETag/LastModifiedは条件付きGET用のキャッシュ検証トークンで、
// Failedはフェッチ失敗が閾値に達したことを示す。
type Feed struct {
	ID           int64
	FeedURL      string
	ETag         string
	LastModified string
	Failed       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CacheTokens はフィードの条件付きGETに使うトークンの組。
// ETagとLastModifiedはどちらも空文字列の場合がある。
type CacheTokens struct {
	FeedURL      string
	ETag         string
	LastModified string
}

// FetchResult はフェッチャーが返す1回分の取得結果。
// NotModifiedがtrueの場合、Entriesは空でトークンも返さない。
type FetchResult struct {
	NotModified  bool
	ETag         string
	LastModified string
	Entries      []NewEntry
}
