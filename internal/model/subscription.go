// Package model はドメインモデルを定義する。
package model

import "time"

// Subscriber は購読者を表す。作成・削除はコアの外側で行う。
type Subscriber struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Subscription は購読者とフィードの購読関係を表す。
// Cursorは既読として確認済みの最後のエントリID。
type Subscription struct {
	ID           int64
	SubscriberID int64
	FeedID       int64
	Cursor       int64
	CreatedAt    time.Time
}
