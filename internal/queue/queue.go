// Package queue はフィードごとのポーリングサイクルを保持する永続タスクキューを提供する。
// 1フィードにつき1タスクで、配信は少なくとも1回（リース期限切れで再配信）となる。
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLeaseLost はタスクのリースが失効し、他のワーカーに再配信されたことを示す。
var ErrLeaseLost = errors.New("task lease lost")

// Task はリース中のポーリングサイクル1回分。
// FailCountはサイクル間で引き継ぐ連続失敗回数。
type Task struct {
	FeedID     int64
	FailCount  int
	RunAt      time.Time
	LeaseToken uuid.UUID
}

// Queue はポーリングサイクルのスケジュールを管理する。
type Queue interface {
	// Schedule はdelay後に実行するタスクを登録する。
	// 既にタスクがある場合は重複させない。実行中のタスクが終了処理に入った場合は再開させる。
	Schedule(ctx context.Context, feedID int64, failCount int, delay time.Duration) error

	// Claim は実行時刻を過ぎたタスクを最大limit件リースする。
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Task, error)

	// Reschedule はリース中のタスクをdelay後に再実行するよう戻す。
	Reschedule(ctx context.Context, task Task, failCount int, delay time.Duration) error

	// Complete はリース中のタスクを終了する。
	// リース中にScheduleが呼ばれていた場合は削除せず即時実行に戻し、rearmed=trueを返す。
	Complete(ctx context.Context, task Task) (rearmed bool, err error)
}
