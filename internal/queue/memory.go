package queue

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryTask はMemoryQueue内のタスク1件。
type memoryTask struct {
	failCount  int
	runAt      time.Time
	leaseToken uuid.UUID
	leaseUntil time.Time
	rearm      bool
}

// MemoryQueue はプロセス内で完結するQueue実装。
// 単一プロセスでの実行とテストで使用する。プロセス再起動でスケジュールは失われる。
type MemoryQueue struct {
	mu    sync.Mutex
	tasks map[int64]*memoryTask
	now   func() time.Time
}

// NewMemoryQueue はMemoryQueueを生成する。nowがnilの場合はtime.Nowを使用する。
func NewMemoryQueue(now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{
		tasks: make(map[int64]*memoryTask),
		now:   now,
	}
}

// Schedule はdelay後に実行するタスクを登録する。
func (q *MemoryQueue) Schedule(_ context.Context, feedID int64, failCount int, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.tasks[feedID]; ok {
		if t.leaseToken != uuid.Nil {
			t.rearm = true
		}
		return nil
	}
	q.tasks[feedID] = &memoryTask{
		failCount: failCount,
		runAt:     q.now().Add(max(delay, 0)),
	}
	return nil
}

// Claim は実行時刻を過ぎたタスクを実行時刻順に最大limit件リースする。
func (q *MemoryQueue) Claim(_ context.Context, limit int, lease time.Duration) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	token := uuid.New()

	var due []Task
	for feedID, t := range q.tasks {
		if t.runAt.After(now) {
			continue
		}
		if t.leaseToken != uuid.Nil && !t.leaseUntil.Before(now) {
			continue
		}
		due = append(due, Task{FeedID: feedID, FailCount: t.failCount, RunAt: t.runAt})
	}
	slices.SortFunc(due, func(a, b Task) int {
		if c := a.RunAt.Compare(b.RunAt); c != 0 {
			return c
		}
		return cmp.Compare(a.FeedID, b.FeedID)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		t := q.tasks[due[i].FeedID]
		t.leaseToken = token
		t.leaseUntil = now.Add(lease)
		due[i].LeaseToken = token
	}
	return due, nil
}

// Reschedule はリース中のタスクをdelay後に再実行するよう戻す。
func (q *MemoryQueue) Reschedule(_ context.Context, task Task, failCount int, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[task.FeedID]
	if !ok || t.leaseToken != task.LeaseToken {
		return ErrLeaseLost
	}
	*t = memoryTask{
		failCount: failCount,
		runAt:     q.now().Add(max(delay, 0)),
	}
	return nil
}

// Complete はリース中のタスクを削除する。再開要求があれば即時実行に戻す。
func (q *MemoryQueue) Complete(_ context.Context, task Task) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[task.FeedID]
	if !ok || t.leaseToken != task.LeaseToken {
		return false, ErrLeaseLost
	}
	if t.rearm {
		*t = memoryTask{runAt: q.now()}
		return true, nil
	}
	delete(q.tasks, task.FeedID)
	return false, nil
}

// Pending は登録済みタスクの状態を返す。リース中でも返す。
func (q *MemoryQueue) Pending(feedID int64) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[feedID]
	if !ok {
		return Task{}, false
	}
	return Task{FeedID: feedID, FailCount: t.failCount, RunAt: t.runAt, LeaseToken: t.leaseToken}, true
}

// Len は登録済みタスク数を返す。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// compile-time interface check
var _ Queue = (*MemoryQueue)(nil)
