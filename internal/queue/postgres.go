package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresQueue はpoll_tasksテーブルを使用したQueue実装。
// 複数のワーカープロセスがFOR UPDATE SKIP LOCKEDで同時にタスクを取得できる。
type PostgresQueue struct {
	db *sql.DB
}

// NewPostgresQueue はPostgresQueueを生成する。
func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Schedule はdelay後に実行するタスクを登録する。
func (q *PostgresQueue) Schedule(ctx context.Context, feedID int64, failCount int, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO poll_tasks (feed_id, fail_count, run_at)
		 VALUES ($1, $2, now() + make_interval(secs => $3))
		 ON CONFLICT (feed_id) DO UPDATE
		    SET rearm = true, updated_at = now()
		  WHERE poll_tasks.lease_token IS NOT NULL`,
		feedID, failCount, seconds(delay),
	)
	if err != nil {
		return fmt.Errorf("タスクの登録に失敗しました: %w", err)
	}
	return nil
}

// Claim は実行時刻を過ぎたタスクを最大limit件リースする。
// リース期限が切れたタスクも対象になる。
func (q *PostgresQueue) Claim(ctx context.Context, limit int, lease time.Duration) ([]Task, error) {
	token := uuid.New()

	rows, err := q.db.QueryContext(ctx,
		`UPDATE poll_tasks
		 SET lease_token = $1,
		     lease_until = now() + make_interval(secs => $2),
		     updated_at = now()
		 WHERE feed_id IN (
		     SELECT feed_id FROM poll_tasks
		     WHERE run_at <= now()
		       AND (lease_until IS NULL OR lease_until < now())
		     ORDER BY run_at ASC
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING feed_id, fail_count, run_at`,
		token, seconds(lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task := Task{LeaseToken: token}
		if err := rows.Scan(&task.FeedID, &task.FailCount, &task.RunAt); err != nil {
			return nil, fmt.Errorf("タスク行の読み取りに失敗しました: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タスク一覧の走査に失敗しました: %w", err)
	}
	return tasks, nil
}

// Reschedule はリース中のタスクをdelay後に再実行するよう戻す。
func (q *PostgresQueue) Reschedule(ctx context.Context, task Task, failCount int, delay time.Duration) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE poll_tasks
		 SET fail_count = $3,
		     run_at = now() + make_interval(secs => $4),
		     lease_token = NULL,
		     lease_until = NULL,
		     rearm = false,
		     updated_at = now()
		 WHERE feed_id = $1 AND lease_token = $2`,
		task.FeedID, task.LeaseToken, failCount, seconds(delay),
	)
	if err != nil {
		return fmt.Errorf("タスクの再登録に失敗しました: %w", err)
	}
	return leaseHeld(result)
}

// Complete はリース中のタスクを削除する。
// 再開要求が入っていた場合は削除せず、失敗回数0で即時実行に戻す。
func (q *PostgresQueue) Complete(ctx context.Context, task Task) (bool, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM poll_tasks WHERE feed_id = $1 AND lease_token = $2 AND NOT rearm`,
		task.FeedID, task.LeaseToken,
	)
	if err != nil {
		return false, fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if deleted > 0 {
		return false, nil
	}

	result, err = q.db.ExecContext(ctx,
		`UPDATE poll_tasks
		 SET fail_count = 0,
		     run_at = now(),
		     lease_token = NULL,
		     lease_until = NULL,
		     rearm = false,
		     updated_at = now()
		 WHERE feed_id = $1 AND lease_token = $2`,
		task.FeedID, task.LeaseToken,
	)
	if err != nil {
		return false, fmt.Errorf("タスクの再開に失敗しました: %w", err)
	}
	if err := leaseHeld(result); err != nil {
		return false, err
	}
	return true, nil
}

// leaseHeld は更新行数が0の場合にErrLeaseLostを返す。
func leaseHeld(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// seconds はmake_interval用に秒数へ変換する。
func seconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

// compile-time interface check
var _ Queue = (*PostgresQueue)(nil)
