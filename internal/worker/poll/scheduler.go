// Package poll はフィードごとのポーリングループを永続タスクキューの上で実行する。
// 1サイクルごとに取り込み結果からバックオフを決め、次のサイクルを登録し直す。
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedpoller/internal/entry"
	"github.com/hitoshi/feedpoller/internal/feed"
	"github.com/hitoshi/feedpoller/internal/metrics"
	"github.com/hitoshi/feedpoller/internal/model"
	"github.com/hitoshi/feedpoller/internal/queue"
	"github.com/hitoshi/feedpoller/internal/repository"
)

// Ingester はフィードを1回取得して取り込む。
type Ingester interface {
	Ingest(ctx context.Context, feedID int64) entry.Outcome
}

// Options はSchedulerの動作設定。
type Options struct {
	MaxConcurrency int           // 同時に実行するサイクルの上限
	Lease          time.Duration // タスクのリース期間
	ClaimInterval  time.Duration // 実行時刻を過ぎたタスクを取りに行く間隔
}

// Scheduler はポーリングサイクルの登録と実行を行う。
// 同じフィードのサイクルはキューの1フィード1タスク制約により同時に実行されない。
type Scheduler struct {
	feeds    repository.FeedRegistry
	ingester Ingester
	queue    queue.Queue
	policy   BackoffPolicy
	metrics  metrics.Recorder
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	sem      chan struct{}
	inflight sync.WaitGroup
}

// NewScheduler はSchedulerを生成する。
// MaxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	feeds repository.FeedRegistry,
	ingester Ingester,
	q queue.Queue,
	policy BackoffPolicy,
	recorder metrics.Recorder,
	logger *slog.Logger,
	opts Options,
) *Scheduler {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 10
	}
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.ClaimInterval <= 0 {
		opts.ClaimInterval = 250 * time.Millisecond
	}
	return &Scheduler{
		feeds:    feeds,
		ingester: ingester,
		queue:    q,
		policy:   policy,
		metrics:  recorder,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		sem:      make(chan struct{}, opts.MaxConcurrency),
	}
}

// StartPolling はフィードを解決（なければ作成）し、即時実行のサイクルを登録する。
// 既にポーリング中のフィードに対しては何もしない。
// 失敗状態のフィードはForceUpdateでのみ再開するため、ここでは登録しない。
func (s *Scheduler) StartPolling(ctx context.Context, feedURL string) (int64, error) {
	normalized, err := feed.NormalizeURL(feedURL)
	if err != nil {
		return 0, err
	}

	feedID, created, err := s.feeds.ResolveOrCreate(ctx, normalized)
	if err != nil {
		return 0, fmt.Errorf("フィードの解決に失敗しました: %w", err)
	}

	if !created {
		f, err := s.feeds.FindByURL(ctx, normalized)
		if err != nil {
			return 0, fmt.Errorf("フィードの取得に失敗しました: %w", err)
		}
		if f.Failed {
			s.logger.Debug("失敗状態のフィードのためポーリングを登録しません",
				slog.Int64("feed_id", feedID),
				slog.String("feed_url", normalized),
			)
			return feedID, nil
		}
	}

	if err := s.queue.Schedule(ctx, feedID, 0, 0); err != nil {
		return 0, fmt.Errorf("ポーリングの登録に失敗しました: %w", err)
	}

	s.logger.Debug("ポーリングを登録しました",
		slog.Int64("feed_id", feedID),
		slog.String("feed_url", normalized),
		slog.Bool("created", created),
	)
	return feedID, nil
}

// ForceUpdate は失敗状態のフィードのポーリングを再開する。
// 失敗状態でなければ何もせずfalseを返す。同時に呼ばれても再開は1回だけ起きる。
func (s *Scheduler) ForceUpdate(ctx context.Context, feedURL string) (bool, error) {
	normalized, err := feed.NormalizeURL(feedURL)
	if err != nil {
		return false, err
	}

	f, err := s.feeds.FindByURL(ctx, normalized)
	if err != nil {
		return false, err
	}

	requested, err := s.feeds.RequestForceUpdate(ctx, f.ID)
	if err != nil {
		return false, fmt.Errorf("強制更新の要求に失敗しました: %w", err)
	}
	s.metrics.RecordForceUpdate(requested)

	if !requested {
		return false, nil
	}

	if err := s.queue.Schedule(ctx, f.ID, 0, 0); err != nil {
		return true, fmt.Errorf("ポーリングの登録に失敗しました: %w", err)
	}

	s.logger.Info("失敗状態のフィードのポーリングを再開しました",
		slog.Int64("feed_id", f.ID),
		slog.String("feed_url", normalized),
	)
	return true, nil
}

// Start はClaimIntervalごとに実行時刻を過ぎたタスクを取得し、空き枠の範囲で実行する。
// コンテキストがキャンセルされると、実行中のサイクルの終了を待ってから戻る。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.opts.ClaimInterval)
	defer ticker.Stop()

	s.logger.Info("ポーリングスケジューラを開始しました",
		slog.Duration("claim_interval", s.opts.ClaimInterval),
		slog.Duration("lease", s.opts.Lease),
		slog.Int("max_concurrency", s.opts.MaxConcurrency),
	)

	for {
		select {
		case <-ctx.Done():
			s.inflight.Wait()
			s.logger.Info("ポーリングスケジューラを停止しました")
			return
		case <-ticker.C:
			if _, err := s.dispatch(ctx); err != nil {
				s.logger.Error("タスクの取得に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は実行時刻を過ぎたタスクを空き枠の分だけ取得し、すべて終わるまで待つ。
// 実行したサイクル数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	n, err := s.dispatch(ctx)
	s.inflight.Wait()
	return n, err
}

// dispatch は空き枠の数だけタスクを取得し、それぞれを別のgoroutineで実行する。
func (s *Scheduler) dispatch(ctx context.Context) (int, error) {
	free := cap(s.sem) - len(s.sem)
	if free <= 0 {
		return 0, nil
	}

	tasks, err := s.queue.Claim(ctx, free, s.opts.Lease)
	if err != nil {
		return 0, err
	}

	for _, task := range tasks {
		s.inflight.Add(1)
		s.sem <- struct{}{} // semaphore取得

		go func(t queue.Task) {
			defer s.inflight.Done()
			defer func() { <-s.sem }() // semaphore解放

			s.runCycle(ctx, t)
		}(task)
	}

	return len(tasks), nil
}

// runCycle はサイクルを1回実行し、結果に応じて次のサイクルの登録か終了を行う。
func (s *Scheduler) runCycle(ctx context.Context, task queue.Task) {
	start := s.now()
	outcome := s.ingester.Ingest(ctx, task.FeedID)
	elapsed := s.now().Sub(start)

	// 停止中に中断されたサイクルは失敗として数えない。リース切れで再配信される。
	if ctx.Err() != nil {
		s.logger.Info("停止のためサイクルを中断しました",
			slog.Int64("feed_id", task.FeedID),
		)
		return
	}

	s.metrics.RecordCycle(outcome.Kind.String(), elapsed)
	s.logOutcome(task, outcome, elapsed)

	decision := s.policy.Decide(task.FailCount, outcome.Kind)

	if !decision.Stop {
		delay := max(decision.Delay-elapsed, 0)
		if err := s.queue.Reschedule(ctx, task, decision.FailCount, delay); err != nil {
			s.queueError(task, "次のサイクルの登録に失敗しました", err)
		}
		return
	}

	// 先にタスクを終了する。終了までの間に再開要求が入っていれば失敗状態にしない。
	rearmed, err := s.queue.Complete(ctx, task)
	if err != nil {
		s.queueError(task, "タスクの終了に失敗しました", err)
		return
	}
	if rearmed {
		s.logger.Info("終了処理中に再開要求を受けたためポーリングを継続します",
			slog.Int64("feed_id", task.FeedID),
		)
		return
	}

	if decision.MarkFailed {
		if err := s.feeds.MarkFailed(ctx, task.FeedID); err != nil && !errors.Is(err, model.ErrFeedNotFound) {
			s.logger.Error("フィードの失敗状態への更新に失敗しました",
				slog.Int64("feed_id", task.FeedID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.metrics.RecordFeedFailed()
		s.logger.Warn("連続失敗の上限に達したためポーリングを停止しました",
			slog.Int64("feed_id", task.FeedID),
			slog.Int("fail_count", decision.FailCount),
		)
	}
}

// logOutcome はサイクル結果を重要度に応じたレベルで記録する。
func (s *Scheduler) logOutcome(task queue.Task, outcome entry.Outcome, elapsed time.Duration) {
	attrs := []any{
		slog.Int64("feed_id", task.FeedID),
		slog.String("outcome", outcome.Kind.String()),
		slog.Int("fail_count", task.FailCount),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	}

	switch outcome.Kind {
	case entry.Updated:
		s.metrics.RecordEntriesAppended(outcome.Count)
		s.logger.Debug("サイクルが完了しました", append(attrs, slog.Int("entries_inserted", outcome.Count))...)
	case entry.Unchanged:
		s.logger.Debug("サイクルが完了しました", attrs...)
	case entry.Gone:
		s.logger.Info("購読者がいないためポーリングを終了します", attrs...)
	case entry.Failed:
		attrs = append(attrs, slog.String("error", outcome.Err.Error()))
		var fetchErr *model.FetchError
		if errors.As(outcome.Err, &fetchErr) {
			s.metrics.RecordFetchStatus(fetchErr.StatusCode)
			s.logger.Warn("フィードのフェッチに失敗しました", append(attrs, slog.Int("status_code", fetchErr.StatusCode))...)
			return
		}
		s.logger.Error("フィードの取り込みに失敗しました", attrs...)
	}
}

// queueError はキュー操作の失敗を記録する。リース失効は他のワーカーが引き継いだだけなので警告に留める。
func (s *Scheduler) queueError(task queue.Task, msg string, err error) {
	if errors.Is(err, queue.ErrLeaseLost) {
		s.metrics.RecordLeaseLost()
		s.logger.Warn("リースが失効したためサイクル結果を破棄しました",
			slog.Int64("feed_id", task.FeedID),
		)
		return
	}
	s.logger.Error(msg,
		slog.Int64("feed_id", task.FeedID),
		slog.String("error", err.Error()),
	)
}
