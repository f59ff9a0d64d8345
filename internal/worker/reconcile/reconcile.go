// Package reconcile はポーリングスケジュールの再構築ジョブを提供する。
// 購読者がいて失敗状態でないフィードすべてにStartPollingを発行する。
// StartPollingは冪等なので、既にポーリング中のフィードには影響しない。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feedpoller/internal/model"
)

// FeedLister はポーリング対象のフィードを列挙する。
type FeedLister interface {
	ListPollable(ctx context.Context) ([]*model.Feed, error)
}

// PollStarter はフィードのポーリングを開始する。
type PollStarter interface {
	StartPolling(ctx context.Context, feedURL string) (int64, error)
}

// Job はスケジュールの再構築ジョブ。
// ワーカー起動時と一定間隔で実行し、キューから失われたポーリングを復元する。
type Job struct {
	feeds    FeedLister
	starter  PollStarter
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 10分）
}

// NewJob は新しいJobを生成する。
func NewJob(feeds FeedLister, starter PollStarter, logger *slog.Logger) *Job {
	return &Job{
		feeds:    feeds,
		starter:  starter,
		logger:   logger,
		Interval: 10 * time.Minute,
	}
}

// Run はポーリング対象のフィードを列挙してStartPollingを発行する。
// 個別のフィードの失敗は記録して続行し、失敗件数があればエラーを返す。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	feeds, err := j.feeds.ListPollable(ctx)
	if err != nil {
		j.logger.Error("ポーリング対象フィードの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ポーリング対象フィードの取得に失敗: %w", err)
	}

	failed := 0
	for _, f := range feeds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := j.starter.StartPolling(ctx, f.FeedURL); err != nil {
			failed++
			j.logger.Error("ポーリングの登録に失敗しました",
				slog.Int64("feed_id", f.ID),
				slog.String("feed_url", f.FeedURL),
				slog.String("error", err.Error()),
			)
		}
	}

	duration := time.Since(start)
	j.logger.Info("スケジュール再構築ジョブが完了しました",
		slog.Int("feed_count", len(feeds)),
		slog.Int("failed_count", failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	if failed > 0 {
		return fmt.Errorf("%d件のフィードでポーリングの登録に失敗しました", failed)
	}
	return nil
}

// Start は起動直後に1回、その後Intervalごとにジョブを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	j.logger.Info("スケジュール再構築ジョブを開始しました",
		slog.Duration("interval", j.Interval),
	)

	// エラーはRun内で記録済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("スケジュール再構築ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
