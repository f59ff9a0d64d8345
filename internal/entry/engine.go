// Package entry はフェッチ結果をエントリストアとフィードレジストリに取り込む。
package entry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/feedpoller/internal/model"
	"github.com/hitoshi/feedpoller/internal/repository"
)

// OutcomeKind は取り込み1回分の結果の種類。
type OutcomeKind int

const (
	// Updated は新しい内容を取得し、保存したことを示す。
	Updated OutcomeKind = iota
	// Unchanged はサーバーが304を返したことを示す。
	Unchanged
	// Gone はフィードが存在しないか購読者がいないことを示す。ポーリングを止める。
	Gone
	// Failed はフェッチまたは保存に失敗したことを示す。
	Failed
)

// String はログとメトリクスのラベルに使う名前を返す。
func (k OutcomeKind) String() string {
	switch k {
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Gone:
		return "gone"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome は取り込み1回分の結果。
type Outcome struct {
	Kind  OutcomeKind
	Count int   // Updatedの場合に新規挿入したエントリ数
	Err   error // Failedの場合の原因
}

// Fetcher はフィードを条件付きGETで1回取得する。
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string, tokens model.CacheTokens) (*model.FetchResult, error)
}

// Engine はフェッチ結果をストアへ反映する唯一の経路。
// エントリ追加とトークン更新はどちらも冪等なので、同じサイクルが重複して実行されても安全。
type Engine struct {
	feeds   repository.FeedRegistry
	entries repository.EntryStore
	fetcher Fetcher
	logger  *slog.Logger
}

// NewEngine はEngineを生成する。
func NewEngine(
	feeds repository.FeedRegistry,
	entries repository.EntryStore,
	fetcher Fetcher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		feeds:   feeds,
		entries: entries,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Ingest はフィードを1回取得して取り込む。
// フェッチ失敗時はストアを一切変更しない。
// エントリ追加はトークン更新より先に行うため、追加に失敗しても次回は同じ内容を再取得できる。
func (e *Engine) Ingest(ctx context.Context, feedID int64) Outcome {
	tokens, err := e.feeds.CacheTokens(ctx, feedID)
	if errors.Is(err, model.ErrFeedNotFound) {
		return Outcome{Kind: Gone}
	}
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("キャッシュトークンの取得に失敗しました: %w", err)}
	}

	result, err := e.fetcher.Fetch(ctx, tokens.FeedURL, tokens)
	if err != nil {
		return Outcome{Kind: Failed, Err: err}
	}
	if result.NotModified {
		return Outcome{Kind: Unchanged}
	}

	inserted, err := e.entries.Append(ctx, feedID, result.Entries)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("エントリの保存に失敗しました: %w", err)}
	}

	if err := e.feeds.ApplySuccess(ctx, feedID, result.ETag, result.LastModified); err != nil {
		if errors.Is(err, model.ErrFeedNotFound) {
			return Outcome{Kind: Gone}
		}
		return Outcome{Kind: Failed, Err: fmt.Errorf("フェッチ成功の反映に失敗しました: %w", err)}
	}

	e.logger.Debug("フィードを取り込みました",
		slog.Int64("feed_id", feedID),
		slog.String("feed_url", tokens.FeedURL),
		slog.Int("entries_fetched", len(result.Entries)),
		slog.Int("entries_inserted", inserted),
	)

	return Outcome{Kind: Updated, Count: inserted}
}
