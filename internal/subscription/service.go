// Package subscription は購読と既読管理のドメインロジックを提供する。
package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/hitoshi/feedpoller/internal/feed"
	"github.com/hitoshi/feedpoller/internal/model"
	"github.com/hitoshi/feedpoller/internal/repository"
)

// PollStarter はフィードのポーリングを開始する。
type PollStarter interface {
	StartPolling(ctx context.Context, feedURL string) (int64, error)
}

// URLChecker はフェッチしてよいURLかを検証する。
type URLChecker interface {
	Check(rawURL string) error
}

// FeedItems は1フィード分のエントリと失敗状態。
type FeedItems struct {
	Items  []model.Entry
	Failed bool
}

// AllItems は購読中の全フィードのエントリと、失敗状態のフィードURL。
type AllItems struct {
	Items  []model.Entry
	Failed []string
}

// Service は購読管理のサービス層。
// 購読・購読解除、エントリ一覧、既読管理のビジネスロジックを提供する。
type Service struct {
	subscribers repository.SubscriberRepository
	feeds       repository.FeedRegistry
	subs        repository.SubscriptionStore
	entries     repository.EntryStore
	poller      PollStarter
	guard       URLChecker
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	subscribers repository.SubscriberRepository,
	feeds repository.FeedRegistry,
	subs repository.SubscriptionStore,
	entries repository.EntryStore,
	poller PollStarter,
	guard URLChecker,
	logger *slog.Logger,
) *Service {
	return &Service{
		subscribers: subscribers,
		feeds:       feeds,
		subs:        subs,
		entries:     entries,
		poller:      poller,
		guard:       guard,
		logger:      logger,
	}
}

// Follow はフィードを購読し、ポーリングを開始する。
// 購読済みのフィードに対してはfalseを返し、ポーリングには触れない。
// 失敗状態のフィードは購読だけ行い、ポーリングはForceUpdateまで再開しない。
func (s *Service) Follow(ctx context.Context, username, feedURL string) (bool, error) {
	normalized, err := feed.NormalizeURL(feedURL)
	if err != nil {
		return false, err
	}
	if err := s.guard.Check(normalized); err != nil {
		return false, err
	}

	sub, err := s.subscribers.FindByUsername(ctx, username)
	if err != nil {
		return false, err
	}

	feedID, created, err := s.feeds.ResolveOrCreate(ctx, normalized)
	if err != nil {
		return false, fmt.Errorf("フィードの登録に失敗しました: %w", err)
	}

	isNew, err := s.subs.Follow(ctx, sub.ID, feedID)
	if err != nil {
		return false, err
	}
	if !isNew {
		return false, nil
	}

	s.logger.Info("フィードを購読しました",
		slog.Int64("subscriber_id", sub.ID),
		slog.Int64("feed_id", feedID),
		slog.String("feed_url", normalized),
	)

	if !created {
		f, err := s.feeds.FindByURL(ctx, normalized)
		if err != nil {
			return true, fmt.Errorf("フィードの取得に失敗しました: %w", err)
		}
		if f.Failed {
			return true, nil
		}
	}

	if _, err := s.poller.StartPolling(ctx, normalized); err != nil {
		return true, fmt.Errorf("ポーリングの開始に失敗しました: %w", err)
	}
	return true, nil
}

// Unfollow は購読を解除する。購読していない場合はmodel.ErrSubscriptionNotFoundを返す。
// 最後の購読者がいなくなったフィードのポーリングは次のサイクルで終了する。
func (s *Service) Unfollow(ctx context.Context, username, feedURL string) error {
	sub, f, err := s.resolve(ctx, username, feedURL)
	if err != nil {
		return err
	}

	existed, err := s.subs.Unfollow(ctx, sub.ID, f.ID)
	if err != nil {
		return err
	}
	if !existed {
		return model.ErrSubscriptionNotFound
	}

	s.logger.Info("購読を解除しました",
		slog.Int64("subscriber_id", sub.ID),
		slog.Int64("feed_id", f.ID),
	)
	return nil
}

// ListFeeds は購読中のフィードURLを購読開始順に返す。
func (s *Service) ListFeeds(ctx context.Context, username string) ([]string, error) {
	sub, err := s.subscribers.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	feeds, err := s.subs.ListFeeds(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return lo.Map(feeds, func(f *model.Feed, _ int) string { return f.FeedURL }), nil
}

// FeedItems は1フィードのエントリを公開日時順に返す。
// unreadOnlyの場合は既読カーソルより後のエントリだけを返す。
func (s *Service) FeedItems(ctx context.Context, username, feedURL string, unreadOnly bool) (*FeedItems, error) {
	sub, f, err := s.resolve(ctx, username, feedURL)
	if err != nil {
		return nil, err
	}

	items, err := s.listItems(ctx, sub.ID, f.ID, unreadOnly)
	if err != nil {
		return nil, err
	}

	return &FeedItems{Items: items, Failed: f.Failed}, nil
}

// AllItems は購読中の全フィードのエントリを公開日時順にまとめて返す。
// 失敗状態のフィードのURLも合わせて返す。
func (s *Service) AllItems(ctx context.Context, username string, unreadOnly bool) (*AllItems, error) {
	sub, err := s.subscribers.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	feeds, err := s.subs.ListFeeds(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	perFeed := make([][]model.Entry, 0, len(feeds))
	for _, f := range feeds {
		items, err := s.listItems(ctx, sub.ID, f.ID, unreadOnly)
		if errors.Is(err, model.ErrSubscriptionNotFound) {
			// 一覧取得後に購読解除された
			continue
		}
		if err != nil {
			return nil, err
		}
		perFeed = append(perFeed, items)
	}

	items := lo.Flatten(perFeed)
	slices.SortStableFunc(items, func(a, b model.Entry) int {
		return cmp.Or(cmp.Compare(a.Published, b.Published), cmp.Compare(a.ID, b.ID))
	})

	failed := lo.FilterMap(feeds, func(f *model.Feed, _ int) (string, bool) {
		return f.FeedURL, f.Failed
	})

	return &AllItems{Items: items, Failed: failed}, nil
}

// MarkRead はentryIDまでのエントリを既読にする。
// entryIDがフィードに属さない場合はmodel.ErrEntryNotFoundを返す。
func (s *Service) MarkRead(ctx context.Context, username, feedURL string, entryID int64) error {
	sub, f, err := s.resolve(ctx, username, feedURL)
	if err != nil {
		return err
	}
	return s.subs.AdvanceCursor(ctx, sub.ID, f.ID, entryID)
}

// resolve はユーザー名とフィードURLを購読者とフィードに解決する。
// 未知のフィードは購読していないものとして扱う。
func (s *Service) resolve(ctx context.Context, username, feedURL string) (*model.Subscriber, *model.Feed, error) {
	normalized, err := feed.NormalizeURL(feedURL)
	if err != nil {
		return nil, nil, err
	}

	sub, err := s.subscribers.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, err
	}

	f, err := s.feeds.FindByURL(ctx, normalized)
	if errors.Is(err, model.ErrFeedNotFound) {
		return nil, nil, model.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return sub, f, nil
}

// listItems は購読を確認したうえでエントリを返す。
func (s *Service) listItems(ctx context.Context, subscriberID, feedID int64, unreadOnly bool) ([]model.Entry, error) {
	if unreadOnly {
		return s.subs.UnreadSince(ctx, subscriberID, feedID)
	}
	if _, err := s.subs.Cursor(ctx, subscriberID, feedID); err != nil {
		return nil, err
	}
	return s.entries.ListSince(ctx, feedID, model.NoneRead)
}
