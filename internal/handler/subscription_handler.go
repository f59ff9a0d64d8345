package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/samber/lo"

	"github.com/hitoshi/feedpoller/internal/middleware"
	"github.com/hitoshi/feedpoller/internal/model"
	"github.com/hitoshi/feedpoller/internal/subscription"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	Follow(ctx context.Context, username, feedURL string) (bool, error)
	Unfollow(ctx context.Context, username, feedURL string) error
	ListFeeds(ctx context.Context, username string) ([]string, error)
	FeedItems(ctx context.Context, username, feedURL string, unreadOnly bool) (*subscription.FeedItems, error)
	AllItems(ctx context.Context, username string, unreadOnly bool) (*subscription.AllItems, error)
	MarkRead(ctx context.Context, username, feedURL string, entryID int64) error
}

// SubscriptionHandler は購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
	logger  *slog.Logger
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
		logger:  logger,
	}
}

// itemResponse はエントリ1件のAPIレスポンス。contentはシリアライズ済みのJSON文字列。
type itemResponse struct {
	ID        int64  `json:"id"`
	Published int64  `json:"published"`
	Content   string `json:"content"`
}

// feedItemsResponse は1フィード分のエントリ一覧レスポンス。
type feedItemsResponse struct {
	Items  []itemResponse `json:"items"`
	Failed bool           `json:"failed"`
}

// allItemsResponse は全フィードのエントリ一覧レスポンス。
type allItemsResponse struct {
	Items  []itemResponse `json:"items"`
	Failed []string       `json:"failed"`
}

// feedsResponse は購読フィード一覧レスポンス。
type feedsResponse struct {
	Feeds []string `json:"feeds"`
}

func toItemResponses(entries []model.Entry) []itemResponse {
	return lo.Map(entries, func(e model.Entry, _ int) itemResponse {
		return itemResponse{ID: e.ID, Published: e.Published, Content: e.Content}
	})
}

// usernameAndFeed は必須のusernameとfeed_urlを取り出す。
func usernameAndFeed(r *http.Request) (requestParams, *model.APIError) {
	username, apiErr := requiredParam(r, "username")
	if apiErr != nil {
		return requestParams{}, apiErr
	}
	feedURL, apiErr := requiredParam(r, "feed_url")
	if apiErr != nil {
		return requestParams{}, apiErr
	}
	return requestParams{Username: username, FeedURL: feedURL}, nil
}

// Follow はフィードを購読する。購読済みでも成功を返す。
// POST /follow?username=&feed_url=
func (h *SubscriptionHandler) Follow(w http.ResponseWriter, r *http.Request) {
	p, apiErr := usernameAndFeed(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	isNew, err := h.service.Follow(r.Context(), p.Username, p.FeedURL)
	if err != nil {
		handleServiceError(w, h.logger, err, p)
		return
	}

	msg := "Feed already followed"
	if isNew {
		msg = "Feed followed successfully"
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// Unfollow は購読を解除する。
// POST /unfollow?username=&feed_url=
func (h *SubscriptionHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	p, apiErr := usernameAndFeed(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	if err := h.service.Unfollow(r.Context(), p.Username, p.FeedURL); err != nil {
		handleServiceError(w, h.logger, err, p)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Feed unfollowed"})
}

// ListFeeds は購読中のフィードURLを返す。
// GET /feeds?username=
func (h *SubscriptionHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	username, apiErr := requiredParam(r, "username")
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	feeds, err := h.service.ListFeeds(r.Context(), username)
	if err != nil {
		handleServiceError(w, h.logger, err, requestParams{Username: username})
		return
	}

	writeJSON(w, http.StatusOK, feedsResponse{Feeds: lo.Ternary(feeds == nil, []string{}, feeds)})
}

// FeedItems は1フィードのエントリを返す。
// GET /feed_items?username=&feed_url=&unread_only=
func (h *SubscriptionHandler) FeedItems(w http.ResponseWriter, r *http.Request) {
	p, apiErr := usernameAndFeed(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	unreadOnly, apiErr := boolParam(r, "unread_only")
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	items, err := h.service.FeedItems(r.Context(), p.Username, p.FeedURL, unreadOnly)
	if err != nil {
		handleServiceError(w, h.logger, err, p)
		return
	}

	writeJSON(w, http.StatusOK, feedItemsResponse{
		Items:  toItemResponses(items.Items),
		Failed: items.Failed,
	})
}

// AllItems は購読中の全フィードのエントリを公開日時順に返す。
// GET /all_items?username=&unread_only=
func (h *SubscriptionHandler) AllItems(w http.ResponseWriter, r *http.Request) {
	username, apiErr := requiredParam(r, "username")
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	unreadOnly, apiErr := boolParam(r, "unread_only")
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	items, err := h.service.AllItems(r.Context(), username, unreadOnly)
	if err != nil {
		handleServiceError(w, h.logger, err, requestParams{Username: username})
		return
	}

	writeJSON(w, http.StatusOK, allItemsResponse{
		Items:  toItemResponses(items.Items),
		Failed: lo.Ternary(items.Failed == nil, []string{}, items.Failed),
	})
}

// MarkRead はitem_idまでのエントリを既読にする。
// POST /mark_read?username=&feed_url=&item_id=
func (h *SubscriptionHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, apiErr := usernameAndFeed(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	entryID, apiErr := int64Param(r, "item_id")
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	p.EntryID = entryID

	if err := h.service.MarkRead(r.Context(), p.Username, p.FeedURL, entryID); err != nil {
		handleServiceError(w, h.logger, err, p)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Marked as read"})
}
