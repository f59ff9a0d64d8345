package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedpoller/internal/middleware"
)

// FeedUpdaterInterface は失敗状態のフィードの強制更新インターフェース。
type FeedUpdaterInterface interface {
	// ForceUpdate は失敗状態のフィードのポーリングを再開し、再開したかを返す。
	ForceUpdate(ctx context.Context, feedURL string) (bool, error)
}

// FeedHandler はフィード操作のHTTPハンドラー。
type FeedHandler struct {
	updater FeedUpdaterInterface
	logger  *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(updater FeedUpdaterInterface, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		updater: updater,
		logger:  logger,
	}
}

// UpdateFeed は失敗状態のフィードの強制更新を要求する。失敗状態でなければ何もしない。
// POST /update_feed?feed_url=
func (h *FeedHandler) UpdateFeed(w http.ResponseWriter, r *http.Request) {
	feedURL, apiErr := requiredParam(r, "feed_url")
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	requested, err := h.updater.ForceUpdate(r.Context(), feedURL)
	if err != nil {
		handleServiceError(w, h.logger, err, requestParams{FeedURL: feedURL})
		return
	}

	msg := "Update not needed"
	if requested {
		msg = "Update requested"
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}
