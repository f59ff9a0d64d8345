package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedpoller/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger        *slog.Logger
	HealthChecker HealthChecker
	RateLimiter   *middleware.RateLimiter
	Metrics       http.Handler // nilの場合は/metricsを公開しない

	UserService         UserServiceInterface
	SubscriptionService SubscriptionServiceInterface
	FeedUpdater         FeedUpdaterInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → RateLimit(General)
//
// /healthcheck と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	userHandler := NewUserHandler(deps.UserService, deps.Logger)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService, deps.Logger)
	feedHandler := NewFeedHandler(deps.FeedUpdater, deps.Logger)

	r.Get("/healthcheck", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/add_user", userHandler.AddUser)

		// 購読登録はフィードの作成とポーリング開始を伴うため専用の制限を追加
		r.With(deps.RateLimiter.FollowMiddleware()).Post("/follow", subHandler.Follow)
		r.Post("/unfollow", subHandler.Unfollow)
		r.Get("/feeds", subHandler.ListFeeds)
		r.Get("/feed_items", subHandler.FeedItems)
		r.Get("/all_items", subHandler.AllItems)
		r.Post("/mark_read", subHandler.MarkRead)

		r.Post("/update_feed", feedHandler.UpdateFeed)
	})

	return r
}
