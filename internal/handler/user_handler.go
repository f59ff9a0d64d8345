package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedpoller/internal/middleware"
	"github.com/hitoshi/feedpoller/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// AddSubscriber は購読者を登録する。
	AddSubscriber(ctx context.Context, username string) (*model.Subscriber, error)
}

// UserHandler は購読者管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	logger  *slog.Logger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger,
	}
}

// AddUser は購読者を登録する。
// POST /add_user?username=
func (h *UserHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	username, apiErr := requiredParam(r, "username")
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	if _, err := h.service.AddSubscriber(r.Context(), username); err != nil {
		handleServiceError(w, h.logger, err, requestParams{Username: username})
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "User added successfully"})
}
