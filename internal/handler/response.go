package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/feedpoller/internal/middleware"
	"github.com/hitoshi/feedpoller/internal/model"
)

// messageResponse は処理結果のメッセージのみを返すレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// requestParams はエラーメッセージの組み立てに使うリクエストパラメータ。
type requestParams struct {
	Username string
	FeedURL  string
	EntryID  int64
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error, p requestParams) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, model.ErrInvalidFeedURL):
		apiErr = model.NewInvalidURLError(p.FeedURL)
	case errors.Is(err, model.ErrSubscriberNotFound):
		// ユーザー管理はこのサービスの外側にあるため、不在は内部不整合として扱う
		logger.Error("購読者が見つかりません", slog.String("username", p.Username))
		apiErr = model.NewUserNotFoundError(p.Username)
	case errors.Is(err, model.ErrSubscriberExists):
		apiErr = model.NewUserExistsError(p.Username)
	case errors.Is(err, model.ErrSubscriptionNotFound):
		apiErr = model.NewSubscriptionNotFoundError(p.FeedURL)
	case errors.Is(err, model.ErrFeedNotFound):
		apiErr = model.NewFeedNotFoundError(p.FeedURL)
	case errors.Is(err, model.ErrEntryNotFound):
		apiErr = model.NewEntryNotFoundError(p.EntryID)
	default:
		logger.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteAPIError(w, apiErr)
}

// requiredParam は必須のクエリ/フォームパラメータを返す。
func requiredParam(r *http.Request, name string) (string, *model.APIError) {
	v := r.FormValue(name)
	if v == "" {
		return "", model.NewInvalidParameterError(name)
	}
	return v, nil
}

// boolParam は省略可能な真偽値パラメータを返す。省略時はfalse。
func boolParam(r *http.Request, name string) (bool, *model.APIError) {
	v := r.FormValue(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, model.NewInvalidParameterError(name)
	}
	return b, nil
}

// int64Param は必須の整数パラメータを返す。
func int64Param(r *http.Request, name string) (int64, *model.APIError) {
	v, apiErr := requiredParam(r, name)
	if apiErr != nil {
		return 0, apiErr
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, model.NewInvalidParameterError(name)
	}
	return n, nil
}
