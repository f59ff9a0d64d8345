// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ドメインエラー。呼び出し側はerrors.Isで判定する。
var (
	// ErrFeedNotFound はフィードが存在しない、または購読者がいないことを示す。
	ErrFeedNotFound = errors.New("feed not found")
	// ErrSubscriberNotFound は購読者が存在しないことを示す。
	ErrSubscriberNotFound = errors.New("subscriber not found")
	// ErrSubscriberExists は同名の購読者が既に存在することを示す。
	ErrSubscriberExists = errors.New("subscriber already exists")
	// ErrSubscriptionNotFound は購読関係が存在しないことを示す。
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrEntryNotFound はエントリが存在しない、またはフィードに属さないことを示す。
	ErrEntryNotFound = errors.New("entry not found")
	// ErrFetchFailed はフェッチの失敗（通信・パース・ステータス）を示す。
	ErrFetchFailed = errors.New("fetch failed")
	// ErrInvalidFeedURL はフィードURLが不正であることを示す。
	ErrInvalidFeedURL = errors.New("invalid feed url")
)

// FetchError はフェッチ失敗の詳細を保持する。
// 分類はErrFetchFailedのみで、StatusCodeはログとメトリクス用。
type FetchError struct {
	URL        string
	StatusCode int // HTTPレスポンスがない場合は0
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap はErrFetchFailedとの比較を可能にする。
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, subscriber, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeInvalidParameter     = "INVALID_PARAMETER"
	ErrCodeFeedNotFound         = "FEED_NOT_FOUND"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeEntryNotFound        = "ENTRY_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeUserExists           = "USER_EXISTS"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewInvalidParameterError は必須パラメータの欠落や形式不正のエラーを生成する。
func NewInvalidParameterError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParameter,
		Message:  fmt.Sprintf("パラメータが不正です: %s", name),
		Category: "validation",
		Action:   "リクエストパラメータを確認してください。",
	}
}

// NewFeedNotFoundError はフィード未検出エラーを生成する。
func NewFeedNotFoundError(feedURL string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  fmt.Sprintf("指定されたフィードが見つかりません: %s", feedURL),
		Category: "feed",
		Action:   "フィードURLを確認してください。",
	}
}

// NewSubscriptionNotFoundError は購読が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(feedURL string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("このフィードは購読していません: %s", feedURL),
		Category: "feed",
		Action:   "購読一覧から該当フィードを確認してください。",
	}
}

// NewEntryNotFoundError はエントリがフィードに属さない場合のエラーを生成する。
func NewEntryNotFoundError(entryID int64) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("指定されたエントリが見つかりません: %d", entryID),
		Category: "feed",
		Action:   "エントリIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", username),
		Category: "subscriber",
		Action:   "ユーザー名を確認してください。",
	}
}

// NewUserExistsError はユーザーが既に存在する場合のエラーを生成する。
func NewUserExistsError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUserExists,
		Message:  fmt.Sprintf("ユーザーは既に存在します: %s", username),
		Category: "subscriber",
		Action:   "別のユーザー名を指定してください。",
	}
}
