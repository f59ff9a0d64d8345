// Package user は購読者の登録と解決を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/feedpoller/internal/model"
	"github.com/hitoshi/feedpoller/internal/repository"
)

// maxUsernameLength はユーザー名の最大文字数。
const maxUsernameLength = 255

// Service は購読者管理のサービス層。
type Service struct {
	subscribers repository.SubscriberRepository
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(subscribers repository.SubscriberRepository, logger *slog.Logger) *Service {
	return &Service{
		subscribers: subscribers,
		logger:      logger,
	}
}

// AddSubscriber は購読者を登録する。
// 同名の購読者が存在する場合はmodel.ErrSubscriberExistsを返す。
func (s *Service) AddSubscriber(ctx context.Context, username string) (*model.Subscriber, error) {
	name, err := validateUsername(username)
	if err != nil {
		return nil, err
	}

	sub, err := s.subscribers.Create(ctx, name)
	if err != nil {
		return nil, err
	}

	s.logger.Info("購読者を登録しました",
		slog.Int64("subscriber_id", sub.ID),
		slog.String("username", sub.Username),
	)
	return sub, nil
}

// Resolve はユーザー名から購読者を返す。
// 見つからない場合はmodel.ErrSubscriberNotFoundを返す。
func (s *Service) Resolve(ctx context.Context, username string) (*model.Subscriber, error) {
	name, err := validateUsername(username)
	if err != nil {
		return nil, err
	}

	sub, err := s.subscribers.FindByUsername(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("購読者の取得に失敗しました: %w", err)
	}
	return sub, nil
}

func validateUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" || utf8.RuneCountInString(name) > maxUsernameLength {
		return "", model.NewInvalidParameterError("username")
	}
	return name, nil
}
