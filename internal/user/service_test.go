package user

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/feedpoller/internal/model"
)

// --- モック ---

type mockSubscriberRepo struct {
	createFn         func(ctx context.Context, username string) (*model.Subscriber, error)
	findByUsernameFn func(ctx context.Context, username string) (*model.Subscriber, error)
}

func (m *mockSubscriberRepo) Create(ctx context.Context, username string) (*model.Subscriber, error) {
	if m.createFn != nil {
		return m.createFn(ctx, username)
	}
	return &model.Subscriber{ID: 1, Username: username}, nil
}

func (m *mockSubscriberRepo) FindByUsername(ctx context.Context, username string) (*model.Subscriber, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, model.ErrSubscriberNotFound
}

func newTestService(repo *mockSubscriberRepo, buf *bytes.Buffer) *Service {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return NewService(repo, logger)
}

// --- テスト ---

func TestService_AddSubscriber_Success(t *testing.T) {
	var buf bytes.Buffer
	var created string
	repo := &mockSubscriberRepo{
		createFn: func(_ context.Context, username string) (*model.Subscriber, error) {
			created = username
			return &model.Subscriber{ID: 7, Username: username}, nil
		},
	}
	svc := newTestService(repo, &buf)

	sub, err := svc.AddSubscriber(context.Background(), "  alice ")
	if err != nil {
		t.Fatalf("AddSubscriber でエラーが発生: %v", err)
	}
	if created != "alice" {
		t.Errorf("前後の空白を除いて登録するべき: %q", created)
	}
	if sub.ID != 7 {
		t.Errorf("ID = %d, want 7", sub.ID)
	}
	if !strings.Contains(buf.String(), `"subscriber_id":7`) {
		t.Error("登録ログに subscriber_id が含まれていない")
	}
}

func TestService_AddSubscriber_Duplicate(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockSubscriberRepo{
		createFn: func(context.Context, string) (*model.Subscriber, error) {
			return nil, model.ErrSubscriberExists
		},
	}
	svc := newTestService(repo, &buf)

	_, err := svc.AddSubscriber(context.Background(), "alice")
	if !errors.Is(err, model.ErrSubscriberExists) {
		t.Errorf("ErrSubscriberExists が返されるべき: %v", err)
	}
}

func TestService_AddSubscriber_InvalidUsername(t *testing.T) {
	var buf bytes.Buffer
	called := false
	repo := &mockSubscriberRepo{
		createFn: func(context.Context, string) (*model.Subscriber, error) {
			called = true
			return nil, nil
		},
	}
	svc := newTestService(repo, &buf)

	for _, name := range []string{"", "   ", strings.Repeat("a", 256)} {
		_, err := svc.AddSubscriber(context.Background(), name)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidParameter {
			t.Errorf("%q: INVALID_PARAMETER が返されるべき: %v", name, err)
		}
	}
	if called {
		t.Error("不正なユーザー名でリポジトリが呼ばれた")
	}
}

func TestService_Resolve(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockSubscriberRepo{
		findByUsernameFn: func(_ context.Context, username string) (*model.Subscriber, error) {
			if username == "alice" {
				return &model.Subscriber{ID: 3, Username: "alice"}, nil
			}
			return nil, model.ErrSubscriberNotFound
		},
	}
	svc := newTestService(repo, &buf)

	sub, err := svc.Resolve(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Resolve でエラーが発生: %v", err)
	}
	if sub.ID != 3 {
		t.Errorf("ID = %d, want 3", sub.ID)
	}

	if _, err := svc.Resolve(context.Background(), "bob"); !errors.Is(err, model.ErrSubscriberNotFound) {
		t.Errorf("ErrSubscriberNotFound が返されるべき: %v", err)
	}
}
