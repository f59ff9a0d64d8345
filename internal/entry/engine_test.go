package entry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hitoshi/feedpoller/internal/model"
)

// --- モック定義 ---

type mockFeedRegistry struct {
	cacheTokensFunc  func(ctx context.Context, feedID int64) (model.CacheTokens, error)
	applySuccessFunc func(ctx context.Context, feedID int64, etag, lastModified string) error
}

func (m *mockFeedRegistry) ResolveOrCreate(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

func (m *mockFeedRegistry) FindByURL(context.Context, string) (*model.Feed, error) {
	return nil, model.ErrFeedNotFound
}

func (m *mockFeedRegistry) CacheTokens(ctx context.Context, feedID int64) (model.CacheTokens, error) {
	if m.cacheTokensFunc != nil {
		return m.cacheTokensFunc(ctx, feedID)
	}
	return model.CacheTokens{FeedURL: "https://example.com/rss"}, nil
}

func (m *mockFeedRegistry) ApplySuccess(ctx context.Context, feedID int64, etag, lastModified string) error {
	if m.applySuccessFunc != nil {
		return m.applySuccessFunc(ctx, feedID, etag, lastModified)
	}
	return nil
}

func (m *mockFeedRegistry) MarkFailed(context.Context, int64) error { return nil }

func (m *mockFeedRegistry) RequestForceUpdate(context.Context, int64) (bool, error) {
	return false, nil
}

func (m *mockFeedRegistry) ListPollable(context.Context) ([]*model.Feed, error) { return nil, nil }

type mockEntryStore struct {
	appendFunc func(ctx context.Context, feedID int64, entries []model.NewEntry) (int, error)
}

func (m *mockEntryStore) Append(ctx context.Context, feedID int64, entries []model.NewEntry) (int, error) {
	if m.appendFunc != nil {
		return m.appendFunc(ctx, feedID, entries)
	}
	return len(entries), nil
}

func (m *mockEntryStore) ListSince(context.Context, int64, int64) ([]model.Entry, error) {
	return nil, nil
}

type mockFetcher struct {
	fetchFunc func(ctx context.Context, feedURL string, tokens model.CacheTokens) (*model.FetchResult, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, feedURL string, tokens model.CacheTokens) (*model.FetchResult, error) {
	return m.fetchFunc(ctx, feedURL, tokens)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// --- テスト ---

func TestEngine_Ingest_Updated(t *testing.T) {
	var gotTokens model.CacheTokens
	var appended []model.NewEntry
	var appliedETag, appliedModified string

	feeds := &mockFeedRegistry{
		cacheTokensFunc: func(_ context.Context, _ int64) (model.CacheTokens, error) {
			return model.CacheTokens{FeedURL: "https://example.com/rss", ETag: `"old"`}, nil
		},
		applySuccessFunc: func(_ context.Context, _ int64, etag, lastModified string) error {
			appliedETag, appliedModified = etag, lastModified
			return nil
		},
	}
	entries := &mockEntryStore{
		appendFunc: func(_ context.Context, _ int64, e []model.NewEntry) (int, error) {
			appended = e
			return 1, nil
		},
	}
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, url string, tokens model.CacheTokens) (*model.FetchResult, error) {
			gotTokens = tokens
			return &model.FetchResult{
				ETag:    `"new"`,
				Entries: []model.NewEntry{{Published: 100, Content: "a"}, {Published: 90, Content: "b"}},
			}, nil
		},
	}

	var buf bytes.Buffer
	outcome := NewEngine(feeds, entries, fetcher, newTestLogger(&buf)).Ingest(context.Background(), 1)

	if outcome.Kind != Updated {
		t.Fatalf("Kind = %v, want updated (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.Count != 1 {
		t.Errorf("Count = %d, want 1", outcome.Count)
	}
	if gotTokens.ETag != `"old"` {
		t.Errorf("フェッチに保存済みトークンが渡されていない: %+v", gotTokens)
	}
	if len(appended) != 2 {
		t.Errorf("追加されたエントリ数 = %d, want 2", len(appended))
	}
	if appliedETag != `"new"` || appliedModified != "" {
		t.Errorf("ApplySuccess(%q, %q), want (\"new\", \"\")", appliedETag, appliedModified)
	}
}

// 304の場合はストアを変更しないことを検証
func TestEngine_Ingest_Unchanged(t *testing.T) {
	feeds := &mockFeedRegistry{
		applySuccessFunc: func(context.Context, int64, string, string) error {
			t.Error("304でApplySuccessを呼ぶべきでない")
			return nil
		},
	}
	entries := &mockEntryStore{
		appendFunc: func(context.Context, int64, []model.NewEntry) (int, error) {
			t.Error("304でAppendを呼ぶべきでない")
			return 0, nil
		},
	}
	fetcher := &mockFetcher{
		fetchFunc: func(context.Context, string, model.CacheTokens) (*model.FetchResult, error) {
			return &model.FetchResult{NotModified: true}, nil
		},
	}

	var buf bytes.Buffer
	outcome := NewEngine(feeds, entries, fetcher, newTestLogger(&buf)).Ingest(context.Background(), 1)
	if outcome.Kind != Unchanged {
		t.Errorf("Kind = %v, want unchanged", outcome.Kind)
	}
}

func TestEngine_Ingest_GoneWhenFeedMissing(t *testing.T) {
	feeds := &mockFeedRegistry{
		cacheTokensFunc: func(context.Context, int64) (model.CacheTokens, error) {
			return model.CacheTokens{}, model.ErrFeedNotFound
		},
	}
	fetcher := &mockFetcher{
		fetchFunc: func(context.Context, string, model.CacheTokens) (*model.FetchResult, error) {
			t.Error("購読者のいないフィードをフェッチすべきでない")
			return nil, nil
		},
	}

	var buf bytes.Buffer
	outcome := NewEngine(feeds, &mockEntryStore{}, fetcher, newTestLogger(&buf)).Ingest(context.Background(), 1)
	if outcome.Kind != Gone {
		t.Errorf("Kind = %v, want gone", outcome.Kind)
	}
	if outcome.Err != nil {
		t.Errorf("GoneはエラーではないがErr = %v", outcome.Err)
	}
}

// フェッチ失敗時はストアを一切変更しないことを検証
func TestEngine_Ingest_FetchFailed(t *testing.T) {
	feeds := &mockFeedRegistry{
		applySuccessFunc: func(context.Context, int64, string, string) error {
			t.Error("フェッチ失敗でApplySuccessを呼ぶべきでない")
			return nil
		},
	}
	entries := &mockEntryStore{
		appendFunc: func(context.Context, int64, []model.NewEntry) (int, error) {
			t.Error("フェッチ失敗でAppendを呼ぶべきでない")
			return 0, nil
		},
	}
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, url string, _ model.CacheTokens) (*model.FetchResult, error) {
			return nil, &model.FetchError{URL: url, StatusCode: 500, Err: errors.New("boom")}
		},
	}

	var buf bytes.Buffer
	outcome := NewEngine(feeds, entries, fetcher, newTestLogger(&buf)).Ingest(context.Background(), 1)
	if outcome.Kind != Failed {
		t.Fatalf("Kind = %v, want failed", outcome.Kind)
	}
	if !errors.Is(outcome.Err, model.ErrFetchFailed) {
		t.Errorf("Err = %v, want ErrFetchFailed", outcome.Err)
	}
}

// エントリ保存に失敗した場合はトークンを更新しないことを検証
func TestEngine_Ingest_AppendFailedKeepsTokens(t *testing.T) {
	feeds := &mockFeedRegistry{
		applySuccessFunc: func(context.Context, int64, string, string) error {
			t.Error("保存失敗時にトークンを更新すべきでない")
			return nil
		},
	}
	entries := &mockEntryStore{
		appendFunc: func(context.Context, int64, []model.NewEntry) (int, error) {
			return 0, errors.New("db down")
		},
	}
	fetcher := &mockFetcher{
		fetchFunc: func(context.Context, string, model.CacheTokens) (*model.FetchResult, error) {
			return &model.FetchResult{ETag: `"x"`, Entries: []model.NewEntry{{Published: 1, Content: "a"}}}, nil
		},
	}

	var buf bytes.Buffer
	outcome := NewEngine(feeds, entries, fetcher, newTestLogger(&buf)).Ingest(context.Background(), 1)
	if outcome.Kind != Failed {
		t.Errorf("Kind = %v, want failed", outcome.Kind)
	}
}

func TestEngine_Ingest_RegistryErrorIsFailure(t *testing.T) {
	feeds := &mockFeedRegistry{
		cacheTokensFunc: func(context.Context, int64) (model.CacheTokens, error) {
			return model.CacheTokens{}, errors.New("connection refused")
		},
	}

	var buf bytes.Buffer
	outcome := NewEngine(feeds, &mockEntryStore{}, &mockFetcher{}, newTestLogger(&buf)).Ingest(context.Background(), 1)
	if outcome.Kind != Failed {
		t.Errorf("Kind = %v, want failed", outcome.Kind)
	}
}

func TestOutcomeKind_String(t *testing.T) {
	tests := map[OutcomeKind]string{
		Updated:        "updated",
		Unchanged:      "unchanged",
		Gone:           "gone",
		Failed:         "failed",
		OutcomeKind(9): "unknown",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(kind), got, want)
		}
	}
}
