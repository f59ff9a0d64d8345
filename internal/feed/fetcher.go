// Package feed はフィードの条件付き取得と、取得結果のエントリへの正規化を提供する。
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/hitoshi/feedpoller/internal/model"
)

// userAgent はフィード取得時に送るUser-Agent。
const userAgent = "feedpoller/1.0 (+https://github.com/hitoshi/feedpoller)"

// ClientProvider は取得に使うHTTPクライアントを提供する。
// 本番ではsecurity.SSRFGuardが内部アドレスへの接続を拒否するクライアントを返す。
type ClientProvider interface {
	Client(timeout time.Duration) *http.Client
	Check(rawURL string) error
}

// Sanitizer はエントリのテキストフィールドを無害化する。
type Sanitizer interface {
	HTML(rawHTML string) string
	Text(raw string) string
}

// Options はFetcherの上限値。
type Options struct {
	Timeout      time.Duration // HTTPタイムアウト
	MaxBodySize  int64         // レスポンスボディの上限バイト数
	MaxEntrySize int           // シリアライズ後のエントリの上限バイト数
}

// Fetcher はフィードを1回だけ条件付きGETで取得し、エントリに正規化する。
// 状態を持たないため、複数のフィードから同時に呼び出せる。
type Fetcher struct {
	clients   ClientProvider
	sanitizer Sanitizer
	logger    *slog.Logger
	opts      Options
}

// NewFetcher はFetcherを生成する。
func NewFetcher(clients ClientProvider, sanitizer Sanitizer, logger *slog.Logger, opts Options) *Fetcher {
	return &Fetcher{
		clients:   clients,
		sanitizer: sanitizer,
		logger:    logger,
		opts:      opts,
	}
}

// Fetch はキャッシュトークンを付けてフィードを取得する。
// 304の場合はNotModifiedを返し、トークンは返さない。
// 通信エラー、タイムアウト、200/304以外のステータス、パース失敗はすべて*model.FetchErrorになる。
func (f *Fetcher) Fetch(ctx context.Context, feedURL string, tokens model.CacheTokens) (*model.FetchResult, error) {
	if err := f.clients.Check(feedURL); err != nil {
		return nil, &model.FetchError{URL: feedURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &model.FetchError{URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml, */*")
	if tokens.ETag != "" {
		req.Header.Set("If-None-Match", tokens.ETag)
	}
	if tokens.LastModified != "" {
		req.Header.Set("If-Modified-Since", tokens.LastModified)
	}

	resp, err := f.clients.Client(f.opts.Timeout).Do(req)
	if err != nil {
		return nil, &model.FetchError{URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return &model.FetchResult{NotModified: true}, nil
	case http.StatusOK:
	default:
		return nil, &model.FetchError{
			URL:        feedURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("予期しないHTTPステータス: %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodySize+1))
	if err != nil {
		return nil, &model.FetchError{URL: feedURL, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > f.opts.MaxBodySize {
		return nil, &model.FetchError{
			URL:        feedURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("レスポンスが上限(%dバイト)を超えています", f.opts.MaxBodySize),
		}
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &model.FetchError{
			URL:        feedURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("フィードのパースに失敗しました: %w", err),
		}
	}

	return &model.FetchResult{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Entries:      f.toEntries(feedURL, parsed.Items),
	}, nil
}

// toEntries はgofeedの記事をサニタイズ済みのJSONペイロードに変換する。
// 上限サイズを超えるエントリは警告を出して捨てる。
func (f *Fetcher) toEntries(feedURL string, items []*gofeed.Item) []model.NewEntry {
	entries := make([]model.NewEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		content, err := json.Marshal(f.sanitize(item))
		if err != nil {
			f.logger.Warn("エントリのシリアライズに失敗しました",
				slog.String("feed_url", feedURL),
				slog.String("guid", item.GUID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if f.opts.MaxEntrySize > 0 && len(content) > f.opts.MaxEntrySize {
			f.logger.Warn("エントリが上限サイズを超えたため除外しました",
				slog.String("feed_url", feedURL),
				slog.String("guid", item.GUID),
				slog.Int("size", len(content)),
				slog.Int("max_size", f.opts.MaxEntrySize),
			)
			continue
		}

		entries = append(entries, model.NewEntry{
			Published: publishedUnix(item),
			Content:   string(content),
		})
	}
	return entries
}

// sanitize はHTMLを含みうるフィールドを無害化したコピーを返す。
func (f *Fetcher) sanitize(item *gofeed.Item) *gofeed.Item {
	clean := *item
	clean.Title = f.sanitizer.Text(item.Title)
	clean.Description = f.sanitizer.HTML(item.Description)
	clean.Content = f.sanitizer.HTML(item.Content)
	if item.Author != nil {
		clean.Author = f.person(item.Author)
	}
	clean.Authors = lo.Map(lo.Compact(item.Authors), func(p *gofeed.Person, _ int) *gofeed.Person {
		return f.person(p)
	})
	// 拡張要素は任意のHTMLを含みうるため保存しない
	clean.Extensions = nil
	clean.Custom = nil
	return &clean
}

func (f *Fetcher) person(p *gofeed.Person) *gofeed.Person {
	return &gofeed.Person{Name: f.sanitizer.Text(p.Name), Email: p.Email}
}

// publishedUnix はエントリの公開日時をエポック秒で返す。
// 公開日時がなければ更新日時、どちらもなければ0を使う。
func publishedUnix(item *gofeed.Item) int64 {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.Unix()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.Unix()
	default:
		return 0
	}
}
