package feed

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/hitoshi/feedpoller/internal/model"
)

// defaultPorts はスキームごとの既定ポート。URL正規化時に除去する。
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// NormalizeURL はフィードURLを正規化する。同じフィードを指すURLは同じ文字列になる。
//   - スキームとホストを小文字化
//   - 既定ポートとフラグメントを除去
//   - 空のパスは"/"にする
//
// http/https以外のスキームやホストのないURLはmodel.ErrInvalidFeedURLを返す。
func NormalizeURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("%w: 空のURL", model.ErrInvalidFeedURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidFeedURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[u.Scheme]; !ok {
		return "", fmt.Errorf("%w: 許可されていないスキーム %q", model.ErrInvalidFeedURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: ホストがありません", model.ErrInvalidFeedURL)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == defaultPorts[u.Scheme] {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}
