package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はエントリのテキストフィールドを保存前に無害化する。
// フィードはHTMLを含む任意の文字列を返すため、保存するペイロードは必ずここを通す。
type Sanitizer interface {
	// HTML は本文や要約のHTMLから許可タグ以外を除去する。
	HTML(rawHTML string) string

	// Text はタイトルや著者名からすべてのタグを除去し、前後の空白を取り除く。
	Text(raw string) string
}

// ContentSanitizer はbluemondayを使用したSanitizerの実装。
// ポリシーは生成後に変更しないため、複数のゴルーチンから安全に使える。
type ContentSanitizer struct {
	html *bluemonday.Policy
	text *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img, h1-h6
//   - aタグ: 絶対URLのみ、target="_blank"とrel="noopener noreferrer"を付与
//   - URL属性: http/httpsのみ（javascript:やdata:は除去）
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
		"h1", "h2", "h3", "h4", "h5", "h6",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemes("http", "https")

	return &ContentSanitizer{
		html: p,
		text: bluemonday.StrictPolicy(),
	}
}

// HTML は本文や要約のHTMLを無害化する。
func (s *ContentSanitizer) HTML(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.html.Sanitize(rawHTML)
}

// Text はすべてのタグを除去する。
func (s *ContentSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.text.Sanitize(raw))
}

// compile-time interface check
var _ Sanitizer = (*ContentSanitizer)(nil)
