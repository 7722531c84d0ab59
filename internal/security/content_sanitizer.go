package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はユーザー入力とLLM応答のサニタイズ機能を定義する。
type ContentSanitizerService interface {
	// Sanitize は説明文など書式付きテキストをサニタイズする。
	// p, br, ul, ol, li, strong, em, a(href) のみ通過させる。
	Sanitize(rawHTML string) string

	// PlainText は全てのタグを除去したプレーンテキストを返す。
	// 名前や引用文、チャット応答に使用する。HTMLエンティティは元の文字に戻す。
	PlainText(raw string) string
}

// ContentSanitizer はbluemondayのポリシーを保持する。ポリシーは並行利用に対して安全。
type ContentSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() *ContentSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("https")
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &ContentSanitizer{
		rich:   rich,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize は書式付きテキストをサニタイズする。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.rich.Sanitize(rawHTML))
}

// PlainText はタグを除去したテキストを返す。
func (s *ContentSanitizer) PlainText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

var _ ContentSanitizerService = (*ContentSanitizer)(nil)
