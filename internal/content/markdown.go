package content

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	newsMarkdown = goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Linkify,
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithUnsafe(),
		),
	)
	newsPolicy = newNewsPolicy()
)

func newNewsPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

// RenderNewsHTML converts news markdown into sanitized HTML. Raw HTML in the
// source is allowed through the parser and cleaned afterwards.
func RenderNewsHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := newsMarkdown.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return newsPolicy.Sanitize(buf.String()), nil
}
