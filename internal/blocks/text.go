package blocks

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var stripTagsPolicy = bluemonday.StripTagsPolicy()

// PlainText projects a document onto its readable text, one block per line.
// Markup pasted into text fields is stripped.
func PlainText(document []Block) string {
	lines := make([]string, 0, len(document))
	for _, block := range Sorted(document) {
		for _, fragment := range textFragments(block.Content) {
			cleaned := strings.TrimSpace(html.UnescapeString(stripTagsPolicy.Sanitize(fragment)))
			if cleaned != "" {
				lines = append(lines, cleaned)
			}
		}
	}
	return strings.Join(lines, "\n")
}

// Excerpt returns the first limit runes of the document text on a single line.
func Excerpt(document []Block, limit int) string {
	text := strings.Join(strings.Fields(PlainText(document)), " ")
	return truncateRunes(text, limit, "…")
}

func textFragments(content Content) []string {
	switch value := content.(type) {
	case Paragraph:
		return []string{value.Text}
	case Heading:
		return []string{value.Text}
	case Note:
		return []string{value.Text}
	case Quote:
		return []string{value.Text, value.Author}
	case List:
		return value.Items
	case Image:
		return []string{value.Caption}
	case Video:
		return []string{value.Caption}
	case Dialogue:
		fragments := make([]string, 0, len(value.Items))
		for _, item := range value.Items {
			fragments = append(fragments, item.Text)
		}
		return fragments
	case Code, Separator, UnknownContent:
		return nil
	default:
		return nil
	}
}

func truncateRunes(text string, limit int, suffix string) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + suffix
}
