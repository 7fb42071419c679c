package blocks

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultRendererPlaceholder = defaultPlaceholder
	linkTarget                 = ` target="_blank" rel="noopener noreferrer"`
)

var (
	bareURLPattern  = regexp.MustCompile(`https?://[^\s]+`)
	cssValuePattern = regexp.MustCompile(`^[#a-zA-Z0-9.,%() -]+$`)
)

// Renderer turns documents into display markup.
type Renderer struct {
	// TrackingPath is the click redirect endpoint. Links point at it with the
	// target URL, block id and article id as query parameters. Empty means links
	// point directly at their target.
	TrackingPath string
	// Placeholder is the icon used for dialogue speakers without one.
	Placeholder string
	// Links signs tracking hrefs. Nil leaves them unsigned.
	Links LinkSigner
}

// LinkSigner authenticates the target of a tracking href.
type LinkSigner interface {
	Sign(target string) string
}

// Render produces HTML for the document in display order. Blocks with an
// unknown type produce no output.
func (r Renderer) Render(document []Block, articleID string) string {
	var builder strings.Builder
	builder.WriteString(`<div class="prose">`)
	for _, block := range Sorted(document) {
		r.renderBlock(&builder, block, articleID)
	}
	builder.WriteString(`</div>`)
	return builder.String()
}

func (r Renderer) renderBlock(out *strings.Builder, block Block, articleID string) {
	switch content := block.Content.(type) {
	case Paragraph:
		style := textStyleCSS(content.TextStyle)
		style = appendCSS(style, "background-color", content.BackgroundColor)
		out.WriteString(`<p class="block-paragraph"` + styleAttr(style) + `>`)
		out.WriteString(r.linkify(content.Text, block.ID, articleID))
		out.WriteString(`</p>`)
	case Heading:
		r.renderHeading(out, block.ID, content, articleID)
	case Image:
		r.renderImage(out, block.ID, content, articleID)
	case Video:
		renderVideo(out, content)
	case List:
		tag := "ul"
		if content.Style == ListNumbered {
			tag = "ol"
		}
		out.WriteString(`<` + tag + ` class="block-list">`)
		for _, item := range content.Items {
			out.WriteString(`<li>` + html.EscapeString(item) + `</li>`)
		}
		out.WriteString(`</` + tag + `>`)
	case Quote:
		background := safeCSSValue(content.BackgroundColor)
		if background == "" {
			background = defaultQuoteColor
		}
		out.WriteString(`<blockquote class="block-quote" style="background-color:` + background + `">`)
		out.WriteString(`<p>` + html.EscapeString(content.Text) + `</p>`)
		if content.Author != "" {
			out.WriteString(`<cite>— ` + html.EscapeString(content.Author) + `</cite>`)
		}
		out.WriteString(`</blockquote>`)
	case Code:
		out.WriteString(`<div class="block-code">`)
		out.WriteString(`<div class="block-code-language">` + html.EscapeString(content.Language) + `</div>`)
		out.WriteString(`<pre><code>` + html.EscapeString(content.Code) + `</code></pre>`)
		out.WriteString(`</div>`)
	case Separator:
		out.WriteString(`<hr class="block-separator">`)
	case Note:
		out.WriteString(`<div class="note-box"><p` + styleAttr(textStyleCSS(content.TextStyle)) + `>`)
		out.WriteString(r.linkify(content.Text, block.ID, articleID))
		out.WriteString(`</p></div>`)
	case Dialogue:
		r.renderDialogue(out, block.ID, content, articleID)
	case UnknownContent:
	}
}

func (r Renderer) renderHeading(out *strings.Builder, blockID string, content Heading, articleID string) {
	level := strconv.Itoa(content.NormalizedLevel())
	design := strconv.Itoa(content.NormalizedDesignStyle())
	var vars []string
	vars = appendCSS(vars, "--heading-color-1", content.Color1)
	vars = appendCSS(vars, "--heading-color-2", content.Color2)
	vars = appendCSS(vars, "--heading-color-3", content.Color3)
	out.WriteString(`<div class="heading-style-` + design + `"` + styleAttr(vars) + `>`)
	out.WriteString(`<h` + level + styleAttr(textStyleCSS(content.TextStyle)) + `>`)
	out.WriteString(r.linkify(content.Text, blockID, articleID))
	out.WriteString(`</h` + level + `></div>`)
}

func (r Renderer) renderImage(out *strings.Builder, blockID string, content Image, articleID string) {
	source := safeURL(content.URL)
	if source == "" {
		return
	}
	classes := []string{"block-image", "size-" + string(content.Size.Normalize()), "align-" + string(content.Alignment.Normalize())}
	if content.Rounded {
		classes = append(classes, "rounded")
	}
	if content.HoverEffect && content.LinkURL != "" {
		classes = append(classes, "hover-effect")
	}
	out.WriteString(`<figure class="` + strings.Join(classes, " ") + `">`)
	img := `<img src="` + html.EscapeString(source) + `" alt="` + html.EscapeString(content.Alt) + `">`
	if target := safeURL(content.LinkURL); target != "" {
		out.WriteString(`<a href="` + html.EscapeString(r.trackingHref(target, blockID, articleID)) + `"` + linkTarget + `>`)
		out.WriteString(img)
		out.WriteString(`</a>`)
	} else {
		out.WriteString(img)
	}
	if content.Caption != "" {
		out.WriteString(`<figcaption>` + html.EscapeString(content.Caption) + `</figcaption>`)
	}
	out.WriteString(`</figure>`)
}

func renderVideo(out *strings.Builder, content Video) {
	source := safeURL(NormalizeVideoURL(strings.TrimSpace(content.URL)))
	if source == "" {
		return
	}
	border := safeCSSValue(content.BorderColor)
	if border == "" {
		border = defaultVideoBorder
	}
	out.WriteString(`<div class="block-video size-` + string(content.Size.Normalize()) + ` align-` + string(content.Alignment.Normalize()) + `">`)
	out.WriteString(`<div class="aspect-video"><iframe src="` + html.EscapeString(source) + `" style="border:3px solid ` + border + `" allowfullscreen></iframe></div>`)
	if content.Caption != "" {
		out.WriteString(`<p class="block-caption">` + html.EscapeString(content.Caption) + `</p>`)
	}
	out.WriteString(`</div>`)
}

func (r Renderer) renderDialogue(out *strings.Builder, blockID string, content Dialogue, articleID string) {
	bubble := safeCSSValue(content.BubbleBackgroundColor)
	if bubble == "" {
		bubble = defaultBubbleColor
	}
	out.WriteString(`<div class="block-dialogue">`)
	for _, item := range content.Items {
		side := SideLeft
		icon, name := content.LeftIcon, content.LeftName
		if item.Alignment == SideRight {
			side = SideRight
			icon, name = content.RightIcon, content.RightName
		}
		if safeURL(icon) == "" {
			icon = r.placeholder()
		}
		out.WriteString(`<div class="dialogue-row dialogue-` + string(side) + `">`)
		out.WriteString(`<div class="dialogue-speaker"><img src="` + html.EscapeString(icon) + `" alt="icon">`)
		if name != "" {
			out.WriteString(`<span>` + html.EscapeString(name) + `</span>`)
		}
		out.WriteString(`</div>`)
		out.WriteString(`<div class="dialogue-bubble" style="background-color:` + bubble + `"><p>`)
		out.WriteString(r.linkify(item.Text, blockID, articleID))
		out.WriteString(`</p></div></div>`)
	}
	out.WriteString(`</div>`)
}

func (r Renderer) placeholder() string {
	if r.Placeholder != "" {
		return r.Placeholder
	}
	return defaultRendererPlaceholder
}

// linkify escapes text and turns bare http(s) URLs into tracked links.
func (r Renderer) linkify(text, blockID, articleID string) string {
	matches := bareURLPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return html.EscapeString(text)
	}
	var builder strings.Builder
	cursor := 0
	for _, match := range matches {
		builder.WriteString(html.EscapeString(text[cursor:match[0]]))
		target := text[match[0]:match[1]]
		builder.WriteString(`<a href="` + html.EscapeString(r.trackingHref(target, blockID, articleID)) + `"` + linkTarget + `>`)
		builder.WriteString(html.EscapeString(target))
		builder.WriteString(`</a>`)
		cursor = match[1]
	}
	builder.WriteString(html.EscapeString(text[cursor:]))
	return builder.String()
}

// trackingHref builds the redirect link that records a click before opening target.
func (r Renderer) trackingHref(target, blockID, articleID string) string {
	if r.TrackingPath == "" {
		return target
	}
	query := url.Values{}
	query.Set("url", target)
	if blockID != "" {
		query.Set("block_id", blockID)
	}
	if articleID != "" {
		query.Set("article_id", articleID)
	}
	if r.Links != nil {
		query.Set("sig", r.Links.Sign(target))
	}
	return r.TrackingPath + "?" + query.Encode()
}

func textStyleCSS(style TextStyle) []string {
	declarations := make([]string, 0, 6)
	declarations = appendCSS(declarations, "font-size", style.FontSize)
	declarations = appendCSS(declarations, "color", style.Color)
	if style.Bold {
		declarations = append(declarations, "font-weight:bold")
	}
	if style.Italic {
		declarations = append(declarations, "font-style:italic")
	}
	if style.Underline {
		declarations = append(declarations, "text-decoration:underline")
	}
	declarations = append(declarations, "text-align:"+string(style.Alignment.Normalize()))
	return declarations
}

func appendCSS(declarations []string, property, value string) []string {
	if cleaned := safeCSSValue(value); cleaned != "" {
		return append(declarations, property+":"+cleaned)
	}
	return declarations
}

func styleAttr(declarations []string) string {
	if len(declarations) == 0 {
		return ""
	}
	return ` style="` + html.EscapeString(strings.Join(declarations, ";")) + `"`
}

// safeCSSValue accepts colors, lengths and simple functional notation only.
func safeCSSValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || !cssValuePattern.MatchString(trimmed) {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "url(") || strings.Contains(lower, "expression(") {
		return ""
	}
	return trimmed
}

// safeURL allows absolute http(s) and site-relative URLs.
func safeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		return trimmed
	case strings.HasPrefix(trimmed, "/") && !strings.HasPrefix(trimmed, "//"):
		return trimmed
	default:
		return ""
	}
}
