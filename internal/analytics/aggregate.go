package analytics

import (
	"math"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
)

const (
	// AdminPathPrefix marks paths excluded from page rankings.
	AdminPathPrefix = "/admin"
	// StaticCategoryKey groups pages that are not articles.
	StaticCategoryKey = "static"
	// StaticCategoryLabel is the display name of the static page group.
	StaticCategoryLabel = "固定ページ"
	// AllCategories disables the article category filter.
	AllCategories = "all"

	// ArticlePageSize is the number of article rows per report page.
	ArticlePageSize = 20
	// TopPages bounds the page ranking.
	TopPages = 10
	// TopLinks bounds the link ranking.
	TopLinks = 10

	StaticColor        = "#9CA3AF"
	UncategorizedColor = "#6B7280"

	unknownArticleTitle = "不明な記事"
	articleLabelPrefix  = "記事: "
)

// Palette is assigned to real categories in first-seen order.
var Palette = []string{"#0088FE", "#00C49F", "#FFBB28", "#FF8042", "#8884d8", "#82ca9d", "#a4de6c", "#d0ed57"}

var (
	articlePathPattern = regexp.MustCompile(`^/article/(.+)$`)
	staticPageLabels   = map[string]string{
		"/":                 "TOPページ",
		"/privacy-policy":   "プライバシーポリシー",
		"/terms-of-service": "利用規約",
	}
)

// Snapshot is the raw event rows of one report, in fetch order.
type Snapshot struct {
	PageViews    []PageView
	ArticleViews []ArticleView
	LinkClicks   []LinkClick
}

// Catalog is the content the report resolves titles and categories against.
type Catalog struct {
	Articles   []content.Article
	Categories []content.Category
}

// Totals counts every event in the snapshot. Admin page views are excluded.
type Totals struct {
	PageViews    int `json:"page_views"`
	ArticleViews int `json:"article_views"`
	LinkClicks   int `json:"link_clicks"`
}

// PageStat is one row of the page ranking.
type PageStat struct {
	Path         string `json:"path"`
	DisplayName  string `json:"display_name"`
	Count        int    `json:"count"`
	CategoryKey  string `json:"category_key"`
	CategoryName string `json:"category_name"`
	Color        string `json:"color"`
}

// ArticleStat is one row of the article ranking.
type ArticleStat struct {
	ArticleID    string `json:"article_id"`
	Title        string `json:"title"`
	Count        int    `json:"count"`
	CategoryKey  string `json:"category_key"`
	CategoryName string `json:"category_name"`
	Color        string `json:"color"`
}

// LinkStat is one row of the link ranking.
type LinkStat struct {
	URL   string `json:"url"`
	Host  string `json:"host"`
	Count int    `json:"count"`
}

// CategoryOption is a selectable article filter.
type CategoryOption struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Report is the aggregated view of a snapshot.
type Report struct {
	Totals          Totals            `json:"totals"`
	Pages           []PageStat        `json:"pages"`
	Articles        []ArticleStat     `json:"articles"`
	Links           []LinkStat        `json:"links"`
	CategoryOptions []CategoryOption  `json:"category_options"`
	Colors          map[string]string `json:"colors"`
}

// ArticlePage is one filtered page of the article ranking.
type ArticlePage struct {
	Category   string        `json:"category"`
	Items      []ArticleStat `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// Aggregate groups raw rows into ranked summaries. It performs no I/O.
func Aggregate(snapshot Snapshot, catalog Catalog) Report {
	articles := make(map[string]content.Article, len(catalog.Articles))
	for _, article := range catalog.Articles {
		articles[article.ID] = article
	}
	categoryIndex := content.CategoryIndex(catalog.Categories)
	colors := AssignColors(catalog.Categories)

	report := Report{
		Totals: Totals{
			ArticleViews: len(snapshot.ArticleViews),
			LinkClicks:   len(snapshot.LinkClicks),
		},
		Pages:           []PageStat{},
		Articles:        []ArticleStat{},
		Links:           []LinkStat{},
		CategoryOptions: []CategoryOption{},
		Colors:          colors,
	}

	paths := make([]string, 0, len(snapshot.PageViews))
	for _, view := range snapshot.PageViews {
		if strings.HasPrefix(view.Path, AdminPathPrefix) {
			continue
		}
		path := view.Path
		if path == "" {
			path = "/"
		}
		paths = append(paths, path)
	}
	report.Totals.PageViews = len(paths)
	for _, ranked := range limit(rank(paths), TopPages) {
		report.Pages = append(report.Pages, pageStat(ranked.key, ranked.count, articles, categoryIndex, colors))
	}

	articleIDs := make([]string, 0, len(snapshot.ArticleViews))
	for _, view := range snapshot.ArticleViews {
		if view.ArticleID != "" {
			articleIDs = append(articleIDs, view.ArticleID)
		}
	}
	seenOptions := map[string]string{}
	for _, ranked := range rank(articleIDs) {
		stat := ArticleStat{ArticleID: ranked.key, Count: ranked.count, Title: unknownArticleTitle}
		ref := content.Uncategorized()
		if article, ok := articles[ranked.key]; ok {
			stat.Title = article.Title
			ref = content.AttributeCategory(article, categoryIndex)
		}
		stat.CategoryKey, stat.CategoryName = ref.Key, ref.Name
		stat.Color = colorFor(ref.Key, colors)
		report.Articles = append(report.Articles, stat)
		seenOptions[ref.Key] = ref.Name
	}
	report.CategoryOptions = sortedOptions(seenOptions)

	links := make([]string, 0, len(snapshot.LinkClicks))
	for _, click := range snapshot.LinkClicks {
		links = append(links, click.LinkURL)
	}
	for _, ranked := range limit(rank(links), TopLinks) {
		report.Links = append(report.Links, LinkStat{URL: ranked.key, Host: displayHost(ranked.key), Count: ranked.count})
	}

	return report
}

// ArticlesPage filters the article ranking by category key and returns one
// page. The page number is clamped to the available range.
func (r Report) ArticlesPage(category string, page int) ArticlePage {
	category = strings.TrimSpace(category)
	if category == "" {
		category = AllCategories
	}
	filtered := make([]ArticleStat, 0, len(r.Articles))
	for _, stat := range r.Articles {
		if category == AllCategories || stat.CategoryKey == category {
			filtered = append(filtered, stat)
		}
	}

	totalPages := int(math.Ceil(float64(len(filtered)) / float64(ArticlePageSize)))
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * ArticlePageSize
	end := min(start+ArticlePageSize, len(filtered))

	return ArticlePage{
		Category:   category,
		Items:      filtered[start:end],
		Total:      len(filtered),
		Page:       page,
		PageSize:   ArticlePageSize,
		TotalPages: totalPages,
	}
}

// AssignColors maps each category id to a palette color in list order and
// adds the reserved static and uncategorized colors.
func AssignColors(categories []content.Category) map[string]string {
	colors := make(map[string]string, len(categories)+2)
	next := 0
	for _, category := range categories {
		if _, seen := colors[category.ID]; seen {
			continue
		}
		if category.ID == StaticCategoryKey || category.ID == content.UncategorizedKey {
			continue
		}
		colors[category.ID] = Palette[next%len(Palette)]
		next++
	}
	colors[StaticCategoryKey] = StaticColor
	colors[content.UncategorizedKey] = UncategorizedColor
	return colors
}

func pageStat(path string, count int, articles map[string]content.Article, categories map[string]content.Category, colors map[string]string) PageStat {
	stat := PageStat{Path: path, Count: count, DisplayName: path, CategoryKey: StaticCategoryKey, CategoryName: StaticCategoryLabel}
	if label, ok := staticPageLabels[path]; ok {
		stat.DisplayName = label
	} else if match := articlePathPattern.FindStringSubmatch(path); match != nil {
		articleID := match[1]
		if decoded, err := url.PathUnescape(articleID); err == nil {
			articleID = decoded
		}
		ref := content.Uncategorized()
		stat.DisplayName = articleLabelPrefix + articleID
		if article, ok := articles[articleID]; ok {
			stat.DisplayName = article.Title
			ref = content.AttributeCategory(article, categories)
		}
		stat.CategoryKey, stat.CategoryName = ref.Key, ref.Name
	}
	stat.Color = colorFor(stat.CategoryKey, colors)
	return stat
}

func colorFor(key string, colors map[string]string) string {
	if color, ok := colors[key]; ok {
		return color
	}
	return UncategorizedColor
}

func displayHost(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return raw
	}
	return parsed.Hostname()
}

func sortedOptions(options map[string]string) []CategoryOption {
	sorted := make([]CategoryOption, 0, len(options))
	for key, label := range options {
		sorted = append(sorted, CategoryOption{Key: key, Label: label})
	}
	collator := collate.New(language.Japanese)
	slices.SortFunc(sorted, func(a, b CategoryOption) int {
		if order := collator.CompareString(a.Label, b.Label); order != 0 {
			return order
		}
		return strings.Compare(a.Key, b.Key)
	})
	return sorted
}

type counted struct {
	key   string
	count int
}

// rank counts keys and orders them by count descending, ties by first appearance.
func rank(keys []string) []counted {
	positions := make(map[string]int, len(keys))
	ranked := make([]counted, 0)
	for _, key := range keys {
		position, ok := positions[key]
		if !ok {
			positions[key] = len(ranked)
			ranked = append(ranked, counted{key: key, count: 1})
			continue
		}
		ranked[position].count++
	}
	slices.SortStableFunc(ranked, func(a, b counted) int {
		return b.count - a.count
	})
	return ranked
}

func limit(ranked []counted, size int) []counted {
	if len(ranked) > size {
		return ranked[:size]
	}
	return ranked
}
