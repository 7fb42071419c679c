package analytics

import "time"

// Event kinds used in metrics labels and logs.
const (
	KindPageView    = "page_view"
	KindArticleView = "article_view"
	KindLinkClick   = "link_click"
)

// PageView records one visit to a public path.
type PageView struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	Path      string    `gorm:"column:path;size:2048;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

// TableName exposes the table backing page views.
func (PageView) TableName() string {
	return "page_views"
}

// ArticleView records one article being opened.
type ArticleView struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	ArticleID string    `gorm:"column:article_id;size:64;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

// TableName exposes the table backing article views.
func (ArticleView) TableName() string {
	return "article_views"
}

// LinkClick records one click on a link inside rendered content.
type LinkClick struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	LinkURL   string    `gorm:"column:link_url;size:2048;not null;index"`
	BlockID   *string   `gorm:"column:block_id;size:190"`
	ArticleID *string   `gorm:"column:article_id;size:64;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

// TableName exposes the table backing link clicks.
func (LinkClick) TableName() string {
	return "link_clicks"
}

// Models lists every table owned by this package for schema migration.
func Models() []any {
	return []any{&PageView{}, &ArticleView{}, &LinkClick{}}
}
