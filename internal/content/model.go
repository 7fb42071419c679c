package content

import "time"

const (
	// UncategorizedKey identifies articles without a category in listings and analytics.
	UncategorizedKey = "uncategorized"
	// UncategorizedLabel is the display name of the uncategorized sentinel.
	UncategorizedLabel = "カテゴリ未設定"

	// SettingPrivacyPolicy stores the privacy policy document.
	SettingPrivacyPolicy = "privacy_policy"
	// SettingTermsOfService stores the terms of service document.
	SettingTermsOfService = "terms_of_service"

	defaultAuthor = "管理者"
)

// Article is a help-center manual page. Content holds the encoded block document
// or, for rows written before the block editor, plain text.
type Article struct {
	ID           string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Title        string    `gorm:"column:title;size:500;not null" json:"title"`
	Excerpt      string    `gorm:"column:excerpt;type:text" json:"excerpt,omitempty"`
	Content      string    `gorm:"column:content;type:text;not null" json:"content"`
	CategoryID   *string   `gorm:"column:category_id;size:64;index" json:"category_id,omitempty"`
	Author       string    `gorm:"column:author;size:190;not null" json:"author"`
	Published    bool      `gorm:"column:published;not null;index" json:"published"`
	Featured     bool      `gorm:"column:featured;not null" json:"featured"`
	ThumbnailURL string    `gorm:"column:thumbnail_url;size:1024" json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName exposes the table backing articles.
func (Article) TableName() string {
	return "articles"
}

// Category groups articles.
type Category struct {
	ID           string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name         string    `gorm:"column:name;size:190;not null" json:"name"`
	Slug         string    `gorm:"column:slug;size:190;not null;uniqueIndex" json:"slug"`
	Description  string    `gorm:"column:description;type:text" json:"description,omitempty"`
	DisplayOrder int       `gorm:"column:display_order;not null;default:0;index" json:"display_order"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName exposes the table backing categories.
func (Category) TableName() string {
	return "categories"
}

// News is a short announcement, optionally pointing at an article.
type News struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Title     string    `gorm:"column:title;size:500;not null" json:"title"`
	Content   string    `gorm:"column:content;type:text" json:"content,omitempty"`
	ArticleID *string   `gorm:"column:article_id;size:64" json:"article_id,omitempty"`
	Published bool      `gorm:"column:published;not null;index" json:"published"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

// TableName exposes the table backing news.
func (News) TableName() string {
	return "news"
}

// SiteSetting is a keyed text value such as the privacy policy document.
type SiteSetting struct {
	Key       string    `gorm:"column:setting_key;primaryKey;size:190" json:"key"`
	Value     string    `gorm:"column:setting_value;type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName exposes the table backing site settings.
func (SiteSetting) TableName() string {
	return "site_settings"
}

// Models lists every table owned by this package for schema migration.
func Models() []any {
	return []any{&Article{}, &Category{}, &News{}, &SiteSetting{}}
}

// Visibility selects which rows a read may see.
type Visibility int

const (
	// VisibilityPublic sees published rows only.
	VisibilityPublic Visibility = iota
	// VisibilityAdmin sees every row.
	VisibilityAdmin
)

// CategoryRef is the category an article is attributed to, including the
// uncategorized sentinel.
type CategoryRef struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Uncategorized returns the sentinel attribution for articles without a category.
func Uncategorized() CategoryRef {
	return CategoryRef{Key: UncategorizedKey, Name: UncategorizedLabel}
}
