package content

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
)

const (
	// DefaultPageSize matches the public article grid.
	DefaultPageSize = 9
	// MaxPageSize bounds a single listing request.
	MaxPageSize = 100

	excerptLength = 120
)

const (
	opStoreNew       = "content.store.new"
	opListArticles   = "content.list_articles"
	opGetArticle     = "content.get_article"
	opSaveArticle    = "content.save_article"
	opDeleteArticle  = "content.delete_article"
	opListCategories = "content.list_categories"
	opGetCategory    = "content.get_category"
	opSaveCategory   = "content.save_category"
	opDeleteCategory = "content.delete_category"
	opListNews       = "content.list_news"
	opGetNews        = "content.get_news"
	opSaveNews       = "content.save_news"
	opDeleteNews     = "content.delete_news"
	opGetSetting     = "content.get_setting"
	opSaveSetting    = "content.save_setting"
)

const (
	EntityArticle  = "article"
	EntityCategory = "category"
	EntityNews     = "news"
	EntitySetting  = "setting"
)

var noOpLogger = zap.NewNop()

// ChangeHook observes committed writes. Entity is one of the Entity* constants.
type ChangeHook func(ctx context.Context, entity, id string)

// StoreConfig wires a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	OnChange   ChangeHook
}

// Store reads and writes help-center entities.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	onChange   ChangeHook
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		onChange:   cfg.OnChange,
	}, nil
}

// IDProvider exposes the identifier source shared with block editing.
func (s *Store) IDProvider() IDProvider {
	return s.idProvider
}

// ArticleFilter narrows an article listing.
type ArticleFilter struct {
	Visibility Visibility
	Query      string
	// CategoryID filters by category. UncategorizedKey selects articles without one.
	CategoryID string
	Page       int
	PageSize   int
}

// ArticlePage is one page of an article listing.
type ArticlePage struct {
	Articles   []Article `json:"articles"`
	Total      int64     `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}

// ListArticles returns a page of articles. Public listings show featured
// articles first and only published rows.
func (s *Store) ListArticles(ctx context.Context, filter ArticleFilter) (ArticlePage, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	query := s.db.WithContext(ctx).Model(&Article{})
	if filter.Visibility == VisibilityPublic {
		query = query.Where("published = ?", true)
	}
	switch categoryID := trimmed(filter.CategoryID); categoryID {
	case "":
	case UncategorizedKey:
		query = query.Where("category_id IS NULL")
	default:
		query = query.Where("category_id = ?", categoryID)
	}
	if term := trimmed(filter.Query); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		query = query.Where(
			`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(excerpt) LIKE ? ESCAPE '\')`,
			pattern, pattern,
		)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		s.logError(opListArticles, "count_failed", err)
		return ArticlePage{}, newServiceError(opListArticles, "count_failed", err)
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))
	if totalPages < 1 {
		totalPages = 1
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	order := "created_at DESC"
	if filter.Visibility == VisibilityPublic {
		order = "featured DESC, created_at DESC"
	}
	articles := make([]Article, 0, pageSize)
	if err := query.Session(&gorm.Session{}).Order(order).Order("id").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&articles).Error; err != nil {
		s.logError(opListArticles, "query_failed", err)
		return ArticlePage{}, newServiceError(opListArticles, "query_failed", err)
	}

	return ArticlePage{
		Articles:   articles,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// AllArticles returns every article visible at the given level, newest first.
func (s *Store) AllArticles(ctx context.Context, visibility Visibility) ([]Article, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Order("id")
	if visibility == VisibilityPublic {
		query = query.Where("published = ?", true)
	}
	var articles []Article
	if err := query.Find(&articles).Error; err != nil {
		s.logError(opListArticles, "query_failed", err)
		return nil, newServiceError(opListArticles, "query_failed", err)
	}
	return articles, nil
}

// GetArticle loads one article. Unpublished articles are NotFound for public reads.
func (s *Store) GetArticle(ctx context.Context, id string, visibility Visibility) (Article, error) {
	id = trimmed(id)
	if id == "" {
		return Article{}, ErrNotFound
	}
	query := s.db.WithContext(ctx).Where("id = ?", id)
	if visibility == VisibilityPublic {
		query = query.Where("published = ?", true)
	}
	var article Article
	if err := query.Take(&article).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Article{}, ErrNotFound
		}
		s.logError(opGetArticle, "query_failed", err, zap.String("article_id", id))
		return Article{}, newServiceError(opGetArticle, "query_failed", err)
	}
	return article, nil
}

// SaveArticle creates the article when it has no id and replaces it otherwise.
func (s *Store) SaveArticle(ctx context.Context, article Article) (Article, error) {
	article.Title = trimmed(article.Title)
	article.Excerpt = trimmed(article.Excerpt)
	article.Author = trimmed(article.Author)
	article.ThumbnailURL = trimmed(article.ThumbnailURL)
	article.CategoryID = optionalID(article.CategoryID)
	if article.Author == "" {
		article.Author = defaultAuthor
	}
	if err := validateArticle(&article); err != nil {
		return Article{}, err
	}
	if article.Excerpt == "" {
		article.Excerpt = blocks.Excerpt(decodeStored(article.Content), excerptLength)
	}
	if article.CategoryID != nil {
		if _, err := s.GetCategory(ctx, *article.CategoryID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Article{}, &ValidationError{Fields: map[string]string{"category_id": "unknown_category"}, cause: errors.New("category does not exist")}
			}
			return Article{}, err
		}
	}

	now := s.clock().UTC()
	if article.ID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSaveArticle, "id_generation_failed", err)
			return Article{}, newServiceError(opSaveArticle, "id_generation_failed", err)
		}
		article.ID = id
		article.CreatedAt = now
		article.UpdatedAt = now
		if err := s.db.WithContext(ctx).Create(&article).Error; err != nil {
			s.logError(opSaveArticle, "insert_failed", err, zap.String("article_id", article.ID))
			return Article{}, newServiceError(opSaveArticle, "insert_failed", err)
		}
		s.changed(ctx, EntityArticle, article.ID)
		return article, nil
	}

	existing, err := s.GetArticle(ctx, article.ID, VisibilityAdmin)
	if err != nil {
		return Article{}, err
	}
	article.CreatedAt = existing.CreatedAt
	article.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(&article).Error; err != nil {
		s.logError(opSaveArticle, "update_failed", err, zap.String("article_id", article.ID))
		return Article{}, newServiceError(opSaveArticle, "update_failed", err)
	}
	s.changed(ctx, EntityArticle, article.ID)
	return article, nil
}

// DeleteArticle removes an article and clears news references to it.
func (s *Store) DeleteArticle(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&Article{})
		if result.Error != nil {
			return newServiceError(opDeleteArticle, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&News{}).Where("article_id = ?", id).Update("article_id", nil).Error; err != nil {
			return newServiceError(opDeleteArticle, "news_unlink_failed", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logError(opDeleteArticle, "transaction_failed", err, zap.String("article_id", id))
	}
	if err == nil {
		s.changed(ctx, EntityArticle, id)
	}
	return err
}

// ListCategories returns every category by display order, ties by name.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := s.db.WithContext(ctx).Order("display_order ASC").Order("name ASC").Order("id").Find(&categories).Error; err != nil {
		s.logError(opListCategories, "query_failed", err)
		return nil, newServiceError(opListCategories, "query_failed", err)
	}
	return categories, nil
}

// GetCategory loads one category.
func (s *Store) GetCategory(ctx context.Context, id string) (Category, error) {
	var category Category
	if err := s.db.WithContext(ctx).Where("id = ?", trimmed(id)).Take(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Category{}, ErrNotFound
		}
		s.logError(opGetCategory, "query_failed", err, zap.String("category_id", id))
		return Category{}, newServiceError(opGetCategory, "query_failed", err)
	}
	return category, nil
}

// SaveCategory creates or replaces a category. An empty slug is derived from the name.
func (s *Store) SaveCategory(ctx context.Context, category Category) (Category, error) {
	category.Name = trimmed(category.Name)
	category.Description = trimmed(category.Description)
	category.Slug = trimmed(category.Slug)
	if category.Slug == "" {
		category.Slug = Slugify(category.Name)
	}
	if err := validateCategory(&category); err != nil {
		return Category{}, err
	}

	var clashes int64
	if err := s.db.WithContext(ctx).Model(&Category{}).
		Where("slug = ? AND id <> ?", category.Slug, category.ID).
		Count(&clashes).Error; err != nil {
		s.logError(opSaveCategory, "slug_lookup_failed", err)
		return Category{}, newServiceError(opSaveCategory, "slug_lookup_failed", err)
	}
	if clashes > 0 {
		return Category{}, &ValidationError{Fields: map[string]string{"slug": "slug_taken"}, cause: errors.New("slug already in use")}
	}

	if category.ID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSaveCategory, "id_generation_failed", err)
			return Category{}, newServiceError(opSaveCategory, "id_generation_failed", err)
		}
		category.ID = id
		category.CreatedAt = s.clock().UTC()
		if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
			s.logError(opSaveCategory, "insert_failed", err, zap.String("category_id", category.ID))
			return Category{}, newServiceError(opSaveCategory, "insert_failed", err)
		}
		s.changed(ctx, EntityCategory, category.ID)
		return category, nil
	}

	existing, err := s.GetCategory(ctx, category.ID)
	if err != nil {
		return Category{}, err
	}
	category.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(&category).Error; err != nil {
		s.logError(opSaveCategory, "update_failed", err, zap.String("category_id", category.ID))
		return Category{}, newServiceError(opSaveCategory, "update_failed", err)
	}
	s.changed(ctx, EntityCategory, category.ID)
	return category, nil
}

// DeleteCategory removes a category. Its articles become uncategorized.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&Category{})
		if result.Error != nil {
			return newServiceError(opDeleteCategory, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&Article{}).Where("category_id = ?", id).Update("category_id", nil).Error; err != nil {
			return newServiceError(opDeleteCategory, "article_unlink_failed", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logError(opDeleteCategory, "transaction_failed", err, zap.String("category_id", id))
	}
	if err == nil {
		s.changed(ctx, EntityCategory, id)
	}
	return err
}

// CategoryIndex keys categories by id for attribution lookups.
func CategoryIndex(categories []Category) map[string]Category {
	index := make(map[string]Category, len(categories))
	for _, category := range categories {
		index[category.ID] = category
	}
	return index
}

// AttributeCategory resolves the category of an article against an index,
// falling back to the uncategorized sentinel.
func AttributeCategory(article Article, index map[string]Category) CategoryRef {
	if article.CategoryID == nil {
		return Uncategorized()
	}
	category, ok := index[*article.CategoryID]
	if !ok {
		return Uncategorized()
	}
	return CategoryRef{Key: category.ID, Name: category.Name}
}

// ResolveCategory looks up the category of one article.
func (s *Store) ResolveCategory(ctx context.Context, article Article) (CategoryRef, error) {
	if article.CategoryID == nil {
		return Uncategorized(), nil
	}
	category, err := s.GetCategory(ctx, *article.CategoryID)
	if errors.Is(err, ErrNotFound) {
		return Uncategorized(), nil
	}
	if err != nil {
		return CategoryRef{}, err
	}
	return CategoryRef{Key: category.ID, Name: category.Name}, nil
}

// ListNews returns announcements newest first. Public listings only include
// published news and drop links to articles that are not published.
func (s *Store) ListNews(ctx context.Context, visibility Visibility) ([]News, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Order("id")
	if visibility == VisibilityPublic {
		query = query.Where("published = ?", true)
	}
	var items []News
	if err := query.Find(&items).Error; err != nil {
		s.logError(opListNews, "query_failed", err)
		return nil, newServiceError(opListNews, "query_failed", err)
	}
	if visibility == VisibilityAdmin {
		return items, nil
	}

	linked := make([]string, 0, len(items))
	for _, item := range items {
		if item.ArticleID != nil {
			linked = append(linked, *item.ArticleID)
		}
	}
	if len(linked) == 0 {
		return items, nil
	}
	var publishedIDs []string
	if err := s.db.WithContext(ctx).Model(&Article{}).
		Where("id IN ? AND published = ?", linked, true).
		Pluck("id", &publishedIDs).Error; err != nil {
		s.logError(opListNews, "article_lookup_failed", err)
		return nil, newServiceError(opListNews, "article_lookup_failed", err)
	}
	published := make(map[string]struct{}, len(publishedIDs))
	for _, id := range publishedIDs {
		published[id] = struct{}{}
	}
	for index := range items {
		if items[index].ArticleID == nil {
			continue
		}
		if _, ok := published[*items[index].ArticleID]; !ok {
			items[index].ArticleID = nil
		}
	}
	return items, nil
}

// GetNews loads one announcement for editing.
func (s *Store) GetNews(ctx context.Context, id string) (News, error) {
	var news News
	if err := s.db.WithContext(ctx).Where("id = ?", trimmed(id)).Take(&news).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return News{}, ErrNotFound
		}
		s.logError(opGetNews, "query_failed", err, zap.String("news_id", id))
		return News{}, newServiceError(opGetNews, "query_failed", err)
	}
	return news, nil
}

// SaveNews creates or replaces an announcement.
func (s *Store) SaveNews(ctx context.Context, news News) (News, error) {
	news.Title = trimmed(news.Title)
	news.ArticleID = optionalID(news.ArticleID)
	if err := validateNews(&news); err != nil {
		return News{}, err
	}
	if news.ArticleID != nil {
		if _, err := s.GetArticle(ctx, *news.ArticleID, VisibilityAdmin); err != nil {
			if errors.Is(err, ErrNotFound) {
				return News{}, &ValidationError{Fields: map[string]string{"article_id": "unknown_article"}, cause: errors.New("article does not exist")}
			}
			return News{}, err
		}
	}

	if news.ID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSaveNews, "id_generation_failed", err)
			return News{}, newServiceError(opSaveNews, "id_generation_failed", err)
		}
		news.ID = id
		news.CreatedAt = s.clock().UTC()
		if err := s.db.WithContext(ctx).Create(&news).Error; err != nil {
			s.logError(opSaveNews, "insert_failed", err, zap.String("news_id", news.ID))
			return News{}, newServiceError(opSaveNews, "insert_failed", err)
		}
		s.changed(ctx, EntityNews, news.ID)
		return news, nil
	}

	existing, err := s.GetNews(ctx, news.ID)
	if err != nil {
		return News{}, err
	}
	news.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(&news).Error; err != nil {
		s.logError(opSaveNews, "update_failed", err, zap.String("news_id", news.ID))
		return News{}, newServiceError(opSaveNews, "update_failed", err)
	}
	s.changed(ctx, EntityNews, news.ID)
	return news, nil
}

// DeleteNews removes an announcement.
func (s *Store) DeleteNews(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&News{})
	if result.Error != nil {
		s.logError(opDeleteNews, "delete_failed", result.Error, zap.String("news_id", id))
		return newServiceError(opDeleteNews, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.changed(ctx, EntityNews, id)
	return nil
}

// GetSetting loads a site setting by key.
func (s *Store) GetSetting(ctx context.Context, key string) (SiteSetting, error) {
	var setting SiteSetting
	if err := s.db.WithContext(ctx).Where("setting_key = ?", key).Take(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SiteSetting{}, ErrNotFound
		}
		s.logError(opGetSetting, "query_failed", err, zap.String("setting_key", key))
		return SiteSetting{}, newServiceError(opGetSetting, "query_failed", err)
	}
	return setting, nil
}

// SaveSetting upserts a site setting.
func (s *Store) SaveSetting(ctx context.Context, key, value string) (SiteSetting, error) {
	key = trimmed(key)
	if key == "" {
		return SiteSetting{}, &ValidationError{Fields: map[string]string{"key": "key_required"}, cause: errors.New("setting key is empty")}
	}
	setting := SiteSetting{Key: key, Value: value, UpdatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		s.logError(opSaveSetting, "upsert_failed", err, zap.String("setting_key", key))
		return SiteSetting{}, newServiceError(opSaveSetting, "upsert_failed", err)
	}
	s.changed(ctx, EntitySetting, key)
	return setting, nil
}

func (s *Store) changed(ctx context.Context, entity, id string) {
	if s.onChange != nil {
		s.onChange(ctx, entity, id)
	}
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("content store error", attrs...)
}
