package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/metrics"
)

const (
	opServiceNew = "analytics.service.new"
	opSnapshot   = "analytics.snapshot"
	opReport     = "analytics.report"
)

var errMissingCatalog = errors.New("catalog source is required")

// ServiceError carries a dotted code naming the failed operation and reason.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// CatalogSource supplies the articles and categories a report resolves against.
type CatalogSource interface {
	AllArticles(ctx context.Context, visibility content.Visibility) ([]content.Article, error)
	ListCategories(ctx context.Context) ([]content.Category, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Database *gorm.DB
	Catalog  CatalogSource
	Cache    Cache
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Service builds analytics reports from stored events.
type Service struct {
	db      *gorm.DB
	catalog CatalogSource
	cache   Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Catalog == nil {
		return nil, newServiceError(opServiceNew, "missing_catalog", errMissingCatalog)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:      cfg.Database,
		catalog: cfg.Catalog,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

// Snapshot fetches every raw event row, newest first.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	db := s.db.WithContext(ctx)
	if err := db.Order("created_at DESC").Order("id DESC").Find(&snapshot.PageViews).Error; err != nil {
		s.logError(opSnapshot, "page_views_failed", err)
		return Snapshot{}, newServiceError(opSnapshot, "page_views_failed", err)
	}
	if err := db.Order("created_at DESC").Order("id DESC").Find(&snapshot.ArticleViews).Error; err != nil {
		s.logError(opSnapshot, "article_views_failed", err)
		return Snapshot{}, newServiceError(opSnapshot, "article_views_failed", err)
	}
	if err := db.Order("created_at DESC").Order("id DESC").Find(&snapshot.LinkClicks).Error; err != nil {
		s.logError(opSnapshot, "link_clicks_failed", err)
		return Snapshot{}, newServiceError(opSnapshot, "link_clicks_failed", err)
	}
	return snapshot, nil
}

// Report returns the aggregated report, served from the cache while no new
// event has been recorded since it was built.
func (s *Service) Report(ctx context.Context) (Report, error) {
	version, cacheable := s.cachedVersion(ctx)
	if cacheable {
		report, ok, err := s.cache.Get(ctx, version)
		switch {
		case err != nil:
			s.metrics.ReportCacheResult("error")
			s.logger.Warn("analytics report cache read failed", zap.Error(err))
		case ok:
			s.metrics.ReportCacheResult("hit")
			return report, nil
		default:
			s.metrics.ReportCacheResult("miss")
		}
	}

	started := time.Now()
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return Report{}, err
	}
	articles, err := s.catalog.AllArticles(ctx, content.VisibilityAdmin)
	if err != nil {
		s.logError(opReport, "articles_failed", err)
		return Report{}, newServiceError(opReport, "articles_failed", err)
	}
	categories, err := s.catalog.ListCategories(ctx)
	if err != nil {
		s.logError(opReport, "categories_failed", err)
		return Report{}, newServiceError(opReport, "categories_failed", err)
	}
	report := Aggregate(snapshot, Catalog{Articles: articles, Categories: categories})
	s.metrics.ReportBuilt(time.Since(started))

	if cacheable {
		if err := s.cache.Put(ctx, version, report); err != nil {
			s.logger.Warn("analytics report cache write failed", zap.Error(err))
		}
	}
	return report, nil
}

func (s *Service) cachedVersion(ctx context.Context) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	version, err := s.cache.Version(ctx)
	if err != nil {
		s.metrics.ReportCacheResult("error")
		s.logger.Warn("analytics cache version read failed", zap.Error(err))
		return 0, false
	}
	return version, true
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("analytics service error", attrs...)
}
