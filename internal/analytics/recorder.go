package analytics

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/metrics"
)

const maxRecordedLength = 2048

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// RecorderConfig wires a Recorder.
type RecorderConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider content.IDProvider
	Cache      Cache
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Recorder appends analytics events. Tracking never fails the caller: storage
// errors are logged and counted, then dropped.
type Recorder struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider content.IDProvider
	cache      Cache
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRecorder validates the configuration and constructs a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Recorder{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		cache:      cfg.Cache,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// TrackPageView records a visit to path. An empty path is the top page.
func (r *Recorder) TrackPageView(ctx context.Context, path string) {
	path = clip(strings.TrimSpace(path))
	if path == "" {
		path = "/"
	}
	r.insert(ctx, KindPageView, func(id string, at time.Time) any {
		return &PageView{ID: id, Path: path, CreatedAt: at}
	}, zap.String("path", path))
}

// TrackArticleView records that an article was opened.
func (r *Recorder) TrackArticleView(ctx context.Context, articleID string) {
	articleID = strings.TrimSpace(articleID)
	if articleID == "" {
		r.drop(KindArticleView, "missing_article_id", nil)
		return
	}
	r.insert(ctx, KindArticleView, func(id string, at time.Time) any {
		return &ArticleView{ID: id, ArticleID: articleID, CreatedAt: at}
	}, zap.String("article_id", articleID))
}

// TrackLinkClick records a click on linkURL from an optional block and article.
func (r *Recorder) TrackLinkClick(ctx context.Context, linkURL, blockID, articleID string) {
	linkURL = clip(strings.TrimSpace(linkURL))
	if linkURL == "" {
		r.drop(KindLinkClick, "missing_link_url", nil)
		return
	}
	click := LinkClick{LinkURL: linkURL, BlockID: optional(blockID), ArticleID: optional(articleID)}
	r.insert(ctx, KindLinkClick, func(id string, at time.Time) any {
		click.ID = id
		click.CreatedAt = at
		return &click
	}, zap.String("link_url", linkURL))
}

func (r *Recorder) insert(ctx context.Context, kind string, build func(id string, at time.Time) any, fields ...zap.Field) {
	id, err := r.idProvider.NewID()
	if err != nil {
		r.drop(kind, "id_generation_failed", err, fields...)
		return
	}
	if err := r.db.WithContext(ctx).Create(build(id, r.clock().UTC())).Error; err != nil {
		r.drop(kind, "insert_failed", err, fields...)
		return
	}
	r.metrics.EventRecorded(kind)
	if r.cache == nil {
		return
	}
	if err := r.cache.Bump(ctx); err != nil {
		r.logger.Warn("analytics cache invalidation failed", zap.String("kind", kind), zap.Error(err))
	}
}

func (r *Recorder) drop(kind, reason string, err error, fields ...zap.Field) {
	r.metrics.EventDropped(kind)
	attrs := []zap.Field{zap.String("kind", kind), zap.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Warn("analytics event dropped", attrs...)
}

func clip(value string) string {
	if utf8.RuneCountInString(value) <= maxRecordedLength {
		return value
	}
	return string([]rune(value)[:maxRecordedLength])
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
