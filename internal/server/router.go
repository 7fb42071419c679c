package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/analytics"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/metrics"
)

const (
	// TrackingPath is the redirect endpoint rendered links point at.
	TrackingPath = "/out"

	defaultMaxUploadBytes = 20 << 20
	defaultTrackingRate   = rate.Limit(2)
	defaultTrackingBurst  = 30
)

var (
	errMissingContentStore = errors.New("content store dependency required")
	errMissingAnalytics    = errors.New("analytics service dependency required")
	errMissingRecorder     = errors.New("analytics recorder dependency required")
	errMissingPasswords    = errors.New("password verifier dependency required")
	errMissingTokenIssuer  = errors.New("token issuer dependency required")
	errMissingSessions     = errors.New("session validator dependency required")
	errMissingLinks        = errors.New("link signer dependency required")
)

// PasswordChecker verifies the admin password.
type PasswordChecker interface {
	Verify(password string) bool
}

// AdminTokenIssuer issues admin session tokens.
type AdminTokenIssuer interface {
	IssueAdminToken() (string, int64, error)
}

// SessionValidator authenticates admin requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (jwt.RegisteredClaims, error)
	CookieName() string
}

// LinkVerifier signs rendered outbound links and checks them on redirect.
type LinkVerifier interface {
	Sign(target string) string
	Verify(target, signature string) bool
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Content   *content.Store
	Analytics *analytics.Service
	Recorder  *analytics.Recorder
	Uploader  blocks.Uploader
	Passwords PasswordChecker
	Tokens    AdminTokenIssuer
	Sessions  SessionValidator
	Links     LinkVerifier
	Changes   *ChangeDispatcher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	// UploadsDir is served under /uploads when set.
	UploadsDir     string
	AllowedOrigins []string
	SecureCookies  bool
	MaxUploadBytes int64
	TrackingRate   rate.Limit
	TrackingBurst  int
	Clock          func() time.Time
}

// NewHTTPHandler builds the gin engine serving the public site API, the admin
// API and the operational endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Content == nil {
		return nil, errMissingContentStore
	}
	if deps.Analytics == nil {
		return nil, errMissingAnalytics
	}
	if deps.Recorder == nil {
		return nil, errMissingRecorder
	}
	if deps.Passwords == nil {
		return nil, errMissingPasswords
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Links == nil {
		return nil, errMissingLinks
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	trackingRate := deps.TrackingRate
	if trackingRate <= 0 {
		trackingRate = defaultTrackingRate
	}
	trackingBurst := deps.TrackingBurst
	if trackingBurst <= 0 {
		trackingBurst = defaultTrackingBurst
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	changes := deps.Changes
	if changes == nil {
		changes = NewChangeDispatcher()
	}

	handler := &httpHandler{
		content:        deps.Content,
		analytics:      deps.Analytics,
		recorder:       deps.Recorder,
		uploader:       deps.Uploader,
		passwords:      deps.Passwords,
		tokens:         deps.Tokens,
		sessions:       deps.Sessions,
		changes:        changes,
		links:          deps.Links,
		renderer:       blocks.Renderer{TrackingPath: TrackingPath, Links: deps.Links},
		limiter:        newIPRateLimiter(trackingRate, trackingBurst, clock),
		secureCookies:  deps.SecureCookies,
		maxUploadBytes: maxUpload,
		logger:         logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(logger))
	router.Use(metricsMiddleware(deps.Metrics))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	if deps.UploadsDir != "" {
		router.Static("/uploads", deps.UploadsDir)
	}
	router.GET(TrackingPath, handler.handleOutboundLink)

	public := router.Group("/api")
	public.GET("/articles", handler.handleListArticles)
	public.GET("/articles/:id", handler.handleGetArticle)
	public.GET("/pages/:page", handler.handleGetPage)
	public.GET("/categories", handler.handleListCategories)
	public.GET("/news", handler.handleListNews)

	tracking := public.Group("/track")
	tracking.Use(handler.rateLimitTracking)
	tracking.POST("/page-view", handler.handleTrackPageView)
	tracking.POST("/article-view", handler.handleTrackArticleView)
	tracking.POST("/link-click", handler.handleTrackLinkClick)

	public.POST("/admin/session", handler.handleCreateSession)
	public.DELETE("/admin/session", handler.handleDeleteSession)

	admin := public.Group("/admin")
	admin.Use(handler.authorizeRequest)

	admin.GET("/articles", handler.handleAdminListArticles)
	admin.POST("/articles", handler.handleCreateArticle)
	admin.GET("/articles/:id", handler.handleAdminGetArticle)
	admin.PUT("/articles/:id", handler.handleUpdateArticle)
	admin.DELETE("/articles/:id", handler.handleDeleteArticle)

	admin.GET("/categories", handler.handleListCategories)
	admin.POST("/categories", handler.handleCreateCategory)
	admin.PUT("/categories/:id", handler.handleUpdateCategory)
	admin.DELETE("/categories/:id", handler.handleDeleteCategory)

	admin.GET("/news", handler.handleAdminListNews)
	admin.POST("/news", handler.handleCreateNews)
	admin.GET("/news/:id", handler.handleGetNews)
	admin.PUT("/news/:id", handler.handleUpdateNews)
	admin.DELETE("/news/:id", handler.handleDeleteNews)

	documents := admin.Group("/documents/:kind/:key")
	documents.GET("", handler.handleGetDocument)
	documents.PUT("", handler.handleReplaceDocument)
	documents.GET("/outline", handler.handleDocumentOutline)
	documents.POST("/blocks", handler.handleAddBlock)
	documents.PUT("/blocks/:blockId", handler.handleUpdateBlock)
	documents.DELETE("/blocks/:blockId", handler.handleDeleteBlock)
	documents.POST("/blocks/:blockId/duplicate", handler.handleDuplicateBlock)
	documents.POST("/blocks/:blockId/move", handler.handleMoveBlock)
	documents.POST("/blocks/:blockId/upload", handler.handleUploadToBlock)

	admin.GET("/events", handler.handleChangeStream)
	admin.POST("/uploads", handler.handleUpload)
	admin.GET("/analytics", handler.handleAnalytics)

	return router, nil
}

type httpHandler struct {
	content        *content.Store
	analytics      *analytics.Service
	recorder       *analytics.Recorder
	uploader       blocks.Uploader
	passwords      PasswordChecker
	tokens         AdminTokenIssuer
	sessions       SessionValidator
	changes        *ChangeDispatcher
	links          LinkVerifier
	renderer       blocks.Renderer
	limiter        *ipRateLimiter
	secureCookies  bool
	maxUploadBytes int64
	logger         *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		MaxAge:           12 * time.Hour,
	}
	// Cookies cross origins only for an explicit allow list.
	if allowsAnyOrigin(origins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
