package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/analytics"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/auth"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
)

const adminSubjectContextKey = "helpcenter_admin_subject"

type sessionRequest struct {
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request sessionRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.passwords.Verify(request.Password) {
		h.logger.Warn("admin login rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	token, expiresIn, err := h.tokens.IssueAdminToken()
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.setSessionCookie(c, token, int(expiresIn))
	c.JSON(http.StatusOK, sessionResponse{AccessToken: token, ExpiresIn: expiresIn, TokenType: "Bearer"})
}

func (h *httpHandler) handleDeleteSession(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(adminSubjectContextKey, claims.Subject)
	c.Next()
}

type articleRequest struct {
	Title        string  `json:"title"`
	Excerpt      string  `json:"excerpt"`
	Content      string  `json:"content"`
	CategoryID   *string `json:"category_id"`
	Author       string  `json:"author"`
	Published    bool    `json:"published"`
	Featured     bool    `json:"featured"`
	ThumbnailURL string  `json:"thumbnail_url"`
}

func (r articleRequest) article(id string) content.Article {
	return content.Article{
		ID:           id,
		Title:        r.Title,
		Excerpt:      r.Excerpt,
		Content:      r.Content,
		CategoryID:   r.CategoryID,
		Author:       r.Author,
		Published:    r.Published,
		Featured:     r.Featured,
		ThumbnailURL: r.ThumbnailURL,
	}
}

func (h *httpHandler) handleAdminListArticles(c *gin.Context) {
	h.listArticles(c, content.VisibilityAdmin)
}

func (h *httpHandler) handleAdminGetArticle(c *gin.Context) {
	article, err := h.content.GetArticle(c.Request.Context(), c.Param("id"), content.VisibilityAdmin)
	if err != nil {
		h.respondError(c, err, "get_article_failed")
		return
	}
	h.respondArticle(c, article)
}

func (h *httpHandler) handleCreateArticle(c *gin.Context) {
	var request articleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved, err := h.content.SaveArticle(c.Request.Context(), request.article(""))
	if err != nil {
		h.respondError(c, err, "save_article_failed")
		return
	}
	h.publishChange("article", saved.ID, "created")
	c.JSON(http.StatusCreated, saved)
}

func (h *httpHandler) handleUpdateArticle(c *gin.Context) {
	var request articleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved, err := h.content.SaveArticle(c.Request.Context(), request.article(c.Param("id")))
	if err != nil {
		h.respondError(c, err, "save_article_failed")
		return
	}
	h.publishChange("article", saved.ID, "updated")
	c.JSON(http.StatusOK, saved)
}

func (h *httpHandler) handleDeleteArticle(c *gin.Context) {
	if err := h.content.DeleteArticle(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "delete_article_failed")
		return
	}
	h.publishChange("article", c.Param("id"), "deleted")
	c.Status(http.StatusNoContent)
}

type categoryRequest struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Description  string `json:"description"`
	DisplayOrder int    `json:"display_order"`
}

func (h *httpHandler) handleCreateCategory(c *gin.Context) {
	h.saveCategory(c, "", http.StatusCreated)
}

func (h *httpHandler) handleUpdateCategory(c *gin.Context) {
	h.saveCategory(c, c.Param("id"), http.StatusOK)
}

func (h *httpHandler) saveCategory(c *gin.Context, id string, status int) {
	var request categoryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved, err := h.content.SaveCategory(c.Request.Context(), content.Category{
		ID:           id,
		Name:         request.Name,
		Slug:         request.Slug,
		Description:  request.Description,
		DisplayOrder: request.DisplayOrder,
	})
	if err != nil {
		h.respondError(c, err, "save_category_failed")
		return
	}
	h.publishChange("category", saved.ID, "saved")
	c.JSON(status, saved)
}

func (h *httpHandler) handleDeleteCategory(c *gin.Context) {
	if err := h.content.DeleteCategory(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "delete_category_failed")
		return
	}
	h.publishChange("category", c.Param("id"), "deleted")
	c.Status(http.StatusNoContent)
}

type newsRequest struct {
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	ArticleID *string `json:"article_id"`
	Published bool    `json:"published"`
}

func (h *httpHandler) handleAdminListNews(c *gin.Context) {
	h.listNews(c, content.VisibilityAdmin)
}

func (h *httpHandler) handleGetNews(c *gin.Context) {
	news, err := h.content.GetNews(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "get_news_failed")
		return
	}
	c.JSON(http.StatusOK, news)
}

func (h *httpHandler) handleCreateNews(c *gin.Context) {
	h.saveNews(c, "", http.StatusCreated)
}

func (h *httpHandler) handleUpdateNews(c *gin.Context) {
	h.saveNews(c, c.Param("id"), http.StatusOK)
}

func (h *httpHandler) saveNews(c *gin.Context, id string, status int) {
	var request newsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved, err := h.content.SaveNews(c.Request.Context(), content.News{
		ID:        id,
		Title:     request.Title,
		Content:   request.Content,
		ArticleID: request.ArticleID,
		Published: request.Published,
	})
	if err != nil {
		h.respondError(c, err, "save_news_failed")
		return
	}
	h.publishChange("news", saved.ID, "saved")
	c.JSON(status, saved)
}

func (h *httpHandler) handleDeleteNews(c *gin.Context) {
	if err := h.content.DeleteNews(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "delete_news_failed")
		return
	}
	h.publishChange("news", c.Param("id"), "deleted")
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	upload, cleanup, ok := h.readUpload(c)
	if !ok {
		return
	}
	defer cleanup()
	if h.uploader == nil {
		h.respondError(c, blocks.ErrUploaderUnavailable, "upload_failed")
		return
	}
	publicURL, err := h.uploader.Upload(c.Request.Context(), upload)
	if err != nil {
		h.respondError(c, err, "upload_failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": publicURL})
}

// readUpload opens the multipart "file" field. The returned cleanup closes it.
func (h *httpHandler) readUpload(c *gin.Context) (blocks.Upload, func(), bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large"})
			return blocks.Upload{}, nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return blocks.Upload{}, nil, false
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return blocks.Upload{}, nil, false
	}
	upload := blocks.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}
	return upload, func() { _ = file.Close() }, true
}

type analyticsResponse struct {
	Totals          analytics.Totals           `json:"totals"`
	Pages           []analytics.PageStat       `json:"pages"`
	Articles        analytics.ArticlePage      `json:"articles"`
	Links           []analytics.LinkStat       `json:"links"`
	CategoryOptions []analytics.CategoryOption `json:"category_options"`
	Colors          map[string]string          `json:"colors"`
}

func (h *httpHandler) handleAnalytics(c *gin.Context) {
	report, err := h.analytics.Report(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "analytics_failed")
		return
	}
	c.JSON(http.StatusOK, analyticsResponse{
		Totals:          report.Totals,
		Pages:           report.Pages,
		Articles:        report.ArticlesPage(c.Query("category"), queryInt(c, "page", 1)),
		Links:           report.Links,
		CategoryOptions: report.CategoryOptions,
		Colors:          report.Colors,
	})
}
