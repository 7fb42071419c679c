package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
)

var pageSettings = map[string]string{
	"privacy-policy":   content.SettingPrivacyPolicy,
	"terms-of-service": content.SettingTermsOfService,
}

type articleSummaryPayload struct {
	content.Article
	Category content.CategoryRef `json:"category"`
}

type articleListPayload struct {
	Articles   []articleSummaryPayload `json:"articles"`
	Total      int64                   `json:"total"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"page_size"`
	TotalPages int                     `json:"total_pages"`
}

type documentPayload struct {
	Blocks json.RawMessage `json:"blocks"`
	HTML   string          `json:"html"`
}

type articleDetailPayload struct {
	Article  content.Article     `json:"article"`
	Category content.CategoryRef `json:"category"`
	documentPayload
}

type newsPayload struct {
	content.News
	HTML string `json:"html"`
}

func (h *httpHandler) handleListArticles(c *gin.Context) {
	h.listArticles(c, content.VisibilityPublic)
}

func (h *httpHandler) listArticles(c *gin.Context, visibility content.Visibility) {
	filter := content.ArticleFilter{
		Visibility: visibility,
		Query:      c.Query("q"),
		CategoryID: c.Query("category"),
		Page:       queryInt(c, "page", 1),
		PageSize:   queryInt(c, "page_size", 0),
	}
	page, err := h.content.ListArticles(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "list_articles_failed")
		return
	}
	categories, err := h.content.ListCategories(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "list_articles_failed")
		return
	}
	index := content.CategoryIndex(categories)

	response := articleListPayload{
		Articles:   make([]articleSummaryPayload, 0, len(page.Articles)),
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	}
	for _, article := range page.Articles {
		if visibility == content.VisibilityPublic {
			article.Content = ""
		}
		response.Articles = append(response.Articles, articleSummaryPayload{
			Article:  article,
			Category: content.AttributeCategory(article, index),
		})
	}
	c.JSON(http.StatusOK, response)
}

// handleGetArticle serves a published article. Views are counted only through
// the article-view tracking endpoint so each read is recorded once.
func (h *httpHandler) handleGetArticle(c *gin.Context) {
	article, err := h.content.GetArticle(c.Request.Context(), c.Param("id"), content.VisibilityPublic)
	if err != nil {
		h.respondError(c, err, "get_article_failed")
		return
	}
	h.respondArticle(c, article)
}

func (h *httpHandler) respondArticle(c *gin.Context, article content.Article) {
	category, err := h.content.ResolveCategory(c.Request.Context(), article)
	if err != nil {
		h.respondError(c, err, "get_article_failed")
		return
	}
	document, err := h.documentPayload(content.DecodeArticle(article), article.ID)
	if err != nil {
		h.respondError(c, err, "get_article_failed")
		return
	}
	c.JSON(http.StatusOK, articleDetailPayload{Article: article, Category: category, documentPayload: document})
}

func (h *httpHandler) handleGetPage(c *gin.Context) {
	key, ok := pageSettings[c.Param("page")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	document, err := h.content.LoadDocument(c.Request.Context(), content.DocumentSetting, key, content.VisibilityPublic)
	if err != nil {
		h.respondError(c, err, "get_page_failed")
		return
	}
	payload, err := h.documentPayload(document, "")
	if err != nil {
		h.respondError(c, err, "get_page_failed")
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleListCategories(c *gin.Context) {
	categories, err := h.content.ListCategories(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "list_categories_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *httpHandler) handleListNews(c *gin.Context) {
	h.listNews(c, content.VisibilityPublic)
}

func (h *httpHandler) listNews(c *gin.Context, visibility content.Visibility) {
	items, err := h.content.ListNews(c.Request.Context(), visibility)
	if err != nil {
		h.respondError(c, err, "list_news_failed")
		return
	}
	response := make([]newsPayload, 0, len(items))
	for _, item := range items {
		rendered, err := content.RenderNewsHTML(item.Content)
		if err != nil {
			h.respondError(c, err, "list_news_failed")
			return
		}
		response = append(response, newsPayload{News: item, HTML: rendered})
	}
	c.JSON(http.StatusOK, gin.H{"news": response})
}

type pageViewRequest struct {
	Path string `json:"path"`
}

type articleViewRequest struct {
	ArticleID string `json:"article_id"`
}

type linkClickRequest struct {
	LinkURL   string `json:"link_url"`
	BlockID   string `json:"block_id"`
	ArticleID string `json:"article_id"`
}

// Tracking endpoints answer 204 even for unusable payloads so page rendering
// never depends on analytics.
func (h *httpHandler) handleTrackPageView(c *gin.Context) {
	var request pageViewRequest
	if err := c.ShouldBindJSON(&request); err == nil {
		h.recorder.TrackPageView(c.Request.Context(), request.Path)
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTrackArticleView(c *gin.Context) {
	var request articleViewRequest
	if err := c.ShouldBindJSON(&request); err == nil {
		h.recorder.TrackArticleView(c.Request.Context(), request.ArticleID)
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTrackLinkClick(c *gin.Context) {
	var request linkClickRequest
	if err := c.ShouldBindJSON(&request); err == nil {
		h.recorder.TrackLinkClick(c.Request.Context(), request.LinkURL, request.BlockID, request.ArticleID)
	}
	c.Status(http.StatusNoContent)
}

// handleOutboundLink records a click on a rendered link and redirects to it.
// Only targets carrying the signature added at render time are served.
// Rate limited clients are still redirected, only the recording is skipped.
func (h *httpHandler) handleOutboundLink(c *gin.Context) {
	target := strings.TrimSpace(c.Query("url"))
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url"})
		return
	}
	if !h.links.Verify(target, c.Query("sig")) {
		h.logger.Warn("outbound link rejected", zap.String("reason", "invalid_signature"), zap.String("host", parsed.Host))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}
	if h.limiter.Allow(c.ClientIP()) {
		h.recorder.TrackLinkClick(c.Request.Context(), target, c.Query("block_id"), c.Query("article_id"))
	} else {
		h.logger.Debug("outbound link not recorded", zap.String("reason", "rate_limited"))
	}
	c.Redirect(http.StatusFound, target)
}

func (h *httpHandler) documentPayload(document []blocks.Block, articleID string) (documentPayload, error) {
	encoded, err := blocks.Encode(blocks.Sorted(document))
	if err != nil {
		return documentPayload{}, err
	}
	return documentPayload{
		Blocks: json.RawMessage(encoded),
		HTML:   h.renderer.Render(document, articleID),
	}, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
