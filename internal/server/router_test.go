package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/analytics"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/auth"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/metrics"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/storage"
)

const testAdminPassword = "correct horse battery staple"

type testServer struct {
	handler   http.Handler
	store     *content.Store
	analytics *analytics.Service
	changes   *ChangeDispatcher
	links     *auth.LinkSigner
}

type serverOption func(*Dependencies)

func newTestServer(t *testing.T, options ...serverOption) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:helpcenter_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	models := append(content.Models(), analytics.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	cache := analytics.NewMemoryCache()
	store, err := content.NewStore(content.StoreConfig{
		Database:   db,
		IDProvider: content.NewUUIDProvider(),
		OnChange:   analytics.InvalidateOnChange(cache, nil),
	})
	if err != nil {
		t.Fatalf("failed to construct content store: %v", err)
	}
	collectors := metrics.New()
	recorder, err := analytics.NewRecorder(analytics.RecorderConfig{
		Database:   db,
		IDProvider: content.NewUUIDProvider(),
		Cache:      cache,
		Metrics:    collectors,
	})
	if err != nil {
		t.Fatalf("failed to construct recorder: %v", err)
	}
	service, err := analytics.NewService(analytics.ServiceConfig{Database: db, Catalog: store, Cache: cache, Metrics: collectors})
	if err != nil {
		t.Fatalf("failed to construct analytics service: %v", err)
	}

	hash, err := auth.HashPassword(testAdminPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	passwords, err := auth.NewPasswordVerifier(hash)
	if err != nil {
		t.Fatalf("failed to construct password verifier: %v", err)
	}
	secret := []byte("server-test-secret")
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: secret,
		Issuer:        "helpcenter-test",
		Audience:      "helpcenter-admin",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: secret,
		Issuer:        "helpcenter-test",
		Audience:      "helpcenter-admin",
		CookieName:    "helpcenter_session",
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}

	uploadsDir := t.TempDir()
	uploader, err := storage.NewLocalUploader(storage.LocalConfig{Root: uploadsDir})
	if err != nil {
		t.Fatalf("failed to construct uploader: %v", err)
	}

	links, err := auth.NewLinkSigner(secret)
	if err != nil {
		t.Fatalf("failed to construct link signer: %v", err)
	}

	changes := NewChangeDispatcher()
	deps := Dependencies{
		Content:    store,
		Analytics:  service,
		Recorder:   recorder,
		Uploader:   uploader,
		Passwords:  passwords,
		Tokens:     tokens,
		Sessions:   sessions,
		Links:      links,
		Changes:    changes,
		Metrics:    collectors,
		Logger:     zap.NewNop(),
		UploadsDir: uploadsDir,
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testServer{handler: handler, store: store, analytics: service, changes: changes, links: links}
}

// outboundPath builds a signed click redirect path the way the renderer does.
func (s testServer) outboundPath(target, extra string) string {
	path := TrackingPath + "?url=" + url.QueryEscape(target) + "&sig=" + url.QueryEscape(s.links.Sign(target))
	if extra != "" {
		path += "&" + extra
	}
	return path
}

func (s testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s testServer) login(t *testing.T) string {
	t.Helper()
	response := s.do(t, http.MethodPost, "/api/admin/session", "", map[string]string{"password": testAdminPassword})
	if response.Code != http.StatusOK {
		t.Fatalf("expected login to succeed, got %d: %s", response.Code, response.Body.String())
	}
	var session sessionResponse
	decodeBody(t, response, &session)
	if session.AccessToken == "" || session.TokenType != "Bearer" {
		t.Fatalf("unexpected session response: %+v", session)
	}
	return session.AccessToken
}

func decodeBody(t *testing.T, response *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(response.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", response.Body.String(), err)
	}
}

func errorCode(t *testing.T, response *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	decodeBody(t, response, &body)
	code, _ := body["error"].(string)
	return code
}

const paragraphDocument = `[{"id":"b-1","type":"paragraph","content":{"text":"See https://example.com/guide for details"},"order":0}]`

func createArticle(t *testing.T, server testServer, token string, published bool) content.Article {
	t.Helper()
	response := server.do(t, http.MethodPost, "/api/admin/articles", token, map[string]any{
		"title":     "Getting started",
		"content":   paragraphDocument,
		"published": published,
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("expected article to be created, got %d: %s", response.Code, response.Body.String())
	}
	var article content.Article
	decodeBody(t, response, &article)
	return article
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingContentStore) {
		t.Fatalf("expected missing content store error, got %v", err)
	}
}

func TestAdminSessionLifecycle(t *testing.T) {
	server := newTestServer(t)

	if response := server.do(t, http.MethodPost, "/api/admin/session", "", map[string]string{}); response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", response.Code)
	}
	response := server.do(t, http.MethodPost, "/api/admin/session", "", map[string]string{"password": "wrong"})
	if response.Code != http.StatusUnauthorized || errorCode(t, response) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d: %s", response.Code, response.Body.String())
	}

	if response := server.do(t, http.MethodGet, "/api/admin/articles", "", nil); response.Code != http.StatusUnauthorized {
		t.Fatalf("expected admin route to require a session, got %d", response.Code)
	}

	login := server.do(t, http.MethodPost, "/api/admin/session", "", map[string]string{"password": testAdminPassword})
	if login.Code != http.StatusOK {
		t.Fatalf("expected login to succeed, got %d", login.Code)
	}
	cookies := login.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "helpcenter_session" || !cookies[0].HttpOnly {
		t.Fatalf("expected an http-only session cookie, got %+v", cookies)
	}

	request := httptest.NewRequest(http.MethodGet, "/api/admin/articles", http.NoBody)
	request.AddCookie(cookies[0])
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected cookie session to authorize, got %d", recorder.Code)
	}

	logout := server.do(t, http.MethodDelete, "/api/admin/session", "", nil)
	if logout.Code != http.StatusNoContent {
		t.Fatalf("expected logout to return 204, got %d", logout.Code)
	}
	cleared := logout.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("expected the session cookie to be cleared, got %+v", cleared)
	}
}

func TestArticleVisibilityAndRendering(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)

	categoryResponse := server.do(t, http.MethodPost, "/api/admin/categories", token, map[string]string{"name": "Billing", "slug": "billing"})
	if categoryResponse.Code != http.StatusCreated {
		t.Fatalf("expected category to be created, got %d: %s", categoryResponse.Code, categoryResponse.Body.String())
	}
	var category content.Category
	decodeBody(t, categoryResponse, &category)

	draft := createArticle(t, server, token, false)
	if response := server.do(t, http.MethodGet, "/api/articles/"+draft.ID, "", nil); response.Code != http.StatusNotFound {
		t.Fatalf("expected draft to be hidden from the public, got %d", response.Code)
	}

	update := server.do(t, http.MethodPut, "/api/admin/articles/"+draft.ID, token, map[string]any{
		"title":       "Getting started",
		"content":     paragraphDocument,
		"category_id": category.ID,
		"published":   true,
	})
	if update.Code != http.StatusOK {
		t.Fatalf("expected update to succeed, got %d: %s", update.Code, update.Body.String())
	}

	response := server.do(t, http.MethodGet, "/api/articles/"+draft.ID, "", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected published article, got %d", response.Code)
	}
	var detail struct {
		Article  content.Article     `json:"article"`
		Category content.CategoryRef `json:"category"`
		HTML     string              `json:"html"`
	}
	decodeBody(t, response, &detail)
	if detail.Category.Key != category.ID || detail.Category.Name != "Billing" {
		t.Fatalf("unexpected category attribution: %+v", detail.Category)
	}
	if !strings.Contains(detail.HTML, TrackingPath+"?") || !strings.Contains(detail.HTML, "article_id="+draft.ID) || !strings.Contains(detail.HTML, "sig=") {
		t.Fatalf("expected rendered links to go through the tracking path, got %s", detail.HTML)
	}

	list := server.do(t, http.MethodGet, "/api/articles?category="+category.ID, "", nil)
	var page articleListPayload
	decodeBody(t, list, &page)
	if page.Total != 1 || len(page.Articles) != 1 {
		t.Fatalf("expected one listed article, got %+v", page)
	}
	if page.Articles[0].Content != "" {
		t.Fatalf("expected public listings to omit content")
	}

	snapshot, err := server.analytics.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected snapshot error: %v", err)
	}
	if len(snapshot.ArticleViews) != 0 {
		t.Fatalf("expected the public read not to record views, got %+v", snapshot.ArticleViews)
	}

	server.do(t, http.MethodPost, "/api/track/article-view", "", map[string]string{"article_id": draft.ID})
	snapshot, err = server.analytics.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected snapshot error: %v", err)
	}
	if len(snapshot.ArticleViews) != 1 || snapshot.ArticleViews[0].ArticleID != draft.ID {
		t.Fatalf("expected one tracked article view, got %+v", snapshot.ArticleViews)
	}
}

func TestArticleValidationErrors(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)

	response := server.do(t, http.MethodPost, "/api/admin/articles", token, map[string]any{"title": "", "content": "[]"})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, response, &body)
	if body.Error != "invalid_input" || body.Fields["title"] != "title_required" || body.Fields["content"] != "content_required" {
		t.Fatalf("unexpected validation body: %+v", body)
	}

	missing := server.do(t, http.MethodDelete, "/api/admin/articles/does-not-exist", token, nil)
	if missing.Code != http.StatusNotFound || errorCode(t, missing) != "not_found" {
		t.Fatalf("expected not_found, got %d: %s", missing.Code, missing.Body.String())
	}
}

func TestDocumentBlockOperations(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)
	article := createArticle(t, server, token, true)
	base := "/api/admin/documents/article/" + article.ID

	added := server.do(t, http.MethodPost, base+"/blocks", token, map[string]string{"type": "heading"})
	if added.Code != http.StatusCreated {
		t.Fatalf("expected block to be added, got %d: %s", added.Code, added.Body.String())
	}
	var addedBody struct {
		Block struct {
			ID    string  `json:"id"`
			Type  string  `json:"type"`
			Order float64 `json:"order"`
		} `json:"block"`
	}
	decodeBody(t, added, &addedBody)
	if addedBody.Block.Type != "heading" || addedBody.Block.Order != 1 {
		t.Fatalf("unexpected added block: %+v", addedBody.Block)
	}
	headingID := addedBody.Block.ID

	updated := server.do(t, http.MethodPut, base+"/blocks/"+headingID, token, map[string]any{
		"content": map[string]any{"text": "Overview", "level": 2},
	})
	if updated.Code != http.StatusOK {
		t.Fatalf("expected block update to succeed, got %d: %s", updated.Code, updated.Body.String())
	}

	moved := server.do(t, http.MethodPost, base+"/blocks/"+headingID+"/move", token, map[string]string{"direction": "up"})
	if moved.Code != http.StatusOK {
		t.Fatalf("expected move to succeed, got %d: %s", moved.Code, moved.Body.String())
	}

	outline := server.do(t, http.MethodGet, base+"/outline?collapsed="+headingID, token, nil)
	var outlineBody struct {
		Items []outlineItem `json:"items"`
	}
	decodeBody(t, outline, &outlineBody)
	if len(outlineBody.Items) != 2 {
		t.Fatalf("expected two outline items, got %+v", outlineBody.Items)
	}
	first := outlineBody.Items[0]
	if first.ID != headingID || first.Preview != "見出し: Overview" || !first.Collapsed {
		t.Fatalf("expected the moved heading first and collapsed, got %+v", first)
	}

	duplicated := server.do(t, http.MethodPost, base+"/blocks/"+headingID+"/duplicate", token, nil)
	if duplicated.Code != http.StatusCreated {
		t.Fatalf("expected duplicate to succeed, got %d", duplicated.Code)
	}

	document := server.do(t, http.MethodGet, base, token, nil)
	var payload struct {
		Blocks []map[string]any `json:"blocks"`
		HTML   string           `json:"html"`
	}
	decodeBody(t, document, &payload)
	if len(payload.Blocks) != 3 {
		t.Fatalf("expected three blocks after duplicate, got %d", len(payload.Blocks))
	}
	if !strings.Contains(payload.HTML, "Overview") {
		t.Fatalf("expected rendered html to include the heading, got %s", payload.HTML)
	}

	if response := server.do(t, http.MethodPost, base+"/blocks", token, map[string]string{"type": "carousel"}); errorCode(t, response) != "unknown_block_type" {
		t.Fatalf("expected unknown_block_type, got %s", response.Body.String())
	}
	if response := server.do(t, http.MethodDelete, base+"/blocks/missing", token, nil); response.Code != http.StatusNotFound || errorCode(t, response) != "block_not_found" {
		t.Fatalf("expected block_not_found, got %d: %s", response.Code, response.Body.String())
	}
	if response := server.do(t, http.MethodPost, base+"/blocks/"+headingID+"/move", token, map[string]string{"direction": "sideways"}); errorCode(t, response) != "invalid_direction" {
		t.Fatalf("expected invalid_direction, got %s", response.Body.String())
	}
	if response := server.do(t, http.MethodGet, "/api/admin/documents/widget/1", token, nil); response.Code != http.StatusNotFound || errorCode(t, response) != "unknown_document" {
		t.Fatalf("expected unknown_document, got %d: %s", response.Code, response.Body.String())
	}
}

func TestDeletingLastArticleBlockIsRejected(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)
	article := createArticle(t, server, token, true)

	response := server.do(t, http.MethodDelete, "/api/admin/documents/article/"+article.ID+"/blocks/b-1", token, nil)
	if response.Code != http.StatusBadRequest || errorCode(t, response) != "invalid_input" {
		t.Fatalf("expected invalid_input, got %d: %s", response.Code, response.Body.String())
	}
	stored, err := server.store.GetArticle(context.Background(), article.ID, content.VisibilityAdmin)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if stored.Content != article.Content {
		t.Fatalf("expected the stored document to be unchanged")
	}
}

func TestPolicyPageDocument(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)

	empty := server.do(t, http.MethodGet, "/api/pages/privacy-policy", "", nil)
	if empty.Code != http.StatusOK {
		t.Fatalf("expected empty policy page, got %d", empty.Code)
	}

	replaced := server.do(t, http.MethodPut, "/api/admin/documents/setting/privacy_policy", token, map[string]json.RawMessage{
		"blocks": json.RawMessage(`[{"id":"p-1","type":"paragraph","content":{"text":"We keep logs for 30 days."},"order":0}]`),
	})
	if replaced.Code != http.StatusOK {
		t.Fatalf("expected replace to succeed, got %d: %s", replaced.Code, replaced.Body.String())
	}

	page := server.do(t, http.MethodGet, "/api/pages/privacy-policy", "", nil)
	var payload documentPayload
	decodeBody(t, page, &payload)
	if !strings.Contains(payload.HTML, "We keep logs for 30 days.") {
		t.Fatalf("expected the saved policy, got %s", payload.HTML)
	}

	invalid := server.do(t, http.MethodPut, "/api/admin/documents/setting/privacy_policy", token, map[string]string{"blocks": "plain"})
	if invalid.Code != http.StatusBadRequest || errorCode(t, invalid) != "invalid_document" {
		t.Fatalf("expected invalid_document, got %d: %s", invalid.Code, invalid.Body.String())
	}
	if response := server.do(t, http.MethodGet, "/api/pages/cookies", "", nil); response.Code != http.StatusNotFound {
		t.Fatalf("expected unknown page to 404, got %d", response.Code)
	}
}

func TestDocumentEditsPublishChanges(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)
	article := createArticle(t, server, token, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, cleanup := server.changes.Subscribe(ctx, "article/"+article.ID)
	defer cleanup()

	if response := server.do(t, http.MethodPost, "/api/admin/documents/article/"+article.ID+"/blocks", token, map[string]string{"type": "separator"}); response.Code != http.StatusCreated {
		t.Fatalf("expected block to be added, got %d", response.Code)
	}

	select {
	case event := <-events:
		if event.Action != "document_edited" {
			t.Fatalf("unexpected change action %q", event.Action)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a change event for the edited article")
	}
}

func TestUploadEndpoints(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)
	article := createArticle(t, server, token, true)

	upload := func(path, filename string, data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("failed to close multipart writer: %v", err)
		}
		request := httptest.NewRequest(http.MethodPost, path, &body)
		request.Header.Set("Content-Type", writer.FormDataContentType())
		request.Header.Set("Authorization", "Bearer "+token)
		recorder := httptest.NewRecorder()
		server.handler.ServeHTTP(recorder, request)
		return recorder
	}

	plain := upload("/api/admin/uploads", "logo.png", []byte("\x89PNG\r\n\x1a\nrest"))
	if plain.Code != http.StatusCreated {
		t.Fatalf("expected upload to succeed, got %d: %s", plain.Code, plain.Body.String())
	}
	var uploaded struct {
		URL string `json:"url"`
	}
	decodeBody(t, plain, &uploaded)
	if !strings.HasPrefix(uploaded.URL, "/uploads/") || !strings.HasSuffix(uploaded.URL, ".png") {
		t.Fatalf("unexpected upload url %q", uploaded.URL)
	}
	served := server.do(t, http.MethodGet, uploaded.URL, "", nil)
	if served.Code != http.StatusOK {
		t.Fatalf("expected uploaded file to be served, got %d", served.Code)
	}

	if response := upload("/api/admin/uploads", "empty.png", nil); errorCode(t, response) != "empty_file" {
		t.Fatalf("expected empty_file, got %s", response.Body.String())
	}

	added := server.do(t, http.MethodPost, "/api/admin/documents/article/"+article.ID+"/blocks", token, map[string]string{"type": "image"})
	var addedBody struct {
		Block struct {
			ID string `json:"id"`
		} `json:"block"`
	}
	decodeBody(t, added, &addedBody)

	attached := upload("/api/admin/documents/article/"+article.ID+"/blocks/"+addedBody.Block.ID+"/upload?slot=image", "photo.jpg", []byte("jpeg-bytes"))
	if attached.Code != http.StatusOK {
		t.Fatalf("expected block upload to succeed, got %d: %s", attached.Code, attached.Body.String())
	}
	var attachedBody struct {
		Block struct {
			Content struct {
				URL string `json:"url"`
			} `json:"content"`
		} `json:"block"`
	}
	decodeBody(t, attached, &attachedBody)
	if !strings.HasSuffix(attachedBody.Block.Content.URL, ".jpg") {
		t.Fatalf("expected the image block to reference the upload, got %q", attachedBody.Block.Content.URL)
	}

	wrongSlot := upload("/api/admin/documents/article/"+article.ID+"/blocks/b-1/upload?slot=image", "photo.jpg", []byte("jpeg-bytes"))
	if errorCode(t, wrongSlot) != "unsupported_slot" {
		t.Fatalf("expected unsupported_slot, got %s", wrongSlot.Body.String())
	}
}

func TestTrackingEndpointsAlwaysAccept(t *testing.T) {
	server := newTestServer(t)

	for _, request := range []struct {
		path string
		body any
	}{
		{path: "/api/track/page-view", body: map[string]string{"path": "/faq"}},
		{path: "/api/track/article-view", body: map[string]string{"article_id": ""}},
		{path: "/api/track/link-click", body: map[string]string{"link_url": "https://example.com"}},
	} {
		response := server.do(t, http.MethodPost, request.path, "", request.body)
		if response.Code != http.StatusNoContent {
			t.Fatalf("expected 204 from %s, got %d", request.path, response.Code)
		}
	}

	snapshot, err := server.analytics.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected snapshot error: %v", err)
	}
	if len(snapshot.PageViews) != 1 || len(snapshot.ArticleViews) != 0 || len(snapshot.LinkClicks) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestTrackingIsRateLimitedPerClient(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	server := newTestServer(t, func(deps *Dependencies) {
		deps.TrackingRate = rate.Limit(0.001)
		deps.TrackingBurst = 1
		deps.Clock = func() time.Time { return fixed }
	})

	first := server.do(t, http.MethodPost, "/api/track/page-view", "", map[string]string{"path": "/"})
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected first event to be accepted, got %d", first.Code)
	}
	second := server.do(t, http.MethodPost, "/api/track/page-view", "", map[string]string{"path": "/"})
	if second.Code != http.StatusTooManyRequests || errorCode(t, second) != "rate_limited" {
		t.Fatalf("expected rate_limited, got %d: %s", second.Code, second.Body.String())
	}

	redirect := server.do(t, http.MethodGet, server.outboundPath("https://example.com", ""), "", nil)
	if redirect.Code != http.StatusFound {
		t.Fatalf("expected rate limited clients to still be redirected, got %d", redirect.Code)
	}
	snapshot, err := server.analytics.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected snapshot error: %v", err)
	}
	if len(snapshot.LinkClicks) != 0 {
		t.Fatalf("expected the limited click not to be recorded, got %d", len(snapshot.LinkClicks))
	}
}

func TestOutboundLinkRedirectsAndRecords(t *testing.T) {
	server := newTestServer(t)

	target := "https://docs.example.com/setup?step=2"
	response := server.do(t, http.MethodGet, server.outboundPath(target, "block_id=b-1&article_id=a-1"), "", nil)
	if response.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", response.Code)
	}
	if location := response.Header().Get("Location"); location != target {
		t.Fatalf("unexpected redirect location %q", location)
	}

	for _, invalid := range []string{"", "javascript:alert(1)", "/relative", "https://"} {
		rejected := server.do(t, http.MethodGet, TrackingPath+"?url="+url.QueryEscape(invalid), "", nil)
		if rejected.Code != http.StatusBadRequest {
			t.Fatalf("expected %q to be rejected, got %d", invalid, rejected.Code)
		}
	}

	for _, forged := range []string{
		TrackingPath + "?url=" + url.QueryEscape("https://evil.example.com"),
		TrackingPath + "?url=" + url.QueryEscape("https://evil.example.com") + "&sig=" + url.QueryEscape(server.links.Sign(target)),
	} {
		rejected := server.do(t, http.MethodGet, forged, "", nil)
		if rejected.Code != http.StatusBadRequest || errorCode(t, rejected) != "invalid_signature" {
			t.Fatalf("expected unsigned redirect to be rejected, got %d: %s", rejected.Code, rejected.Body.String())
		}
	}

	snapshot, err := server.analytics.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected snapshot error: %v", err)
	}
	if len(snapshot.LinkClicks) != 1 {
		t.Fatalf("expected one recorded click, got %d", len(snapshot.LinkClicks))
	}
	click := snapshot.LinkClicks[0]
	if click.LinkURL != target || click.BlockID == nil || *click.BlockID != "b-1" || click.ArticleID == nil || *click.ArticleID != "a-1" {
		t.Fatalf("unexpected click row: %+v", click)
	}
}

func TestAnalyticsReportEndpoint(t *testing.T) {
	server := newTestServer(t)
	token := server.login(t)
	article := createArticle(t, server, token, true)

	server.do(t, http.MethodGet, "/api/articles/"+article.ID, "", nil)
	server.do(t, http.MethodPost, "/api/track/article-view", "", map[string]string{"article_id": article.ID})
	server.do(t, http.MethodPost, "/api/track/article-view", "", map[string]string{"article_id": article.ID})
	server.do(t, http.MethodPost, "/api/track/page-view", "", map[string]string{"path": "/article/" + article.ID})
	server.do(t, http.MethodPost, "/api/track/page-view", "", map[string]string{"path": "/admin"})

	response := server.do(t, http.MethodGet, "/api/admin/analytics?category=all&page=1", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected analytics report, got %d: %s", response.Code, response.Body.String())
	}
	var report analyticsResponse
	decodeBody(t, response, &report)
	if report.Totals.ArticleViews != 2 || report.Totals.PageViews != 1 {
		t.Fatalf("unexpected totals: %+v", report.Totals)
	}
	if len(report.Articles.Items) != 1 || report.Articles.Items[0].ArticleID != article.ID || report.Articles.Items[0].Count != 2 {
		t.Fatalf("unexpected article ranking: %+v", report.Articles)
	}
	if len(report.Pages) != 1 || report.Pages[0].DisplayName != article.Title {
		t.Fatalf("expected the article page to be labeled with its title, got %+v", report.Pages)
	}

	if response := server.do(t, http.MethodGet, "/api/admin/analytics", "", nil); response.Code != http.StatusUnauthorized {
		t.Fatalf("expected analytics to require a session, got %d", response.Code)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	server := newTestServer(t)

	if response := server.do(t, http.MethodGet, "/healthz", "", nil); response.Code != http.StatusOK {
		t.Fatalf("expected healthz to return 200, got %d", response.Code)
	}
	server.do(t, http.MethodGet, "/api/categories", "", nil)
	response := server.do(t, http.MethodGet, "/metrics", "", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected metrics to return 200, got %d", response.Code)
	}
	if !strings.Contains(response.Body.String(), `route="/api/categories"`) {
		t.Fatalf("expected request metrics labeled by route, got %s", response.Body.String())
	}
	if response.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a request id header")
	}
}

type codedFailure struct{}

func (codedFailure) Error() string { return "boom" }
func (codedFailure) Code() string  { return "content.list_articles.query_failed" }

func TestRespondErrorExposesServiceCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/articles", http.NoBody)

	handler := &httpHandler{logger: zap.NewNop()}
	handler.respondError(ctx, fmt.Errorf("wrapped: %w", codedFailure{}), "list_articles_failed")

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	expected := `{"code":"content.list_articles.query_failed","error":"list_articles_failed"}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}
