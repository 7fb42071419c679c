package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
)

type documentRef struct {
	kind content.DocumentKind
	key  string
}

func (r documentRef) articleID() string {
	if r.kind == content.DocumentArticle {
		return r.key
	}
	return ""
}

type replaceDocumentRequest struct {
	Blocks json.RawMessage `json:"blocks"`
}

type addBlockRequest struct {
	Type string `json:"type"`
}

type updateBlockRequest struct {
	Content json.RawMessage `json:"content"`
}

type moveBlockRequest struct {
	Direction string `json:"direction"`
}

type blockResponse struct {
	Block    json.RawMessage `json:"block,omitempty"`
	Document documentPayload `json:"document"`
}

type outlineItem struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Order     float64 `json:"order"`
	Preview   string  `json:"preview"`
	Collapsed bool    `json:"collapsed"`
}

func (h *httpHandler) documentRef(c *gin.Context) (documentRef, bool) {
	kind, err := content.ParseDocumentKind(c.Param("kind"))
	if err != nil {
		h.respondError(c, err, "invalid_document")
		return documentRef{}, false
	}
	return documentRef{kind: kind, key: c.Param("key")}, true
}

func (h *httpHandler) openEditor(ctx context.Context, ref documentRef) (*blocks.Editor, error) {
	document, err := h.content.LoadDocument(ctx, ref.kind, ref.key, content.VisibilityAdmin)
	if err != nil {
		return nil, err
	}
	return blocks.NewEditor(document, blocks.EditorConfig{
		IDs:      h.content.IDProvider().NewID,
		Uploader: h.uploader,
	})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	ref, ok := h.documentRef(c)
	if !ok {
		return
	}
	document, err := h.content.LoadDocument(c.Request.Context(), ref.kind, ref.key, content.VisibilityAdmin)
	if err != nil {
		h.respondError(c, err, "load_document_failed")
		return
	}
	payload, err := h.documentPayload(document, ref.articleID())
	if err != nil {
		h.respondError(c, err, "load_document_failed")
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleReplaceDocument(c *gin.Context) {
	ref, ok := h.documentRef(c)
	if !ok {
		return
	}
	var request replaceDocumentRequest
	if err := c.ShouldBindJSON(&request); err != nil || !blocks.IsBlockDocument(string(request.Blocks)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document"})
		return
	}
	document := blocks.Decode(string(request.Blocks))
	if err := h.content.SaveDocument(c.Request.Context(), ref.kind, ref.key, document); err != nil {
		h.respondError(c, err, "save_document_failed")
		return
	}
	h.publishChange(string(ref.kind), ref.key, "document_replaced")
	payload, err := h.documentPayload(document, ref.articleID())
	if err != nil {
		h.respondError(c, err, "save_document_failed")
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleDocumentOutline(c *gin.Context) {
	ref, ok := h.documentRef(c)
	if !ok {
		return
	}
	editor, err := h.openEditor(c.Request.Context(), ref)
	if err != nil {
		h.respondError(c, err, "load_document_failed")
		return
	}
	for _, id := range strings.Split(c.Query("collapsed"), ",") {
		if id = strings.TrimSpace(id); id != "" && !editor.IsCollapsed(id) {
			_, _ = editor.ToggleCollapse(id)
		}
	}
	document := blocks.Sorted(editor.Document())
	items := make([]outlineItem, 0, len(document))
	for _, block := range document {
		items = append(items, outlineItem{
			ID:        block.ID,
			Type:      string(block.Type()),
			Order:     block.Order,
			Preview:   blocks.Preview(block),
			Collapsed: editor.IsCollapsed(block.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *httpHandler) handleAddBlock(c *gin.Context) {
	var request addBlockRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.editDocument(c, http.StatusCreated, func(ctx context.Context, editor *blocks.Editor) (*blocks.Block, error) {
		blockType, err := blocks.ParseBlockType(strings.TrimSpace(request.Type))
		if err != nil {
			return nil, err
		}
		block, err := editor.Add(blockType)
		return &block, err
	})
}

func (h *httpHandler) handleUpdateBlock(c *gin.Context) {
	var request updateBlockRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Content) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	blockID := c.Param("blockId")
	h.editDocument(c, http.StatusOK, func(ctx context.Context, editor *blocks.Editor) (*blocks.Block, error) {
		existing, err := findBlock(editor, blockID)
		if err != nil {
			return nil, err
		}
		replacement, err := blocks.DecodeContent(existing.Type(), request.Content)
		if err != nil {
			return nil, err
		}
		block, err := editor.Update(blockID, replacement)
		return &block, err
	})
}

func (h *httpHandler) handleDeleteBlock(c *gin.Context) {
	blockID := c.Param("blockId")
	h.editDocument(c, http.StatusOK, func(ctx context.Context, editor *blocks.Editor) (*blocks.Block, error) {
		return nil, editor.Delete(blockID)
	})
}

func (h *httpHandler) handleDuplicateBlock(c *gin.Context) {
	blockID := c.Param("blockId")
	h.editDocument(c, http.StatusCreated, func(ctx context.Context, editor *blocks.Editor) (*blocks.Block, error) {
		block, err := editor.Duplicate(blockID)
		return &block, err
	})
}

func (h *httpHandler) handleMoveBlock(c *gin.Context) {
	var request moveBlockRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	blockID := c.Param("blockId")
	h.editDocument(c, http.StatusOK, func(ctx context.Context, editor *blocks.Editor) (*blocks.Block, error) {
		if err := editor.Move(blockID, blocks.Direction(request.Direction)); err != nil {
			return nil, err
		}
		block, err := findBlock(editor, blockID)
		return &block, err
	})
}

func (h *httpHandler) handleUploadToBlock(c *gin.Context) {
	upload, cleanup, ok := h.readUpload(c)
	if !ok {
		return
	}
	defer cleanup()
	blockID := c.Param("blockId")
	slot := blocks.UploadSlot(c.Query("slot"))
	h.editDocument(c, http.StatusOK, func(ctx context.Context, editor *blocks.Editor) (*blocks.Block, error) {
		block, err := editor.AttachUpload(ctx, blockID, slot, upload)
		return &block, err
	})
}

// editDocument loads a document, applies one editor operation and saves the
// result. Nothing is written when the operation fails.
func (h *httpHandler) editDocument(c *gin.Context, status int, apply func(context.Context, *blocks.Editor) (*blocks.Block, error)) {
	ref, ok := h.documentRef(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	editor, err := h.openEditor(ctx, ref)
	if err != nil {
		h.respondError(c, err, "load_document_failed")
		return
	}
	block, err := apply(ctx, editor)
	if err != nil {
		h.respondError(c, err, "edit_document_failed")
		return
	}
	document := editor.Document()
	if err := h.content.SaveDocument(ctx, ref.kind, ref.key, document); err != nil {
		h.respondError(c, err, "save_document_failed")
		return
	}
	h.publishChange(string(ref.kind), ref.key, "document_edited")
	payload, err := h.documentPayload(document, ref.articleID())
	if err != nil {
		h.respondError(c, err, "save_document_failed")
		return
	}
	response := blockResponse{Document: payload}
	if block != nil {
		encoded, err := blocks.Encode([]blocks.Block{*block})
		if err != nil {
			h.respondError(c, err, "save_document_failed")
			return
		}
		var single []json.RawMessage
		if err := json.Unmarshal([]byte(encoded), &single); err == nil && len(single) == 1 {
			response.Block = single[0]
		}
	}
	c.JSON(status, response)
}

func findBlock(editor *blocks.Editor, id string) (blocks.Block, error) {
	for _, block := range editor.Document() {
		if block.ID == id {
			return block, nil
		}
	}
	return blocks.Block{}, blocks.ErrBlockNotFound
}
