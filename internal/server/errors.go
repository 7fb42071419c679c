package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/storage"
)

type codedError interface {
	Code() string
}

// respondError maps domain errors onto HTTP statuses. Unexpected failures use
// fallback as the error code and expose the service error code when present.
func (h *httpHandler) respondError(c *gin.Context, err error, fallback string) {
	var validation *content.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "fields": validation.Fields})
	case errors.Is(err, content.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, content.ErrUnknownDocument):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_document"})
	case errors.Is(err, blocks.ErrBlockNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "block_not_found"})
	case errors.Is(err, blocks.ErrUnknownBlockType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_block_type"})
	case errors.Is(err, blocks.ErrContentTypeMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_type_mismatch"})
	case errors.Is(err, blocks.ErrUnsupportedSlot):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_slot"})
	case errors.Is(err, blocks.ErrInvalidDirection):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_direction"})
	case errors.Is(err, storage.ErrEmptyFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_file"})
	case errors.Is(err, blocks.ErrUploaderUnavailable):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "uploads_unavailable"})
	default:
		h.logger.Error("request failed", zap.String("request_id", c.GetString(requestIDKey)), zap.String("error_code", fallback), zap.Error(err))
		body := gin.H{"error": fallback}
		var coded codedError
		if errors.As(err, &coded) {
			body["code"] = coded.Code()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}
