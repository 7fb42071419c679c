package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
)

const opSaveDocument = "content.save_document"

// DocumentKind names the entity whose field holds a block document.
type DocumentKind string

const (
	DocumentArticle DocumentKind = "article"
	DocumentSetting DocumentKind = "setting"
)

// ErrUnknownDocument is returned for document kinds or setting keys that do not hold blocks.
var ErrUnknownDocument = errors.New("content: unknown document")

var documentSettings = map[string]struct{}{
	SettingPrivacyPolicy:  {},
	SettingTermsOfService: {},
}

// ParseDocumentKind validates a raw document kind.
func ParseDocumentKind(raw string) (DocumentKind, error) {
	switch kind := DocumentKind(strings.TrimSpace(raw)); kind {
	case DocumentArticle, DocumentSetting:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: kind %q", ErrUnknownDocument, raw)
	}
}

// LoadDocument reads the block document stored for an article body or a
// policy setting. A setting that was never saved is an empty document.
func (s *Store) LoadDocument(ctx context.Context, kind DocumentKind, key string, visibility Visibility) ([]blocks.Block, error) {
	switch kind {
	case DocumentArticle:
		article, err := s.GetArticle(ctx, key, visibility)
		if err != nil {
			return nil, err
		}
		return decodeStored(article.Content), nil
	case DocumentSetting:
		if _, ok := documentSettings[key]; !ok {
			return nil, fmt.Errorf("%w: setting %q", ErrUnknownDocument, key)
		}
		setting, err := s.GetSetting(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return []blocks.Block{}, nil
		}
		if err != nil {
			return nil, err
		}
		return decodeStored(setting.Value), nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownDocument, kind)
	}
}

// SaveDocument encodes a block document and writes it back to its owner.
func (s *Store) SaveDocument(ctx context.Context, kind DocumentKind, key string, document []blocks.Block) error {
	encoded, err := blocks.Encode(document)
	if err != nil {
		s.logError(opSaveDocument, "encode_failed", err, zap.String("kind", string(kind)), zap.String("key", key))
		return newServiceError(opSaveDocument, "encode_failed", err)
	}
	switch kind {
	case DocumentArticle:
		article, err := s.GetArticle(ctx, key, VisibilityAdmin)
		if err != nil {
			return err
		}
		article.Content = encoded
		_, err = s.SaveArticle(ctx, article)
		return err
	case DocumentSetting:
		if _, ok := documentSettings[key]; !ok {
			return fmt.Errorf("%w: setting %q", ErrUnknownDocument, key)
		}
		_, err := s.SaveSetting(ctx, key, encoded)
		return err
	default:
		return fmt.Errorf("%w: kind %q", ErrUnknownDocument, kind)
	}
}

// decodeStored decodes a content column. Blank columns hold no blocks rather
// than one empty legacy paragraph.
func decodeStored(raw string) []blocks.Block {
	if strings.TrimSpace(raw) == "" {
		return []blocks.Block{}
	}
	return blocks.Decode(raw)
}

// DecodeArticle returns the block document of an article.
func DecodeArticle(article Article) []blocks.Block {
	return decodeStored(article.Content)
}
