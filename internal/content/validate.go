package content

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
)

const (
	maxTitleLength = 500
	maxNameLength  = 190
)

var slugPattern = regexp.MustCompile(`^[\p{Ll}\p{Lo}\p{N}]+(-[\p{Ll}\p{Lo}\p{N}]+)*$`)

func validateArticle(article *Article) error {
	return asValidationError(validation.ValidateStruct(article,
		validation.Field(&article.Title,
			validation.Required.Error("title_required"),
			validation.RuneLength(0, maxTitleLength).Error("title_too_long"),
		),
		validation.Field(&article.Content,
			validation.Required.Error("content_required"),
			validation.By(nonEmptyDocument),
		),
	))
}

func validateCategory(category *Category) error {
	return asValidationError(validation.ValidateStruct(category,
		validation.Field(&category.Name,
			validation.Required.Error("name_required"),
			validation.RuneLength(0, maxNameLength).Error("name_too_long"),
		),
		validation.Field(&category.Slug,
			validation.Required.Error("slug_required"),
			validation.RuneLength(0, maxNameLength).Error("slug_too_long"),
			validation.Match(slugPattern).Error("invalid_slug_format"),
		),
	))
}

func validateNews(news *News) error {
	return asValidationError(validation.ValidateStruct(news,
		validation.Field(&news.Title,
			validation.Required.Error("title_required"),
			validation.RuneLength(0, maxTitleLength).Error("title_too_long"),
		),
	))
}

// nonEmptyDocument rejects an encoded block document with no blocks.
func nonEmptyDocument(value interface{}) error {
	raw, _ := value.(string)
	if blocks.IsBlockDocument(raw) && len(blocks.Decode(raw)) == 0 {
		return validation.NewError("content_required", "content_required")
	}
	return nil
}

func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	fields := map[string]string{}
	var fieldErrors validation.Errors
	if errors.As(err, &fieldErrors) {
		for field, fieldErr := range fieldErrors {
			fields[field] = fieldErr.Error()
		}
	}
	return &ValidationError{Fields: fields, cause: err}
}

func trimmed(value string) string {
	return strings.TrimSpace(value)
}

func optionalID(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := trimmed(*value)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
