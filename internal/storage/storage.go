// Package storage persists uploaded files and returns the URL they are served from.
package storage

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DriverLocal = "local"
	DriverS3    = "s3"

	sniffLength = 512
)

var (
	// ErrEmptyFile is returned for uploads without content.
	ErrEmptyFile = errors.New("storage: empty file")

	noOpLogger = zap.NewNop()
)

// objectName builds the stored name of an upload: <unix-ms>_<uuid>.<ext>.
func objectName(now time.Time, filename string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("storage: generate object id: %w", err)
	}
	name := fmt.Sprintf("%d_%s", now.UnixMilli(), id.String())
	if ext := extension(filename); ext != "" {
		name += ext
	}
	return name, nil
}

func extension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// contentType prefers the declared type, then the extension, then sniffed bytes.
func contentType(declared, filename string, head []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExtension := mime.TypeByExtension(extension(filename)); byExtension != "" {
		return byExtension
	}
	return mimetype.Detect(head).String()
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(name, "/")
}
