package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
)

var fixedClock = func() time.Time { return time.UnixMilli(1700000000123) }

var objectNamePattern = regexp.MustCompile(`^1700000000123_[0-9a-f-]{36}\.png$`)

type recordingPutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (p *recordingPutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(params.Body)
	p.inputs = append(p.inputs, params)
	p.bodies = append(p.bodies, body)
	if p.err != nil {
		return nil, p.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestLocalUploaderWritesNamedFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	uploader, err := NewLocalUploader(LocalConfig{Root: root, PublicBaseURL: "/uploads/", Clock: fixedClock})
	require.NoError(t, err)

	publicURL, err := uploader.Upload(context.Background(), blocks.Upload{Filename: "Screen Shot.PNG", Body: strings.NewReader("png-bytes")})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(publicURL, "/uploads/"))
	name := strings.TrimPrefix(publicURL, "/uploads/")
	assert.Regexp(t, objectNamePattern, name)
	stored, err := os.ReadFile(filepath.Join(root, name))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(stored))
}

func TestLocalUploaderRejectsEmptyFiles(t *testing.T) {
	root := t.TempDir()
	uploader, err := NewLocalUploader(LocalConfig{Root: root, Clock: fixedClock})
	require.NoError(t, err)

	_, err = uploader.Upload(context.Background(), blocks.Upload{Filename: "empty.png", Body: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrEmptyFile)
	_, err = uploader.Upload(context.Background(), blocks.Upload{Filename: "nil.png"})
	assert.ErrorIs(t, err, ErrEmptyFile)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalUploaderRequiresRoot(t *testing.T) {
	_, err := NewLocalUploader(LocalConfig{})
	assert.Error(t, err)
}

func TestS3UploaderPutsObjectUnderPrefix(t *testing.T) {
	putter := &recordingPutter{}
	uploader, err := NewS3Uploader(S3Config{
		Client:        putter,
		Bucket:        "help-assets",
		Prefix:        "/uploads/",
		PublicBaseURL: "https://cdn.example.com/",
		Clock:         fixedClock,
	})
	require.NoError(t, err)

	publicURL, err := uploader.Upload(context.Background(), blocks.Upload{Filename: "diagram.png", Body: strings.NewReader("\x89PNG\r\n\x1a\n")})
	require.NoError(t, err)

	require.Len(t, putter.inputs, 1)
	input := putter.inputs[0]
	assert.Equal(t, "help-assets", *input.Bucket)
	assert.True(t, strings.HasPrefix(*input.Key, "uploads/"))
	assert.Regexp(t, objectNamePattern, strings.TrimPrefix(*input.Key, "uploads/"))
	assert.Equal(t, "image/png", *input.ContentType)
	assert.Equal(t, int64(8), *input.ContentLength)
	assert.Equal(t, "https://cdn.example.com/"+*input.Key, publicURL)
}

func TestS3UploaderFailures(t *testing.T) {
	putter := &recordingPutter{err: errors.New("access denied")}
	uploader, err := NewS3Uploader(S3Config{Client: putter, Bucket: "b", PublicBaseURL: "https://cdn", Clock: fixedClock})
	require.NoError(t, err)

	_, err = uploader.Upload(context.Background(), blocks.Upload{Filename: "a.txt", Body: strings.NewReader("x")})
	assert.ErrorContains(t, err, "access denied")

	_, err = uploader.Upload(context.Background(), blocks.Upload{Filename: "a.txt", Body: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrEmptyFile)
	assert.Len(t, putter.inputs, 1)

	_, err = NewS3Uploader(S3Config{Client: putter})
	assert.Error(t, err)
}

func TestContentTypeFallbacks(t *testing.T) {
	assert.Equal(t, "image/webp", contentType("image/webp", "a.bin", nil))
	assert.Equal(t, "image/jpeg", contentType("", "photo.JPG", nil))
	assert.Equal(t, "image/png", contentType("application/octet-stream", "noext", []byte("\x89PNG\r\n\x1a\n")))
}

func TestExtensionRejectsOddSuffixes(t *testing.T) {
	assert.Equal(t, ".png", extension("a.PNG"))
	assert.Equal(t, "", extension("archive"))
	assert.Equal(t, "", extension("evil.p;hp"))
	assert.Equal(t, "", extension("trailing."))
}
