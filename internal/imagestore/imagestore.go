// Package imagestore keeps the uploaded report photos.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

var (
	// ErrNotFound is returned by Load for an unknown reference.
	ErrNotFound = errors.New("image not found")
	// ErrUnsupportedFormat is returned by Save for data that is not a decodable image.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// Store persists image bytes and hands back an opaque reference.
type Store interface {
	// Save stores data and returns its reference. suggestedName is informational.
	Save(ctx context.Context, data []byte, suggestedName string) (string, error)
	// Load returns the bytes behind ref, or an error wrapping ErrNotFound.
	Load(ctx context.Context, ref string) ([]byte, error)
	// Delete removes ref. Missing references are not an error.
	Delete(ctx context.Context, ref string) error
}

var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Sniff decodes the image header and returns the format name ("jpeg", "png",
// "gif" or "webp") and its MIME type.
func Sniff(data []byte) (format, contentType string, err error) {
	_, format, err = image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	ct, ok := contentTypes[format]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return format, ct, nil
}

// ContentTypeOf returns the MIME type of a reference produced by NewRef.
func ContentTypeOf(ref string) string {
	ext := strings.TrimPrefix(path.Ext(ref), ".")
	if ext == "jpg" {
		ext = "jpeg"
	}
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// NewRef builds a fresh reference of the form YYYY/MM/DD/<uuid>.<ext>.
func NewRef(now time.Time, format string) string {
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	return fmt.Sprintf("%04d/%02d/%02d/%s.%s", now.Year(), now.Month(), now.Day(), uuid.NewString(), ext)
}

// validRef rejects references that could escape the store root.
func validRef(ref string) error {
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, "..") || strings.Contains(ref, "\\") {
		return fmt.Errorf("%w: invalid reference %q", ErrNotFound, ref)
	}
	return nil
}
