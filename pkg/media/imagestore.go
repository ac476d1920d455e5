// Package media stores product images in Cloud Storage.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultPublicBaseURL = "https://storage.googleapis.com"
	// DefaultMaxImageBytes bounds an upload.
	DefaultMaxImageBytes = 5 << 20
)

var (
	// ErrUnsupportedImage is returned for content that is not an accepted image type.
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrImageTooLarge is returned when an upload exceeds the size limit.
	ErrImageTooLarge = errors.New("image too large")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// GCSConfig configures the image bucket.
type GCSConfig struct {
	BucketName    string `yaml:"bucket_name"`
	ObjectPrefix  string `yaml:"object_prefix"`
	PublicBaseURL string `yaml:"public_base_url"`
	MaxImageBytes int64  `yaml:"max_image_bytes"`
}

// ImageStore uploads product images and returns their public URLs.
type ImageStore struct {
	bucket  GCSBucketHandle
	cfg     GCSConfig
	baseURL string
	logger  zerolog.Logger
}

// NewImageStore creates an ImageStore.
func NewImageStore(client GCSClient, cfg GCSConfig, logger zerolog.Logger) (*ImageStore, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = defaultPublicBaseURL + "/" + cfg.BucketName
	}
	return &ImageStore{
		bucket:  client.Bucket(cfg.BucketName),
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "ImageStore").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// Upload stores the image read from r under productID and returns its public
// URL. The declared contentType must agree with the sniffed content.
func (s *ImageStore) Upload(ctx context.Context, productID, contentType string, r io.Reader) (string, error) {
	if productID == "" {
		return "", errors.New("product id is required")
	}
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedImage, contentType)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	head = head[:n]
	if sniffed := http.DetectContentType(head); sniffed != contentType {
		return "", fmt.Errorf("%w: declared %s but content is %s", ErrUnsupportedImage, contentType, sniffed)
	}

	objectName := path.Join(s.cfg.ObjectPrefix, productID, uuid.NewString()+ext)
	// Cancelling the writer's context aborts the upload instead of committing it.
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.bucket.Object(objectName).NewWriter(writeCtx)
	w.SetContentType(contentType)
	w.SetCacheControl("public, max-age=86400")

	// One byte past the limit tells an exact-size image apart from an oversize one.
	body := io.MultiReader(bytes.NewReader(head), r)
	written, err := io.Copy(w, io.LimitReader(body, s.cfg.MaxImageBytes+1))
	if err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("failed to write image to %s: %w", objectName, err)
	}
	if written > s.cfg.MaxImageBytes {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("%w: limit is %d bytes", ErrImageTooLarge, s.cfg.MaxImageBytes)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize image %s: %w", objectName, err)
	}

	s.logger.Info().Str("product_id", productID).Str("object_name", objectName).Int64("size_bytes", written).Msg("Image uploaded.")
	return s.baseURL + "/" + objectName, nil
}

// Delete removes an image previously returned by Upload. URLs outside this
// store and already-deleted objects are ignored.
func (s *ImageStore) Delete(ctx context.Context, imageURL string) error {
	objectName, ok := strings.CutPrefix(imageURL, s.baseURL+"/")
	if !ok || objectName == "" {
		return nil
	}
	err := s.bucket.Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete image %s: %w", objectName, err)
	}
	s.logger.Info().Str("object_name", objectName).Msg("Image deleted.")
	return nil
}
