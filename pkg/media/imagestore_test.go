package media_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/illmade-knight/go-storefront/pkg/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestImageStore_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("Stores the image and returns its public URL", func(t *testing.T) {
		// Arrange
		client := newMockGCSClient()
		store, err := media.NewImageStore(client, media.GCSConfig{BucketName: "images", ObjectPrefix: "products"}, zerolog.Nop())
		require.NoError(t, err)
		body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{1}, 1024)...)

		// Act
		url, err := store.Upload(ctx, "p1", "image/png; charset=binary", bytes.NewReader(body))

		// Assert
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(url, "https://storage.googleapis.com/images/products/p1/"))
		assert.True(t, strings.HasSuffix(url, ".png"))

		require.Len(t, client.bucket.objects, 1)
		for name, obj := range client.bucket.objects {
			assert.True(t, strings.HasPrefix(name, "products/p1/"))
			assert.Equal(t, body, obj.writer.Bytes())
			assert.Equal(t, "image/png", obj.writer.contentType)
			assert.NotEmpty(t, obj.writer.cacheControl)
			assert.True(t, obj.writer.closed)
		}
	})

	t.Run("Rejects non-image content types", func(t *testing.T) {
		store, err := media.NewImageStore(newMockGCSClient(), media.GCSConfig{BucketName: "images"}, zerolog.Nop())
		require.NoError(t, err)

		_, err = store.Upload(ctx, "p1", "text/html", strings.NewReader("<html>"))

		assert.ErrorIs(t, err, media.ErrUnsupportedImage)
	})

	t.Run("Rejects content that does not match its declared type", func(t *testing.T) {
		client := newMockGCSClient()
		store, err := media.NewImageStore(client, media.GCSConfig{BucketName: "images"}, zerolog.Nop())
		require.NoError(t, err)

		_, err = store.Upload(ctx, "p1", "image/png", strings.NewReader("<html><body>not an image</body></html>"))

		assert.ErrorIs(t, err, media.ErrUnsupportedImage)
		assert.Empty(t, client.bucket.objects)
	})

	t.Run("Aborts oversize uploads", func(t *testing.T) {
		client := newMockGCSClient()
		store, err := media.NewImageStore(client, media.GCSConfig{BucketName: "images", MaxImageBytes: 100}, zerolog.Nop())
		require.NoError(t, err)
		body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{1}, 200)...)

		_, err = store.Upload(ctx, "p1", "image/png", bytes.NewReader(body))

		assert.ErrorIs(t, err, media.ErrImageTooLarge)
		for _, obj := range client.bucket.objects {
			assert.True(t, obj.writer.aborted())
		}
	})
}

func TestImageStore_Delete(t *testing.T) {
	ctx := context.Background()
	client := newMockGCSClient()
	store, err := media.NewImageStore(client, media.GCSConfig{BucketName: "images", PublicBaseURL: "https://cdn.example.com/"}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "https://cdn.example.com/p1/abc.png"))
	require.NoError(t, store.Delete(ctx, "https://elsewhere.example.com/p1/abc.png"))

	require.Len(t, client.bucket.objects, 1)
	assert.True(t, client.bucket.objects["p1/abc.png"].deleted)
}

func TestNewImageStore_Validation(t *testing.T) {
	_, err := media.NewImageStore(nil, media.GCSConfig{BucketName: "b"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = media.NewImageStore(newMockGCSClient(), media.GCSConfig{}, zerolog.Nop())
	assert.Error(t, err)
}
