package media

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// GCSClient abstracts the top-level *storage.Client so ImageStore can be
// tested without Cloud Storage.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
	Delete(ctx context.Context) error
}

// GCSWriter abstracts a *storage.Writer. Object metadata must be set before
// the first Write.
type GCSWriter interface {
	io.WriteCloser
	SetContentType(contentType string)
	SetCacheControl(cacheControl string)
}

// NewGCSClientAdapter makes a *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

type gcsClientAdapter struct {
	client *storage.Client
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) GCSWriter {
	return &gcsWriterAdapter{Writer: a.handle.NewWriter(ctx)}
}

func (a *gcsObjectHandleAdapter) Delete(ctx context.Context) error {
	return a.handle.Delete(ctx)
}

type gcsWriterAdapter struct {
	*storage.Writer
}

func (w *gcsWriterAdapter) SetContentType(contentType string) {
	w.Writer.ContentType = contentType
}

func (w *gcsWriterAdapter) SetCacheControl(cacheControl string) {
	w.Writer.CacheControl = cacheControl
}
