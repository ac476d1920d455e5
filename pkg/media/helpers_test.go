package media_test

import (
	"bytes"
	"context"
	"sync"

	"github.com/illmade-knight/go-storefront/pkg/media"
)

// mockGCSWriter is a GCSWriter that writes to an in-memory buffer.
type mockGCSWriter struct {
	bytes.Buffer
	contentType  string
	cacheControl string
	ctx          context.Context
	closed       bool
}

func (m *mockGCSWriter) Close() error {
	m.closed = true
	return nil
}

func (m *mockGCSWriter) SetContentType(ct string)  { m.contentType = ct }
func (m *mockGCSWriter) SetCacheControl(cc string) { m.cacheControl = cc }

// aborted reports whether the upload was abandoned before Close.
func (m *mockGCSWriter) aborted() bool {
	return m.ctx.Err() != nil
}

type mockGCSObjectHandle struct {
	writer  *mockGCSWriter
	deleted bool
}

func (m *mockGCSObjectHandle) NewWriter(ctx context.Context) media.GCSWriter {
	m.writer = &mockGCSWriter{ctx: ctx}
	return m.writer
}

func (m *mockGCSObjectHandle) Delete(context.Context) error {
	m.deleted = true
	return nil
}

// mockGCSBucketHandle stores created objects in a map.
type mockGCSBucketHandle struct {
	mu      sync.Mutex
	objects map[string]*mockGCSObjectHandle
}

func (m *mockGCSBucketHandle) Object(name string) media.GCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{}
	}
	return m.objects[name]
}

type mockGCSClient struct {
	bucket *mockGCSBucketHandle
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{}}
}

func (m *mockGCSClient) Bucket(string) media.GCSBucketHandle {
	return m.bucket
}
