package analytics

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-storefront/pkg/media"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ArchiveConfig locates the raw event archive.
type ArchiveConfig struct {
	BucketName   string `yaml:"bucket_name"`
	ObjectPrefix string `yaml:"object_prefix"`
}

// GCSArchiver keeps every ingested event as gzipped JSON lines in Cloud
// Storage, one object per day per batch, for replay into the warehouse.
type GCSArchiver struct {
	bucket media.GCSBucketHandle
	prefix string
	logger zerolog.Logger
}

var _ EventInserter = (*GCSArchiver)(nil)

// NewGCSArchiver creates an archiver writing to cfg.BucketName.
func NewGCSArchiver(client media.GCSClient, cfg ArchiveConfig, logger zerolog.Logger) (*GCSArchiver, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("archive bucket name is required")
	}
	return &GCSArchiver{
		bucket: client.Bucket(cfg.BucketName),
		prefix: cfg.ObjectPrefix,
		logger: logger.With().Str("component", "GCSArchiver").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// InsertEvents groups events by the UTC day they occurred and uploads each
// group in parallel.
func (a *GCSArchiver) InsertEvents(ctx context.Context, events []Event) error {
	groups := make(map[string][]Event)
	for _, e := range events {
		day := e.OccurredAt.UTC().Format("2006/01/02")
		groups[day] = append(groups[day], e)
	}
	days := make([]string, 0, len(groups))
	for day := range groups {
		days = append(days, day)
	}
	sort.Strings(days)

	g, gctx := errgroup.WithContext(ctx)
	for _, day := range days {
		batch := groups[day]
		objectName := path.Join(a.prefix, day, uuid.NewString()+".jsonl.gz")
		g.Go(func() error {
			return a.upload(gctx, objectName, batch)
		})
	}
	return g.Wait()
}

func (a *GCSArchiver) upload(ctx context.Context, objectName string, batch []Event) error {
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := a.bucket.Object(objectName).NewWriter(writeCtx)
	w.SetContentType("application/jsonl")

	pr, pw := io.Pipe()
	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, e := range batch {
			if err = enc.Encode(e); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
		err = gz.Close()
	}()

	written, copyErr := io.Copy(w, pr)
	if copyErr != nil {
		// Unblocks the encoder if it is mid-write.
		_ = pr.CloseWithError(copyErr)
		// Cancelling before Close abandons the object instead of committing it.
		cancel()
		_ = w.Close()
		return fmt.Errorf("failed to stream archive object %s: %w", objectName, copyErr)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive object %s: %w", objectName, err)
	}
	a.logger.Debug().Str("object_name", objectName).Int("record_count", len(batch)).Int64("bytes_written", written).Msg("Archived event batch.")
	return nil
}

// Inserters writes every batch to each inserter in turn. A batch counts as
// inserted only when all of them succeed.
type Inserters []EventInserter

func (m Inserters) InsertEvents(ctx context.Context, events []Event) error {
	var errs []error
	for _, ins := range m {
		if err := ins.InsertEvents(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
