// Package gcs uploads every page as one newline-delimited JSON object,
// partitioned by table and load date.
package gcs

import (
	"bytes"
	"context"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
	"github.com/ajitpratap0/tidemark/pkg/logger"
)

// DestinationName is the registry name of the GCS sink.
const DestinationName = "gcs"

const uploadTimeout = 5 * time.Minute

// Sink writes objects to one bucket.
type Sink struct {
	client   *storage.Client
	bucket   *storage.BucketHandle
	prefix   string
	compress bool
	now      func() time.Time
	logger   *zap.Logger
}

// NewSink creates a storage client with application default credentials
// (STORAGE_EMULATOR_HOST is honoured) and checks the bucket is reachable.
func NewSink(ctx context.Context, bucket, prefix string, compress bool, opts ...option.ClientOption) (*Sink, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create storage client")
	}

	handle := client.Bucket(bucket)
	if _, err := handle.Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to access GCS bucket "+bucket)
	}

	log := logger.Get().With(zap.String("component", "gcs_sink"))
	log.Info("GCS bucket access verified", zap.String("bucket", bucket))

	return &Sink{
		client:   client,
		bucket:   handle,
		prefix:   prefix,
		compress: compress,
		now:      time.Now,
		logger:   log,
	}, nil
}

// ObjectName returns <prefix>/<table>/dt=<YYYY-MM-DD>/<id>.jsonl[.gz].
func ObjectName(prefix, table string, at time.Time, id string, compress bool) string {
	name := id + ".jsonl"
	if compress {
		name += ".gz"
	}
	return path.Join(prefix, table, "dt="+at.UTC().Format("2006-01-02"), name)
}

// Encode renders page as tagged JSON lines, gzip compressed if requested.
func Encode(stream *core.Stream, page core.Page, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(&buf)
		w = gz
	}

	for _, row := range page.Rows {
		tagged, err := stream.Tag(row)
		if err != nil {
			return nil, err
		}
		line, err := jsonpkg.MarshalLine(tagged)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode row")
		}
		if _, err := w.Write(line); err != nil {
			return nil, err
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Write uploads page as a new object.
func (s *Sink) Write(ctx context.Context, stream *core.Stream, page core.Page) error {
	body, err := Encode(stream, page, s.compress)
	if err != nil {
		return err
	}

	name := ObjectName(s.prefix, stream.TableName(), s.now(), uuid.NewString(), s.compress)
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.Metadata = map[string]string{
		"stream":     stream.Name,
		"write_mode": string(stream.WriteMode),
		"tenant":     page.Tenant,
		"period":     page.Period,
		"file_id":    page.FileID,
	}

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to upload "+name)
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to finalize "+name)
	}

	s.logger.Debug("object uploaded",
		zap.String("object", name),
		zap.Int("rows", len(page.Rows)),
		zap.Int("bytes", len(body)))
	return nil
}

// Close closes the storage client
func (s *Sink) Close(_ context.Context) error {
	return s.client.Close()
}
