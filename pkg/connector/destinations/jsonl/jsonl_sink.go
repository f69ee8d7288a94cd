// Package jsonl writes each stream to a newline-delimited JSON file per
// table, optionally gzip compressed.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
	"github.com/ajitpratap0/tidemark/pkg/logger"
)

// DestinationName is the registry name of the JSONL sink.
const DestinationName = "jsonl"

const bufferSize = 64 * 1024

// Sink appends rows to <dir>/<table>.jsonl (or .jsonl.gz).
type Sink struct {
	dir      string
	compress bool
	files    map[string]*tableFile
	mu       sync.Mutex
	logger   *zap.Logger
}

type tableFile struct {
	file   *os.File
	gz     *gzip.Writer
	out    io.Writer
	writer *bufio.Writer
}

// NewSink creates a sink writing under dir.
func NewSink(dir string, compress bool) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to create output directory "+dir)
	}
	return &Sink{
		dir:      dir,
		compress: compress,
		files:    make(map[string]*tableFile),
		logger:   logger.Get().With(zap.String("component", "jsonl_sink")),
	}, nil
}

// Path returns the file a table is written to.
func (s *Sink) Path(table string) string {
	name := table + ".jsonl"
	if s.compress {
		name += ".gz"
	}
	return filepath.Join(s.dir, name)
}

// Write appends the page and flushes it to disk.
func (s *Sink) Write(ctx context.Context, stream *core.Stream, page core.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.open(stream.TableName())
	if err != nil {
		return err
	}

	// The whole page is encoded before anything reaches the file, so a bad
	// row leaves no partial page behind.
	var buf bytes.Buffer
	for _, row := range page.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		tagged, err := stream.Tag(row)
		if err != nil {
			return err
		}
		line, err := jsonpkg.MarshalLine(tagged)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode row")
		}
		buf.Write(line)
	}

	if _, err := tf.writer.Write(buf.Bytes()); err != nil {
		tf.writer.Reset(tf.out)
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to write page")
	}
	return tf.flush()
}

func (s *Sink) open(table string) (*tableFile, error) {
	if tf, ok := s.files[table]; ok {
		return tf, nil
	}

	path := s.Path(table)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // G304: path derives from configured output dir
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to open "+path)
	}

	tf := &tableFile{file: f}
	var w io.Writer = f
	if s.compress {
		// appending starts a new gzip member; readers concatenate members
		tf.gz = gzip.NewWriter(f)
		w = tf.gz
	}
	tf.out = w
	tf.writer = bufio.NewWriterSize(w, bufferSize)
	s.files[table] = tf

	s.logger.Debug("opened table file", zap.String("table", table), zap.String("path", path))
	return tf, nil
}

func (tf *tableFile) flush() error {
	if err := tf.writer.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to flush")
	}
	if tf.gz != nil {
		if err := tf.gz.Flush(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSink, "failed to flush gzip stream")
		}
	}
	return nil
}

// Close flushes and closes every open file.
func (s *Sink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for table, tf := range s.files {
		if err := tf.flush(); err != nil {
			errs = append(errs, err)
		}
		if tf.gz != nil {
			if err := tf.gz.Close(); err != nil {
				errs = append(errs, errors.Wrap(err, errors.ErrorTypeSink, "failed to close gzip stream"))
			}
		}
		if err := tf.file.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeSink, "failed to close "+table))
		}
		delete(s.files, table)
	}
	return errors.Join(errs...)
}
