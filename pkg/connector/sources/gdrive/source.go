package gdrive

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"

	"github.com/ajitpratap0/tidemark/pkg/clients"
	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	"github.com/ajitpratap0/tidemark/pkg/logger"
	"github.com/ajitpratap0/tidemark/pkg/watermark"
)

const (
	// SourceName is the registry name of the Drive source.
	SourceName = "gdrive"
	// MetadataStream describes every file read by the folder streams of the
	// same run.
	MetadataStream = "file_metadata"

	// FileIDField and ModifiedTimeField are stamped on every parsed row.
	FileIDField       = "file_id"
	ModifiedTimeField = "modifiedTime"
)

// Source reads the configured Drive folders.
type Source struct {
	client  *Client
	http    *clients.HTTPClient
	streams []*core.Stream
	seen    *fileIDs
	logger  *zap.Logger
}

// NewSource builds the Drive source from the run configuration.
func NewSource(ctx context.Context, cfg *config.Config) (*Source, error) {
	if !cfg.Drive.Enabled {
		return nil, errors.New(errors.ErrorTypeConfig, "drive source is not enabled")
	}

	log := logger.Get().With(zap.String("component", "gdrive_source"))
	httpCfg := clients.HTTPConfigFromReliability(cfg.Reliability)
	httpClient := clients.NewHTTPClient(httpCfg, log)

	service, err := NewService(ctx, cfg.Drive, httpClient.StandardClient())
	if err != nil {
		_ = httpClient.Close()
		return nil, err
	}

	retry := clients.NewRetryPolicy(httpCfg.RetryAttempts, httpCfg.RetryDelay, httpCfg.MaxRetryDelay)
	src := newSource(cfg.Drive, NewClient(service, cfg.Drive.DriveID, retry, log), log)
	src.http = httpClient
	return src, nil
}

func newSource(cfg config.DriveConfig, client *Client, log *zap.Logger) *Source {
	return &Source{
		client:  client,
		streams: Streams(cfg),
		seen:    &fileIDs{index: make(map[string]bool)},
		logger:  log,
	}
}

// Streams returns one append stream per folder followed by the metadata
// stream.
func Streams(cfg config.DriveConfig) []*core.Stream {
	initial := cfg.InitialWatermark
	if initial == "" {
		initial = core.DefaultInitialWatermark
	}

	streams := make([]*core.Stream, 0, len(cfg.Folders)+1)
	for _, folder := range cfg.Folders {
		streams = append(streams, &core.Stream{
			Name:       folder.TableName,
			Table:      folder.TableName,
			Endpoint:   folder.FolderID,
			PrimaryKey: folder.PrimaryKey,
			WriteMode:  core.WriteModeAppend,
			Cursor:     core.Cursor{Field: ModifiedTimeField, Initial: initial},
			MIMEType:   folder.MimeType,
		})
	}
	return append(streams, &core.Stream{
		Name:       MetadataStream,
		Table:      MetadataStream,
		PrimaryKey: []string{"id"},
		WriteMode:  core.WriteModeMerge,
	})
}

// Name returns the source name
func (s *Source) Name() string { return SourceName }

// Streams returns the folder streams and the metadata stream
func (s *Source) Streams() []*core.Stream { return s.streams }

// Open starts a folder or metadata stream. A folder stream with an
// unsupported MIME type fails here, before the folder is listed.
func (s *Source) Open(ctx context.Context, stream *core.Stream, watermarks core.Watermarks) (core.PageIterator, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}
	if stream.Name == MetadataStream {
		return s.openMetadata(), nil
	}

	format, err := FormatFor(stream.MIMEType)
	if err != nil {
		return nil, err
	}

	wm := watermarks.For("", stream.Cursor.Initial)
	since, ok := watermark.ParseTime(wm)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "watermark %q is not a timestamp", wm).
			WithDetail("stream", stream.Name)
	}

	var files []*drive.File
	listed := false
	return core.PageIteratorFunc(func(ctx context.Context) (core.Page, error) {
		if !listed {
			var err error
			files, err = s.client.ListFiles(ctx, stream.Endpoint, stream.MIMEType, since)
			if err != nil {
				return core.Page{}, err
			}
			listed = true
		}

		for len(files) > 0 {
			file := files[0]
			files = files[1:]

			rows, err := s.readFile(ctx, file, format)
			if err != nil {
				return core.Page{}, err
			}
			if len(rows) > 0 {
				return core.Page{FileID: file.Id, Rows: rows}, nil
			}
		}
		return core.Page{}, core.Done
	}), nil
}

func (s *Source) readFile(ctx context.Context, file *drive.File, format Format) ([]core.Row, error) {
	s.seen.add(file.Id)

	content, err := s.client.Download(ctx, file.Id)
	if err != nil {
		return nil, err
	}

	rows, err := Parse(format, content)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "error parsing file "+file.Id).
			WithDetail("file_id", file.Id).
			WithDetail("format", format.String())
	}

	for _, row := range rows {
		row[FileIDField] = file.Id
		row[ModifiedTimeField] = file.ModifiedTime
	}

	s.logger.Debug("parsed file",
		zap.String("file_id", file.Id),
		zap.String("name", file.Name),
		zap.Int("rows", len(rows)))
	return rows, nil
}

func (s *Source) openMetadata() core.PageIterator {
	ids := s.seen.list()
	return core.PageIteratorFunc(func(ctx context.Context) (core.Page, error) {
		if len(ids) == 0 {
			return core.Page{}, core.Done
		}
		id := ids[0]
		ids = ids[1:]

		file, err := s.client.Metadata(ctx, id)
		if err != nil {
			return core.Page{}, err
		}
		return core.Page{FileID: id, Rows: []core.Row{MetadataRow(file)}}, nil
	})
}

// MetadataRow flattens the descriptive fields of file.
func MetadataRow(file *drive.File) core.Row {
	parents := file.Parents
	if parents == nil {
		parents = []string{}
	}
	return core.Row{
		"id":            file.Id,
		"name":          file.Name,
		"fileExtension": file.FileExtension,
		"mimeType":      file.MimeType,
		"size":          file.Size,
		"createdTime":   file.CreatedTime,
		"modifiedTime":  file.ModifiedTime,
		"driveId":       file.DriveId,
		"parents":       parents,
	}
}

// Close releases the HTTP client
func (s *Source) Close() error {
	if s.http != nil {
		return s.http.Close()
	}
	return nil
}

// fileIDs records file ids in first-seen order.
type fileIDs struct {
	mu    sync.Mutex
	ids   []string
	index map[string]bool
}

func (f *fileIDs) add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.index[id] {
		f.index[id] = true
		f.ids = append(f.ids, id)
	}
}

func (f *fileIDs) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}
