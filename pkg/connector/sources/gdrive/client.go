// Package gdrive implements the Google Drive source: one stream per
// configured shared-drive folder, where every matching file becomes one page
// of parsed rows, plus a file_metadata stream describing the files seen.
package gdrive

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/tidemark/pkg/clients"
	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/errors"
)

const (
	listFields     = "nextPageToken, files(id, name, mimeType, modifiedTime)"
	metadataFields = "id, name, fileExtension, mimeType, size, createdTime, modifiedTime, driveId, parents"
)

// NewService builds a Drive service whose requests, including token
// refreshes, go through httpClient. Credentials come from cfg.CredentialsFile
// (service account or authorized user JSON), else from application default
// credentials. A configured Endpoint without credentials is used
// unauthenticated, for emulators.
func NewService(ctx context.Context, cfg config.DriveConfig, httpClient *http.Client) (*drive.Service, error) {
	opts := []option.ClientOption{}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	if cfg.CredentialsFile == "" && cfg.Endpoint != "" {
		opts = append(opts, option.WithHTTPClient(httpClient))
		return newService(ctx, opts)
	}

	authCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	var creds *google.Credentials
	var err error
	if cfg.CredentialsFile != "" {
		data, readErr := os.ReadFile(cfg.CredentialsFile)
		if readErr != nil {
			return nil, errors.Wrap(readErr, errors.ErrorTypeConfig, "failed to read drive credentials file")
		}
		creds, err = google.CredentialsFromJSON(authCtx, data, drive.DriveReadonlyScope)
	} else {
		creds, err = google.FindDefaultCredentials(authCtx, drive.DriveReadonlyScope)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to load drive credentials")
	}

	opts = append(opts, option.WithHTTPClient(oauth2.NewClient(authCtx, creds.TokenSource)))
	return newService(ctx, opts)
}

func newService(ctx context.Context, opts []option.ClientOption) (*drive.Service, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create drive service")
	}
	return svc, nil
}

// Client lists, downloads and describes files of one shared drive.
type Client struct {
	service *drive.Service
	driveID string
	retry   *clients.RetryPolicy
	logger  *zap.Logger
}

// NewClient wraps service. Calls failing with 429 or 5xx are retried by retry.
func NewClient(service *drive.Service, driveID string, retry *clients.RetryPolicy, logger *zap.Logger) *Client {
	if retry == nil {
		retry = clients.DefaultRetryPolicy()
	}
	return &Client{
		service: service,
		driveID: driveID,
		retry:   retry,
		logger:  logger,
	}
}

// ListQuery builds the files.list query for a folder. modifiedSince keeps its
// fractional seconds so the file that set the watermark is not listed again.
func ListQuery(folderID, mimeType string, modifiedSince time.Time) string {
	var b strings.Builder
	b.WriteString("'" + escapeQuery(folderID) + "' in parents")
	if !modifiedSince.IsZero() {
		b.WriteString(" and modifiedTime > '" + modifiedSince.UTC().Format(time.RFC3339Nano) + "'")
	}
	if mimeType != "" {
		b.WriteString(" and mimeType = '" + escapeQuery(mimeType) + "'")
	}
	b.WriteString(" and trashed = false")
	return b.String()
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// ListFiles returns every file in folderID of the given type modified after
// modifiedSince, following nextPageToken to the end.
func (c *Client) ListFiles(ctx context.Context, folderID, mimeType string, modifiedSince time.Time) ([]*drive.File, error) {
	q := ListQuery(folderID, mimeType, modifiedSince)

	var files []*drive.File
	err := c.retry.ExecuteWithCondition(ctx, func() error {
		files = files[:0]
		call := c.service.Files.List().
			Q(q).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Fields(listFields)
		if c.driveID != "" {
			call = call.Corpora("drive").DriveId(c.driveID)
		}
		return call.Pages(ctx, func(page *drive.FileList) error {
			files = append(files, page.Files...)
			return nil
		})
	}, isRetryable)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeListing, "listing unavailable").
			WithDetail("folder_id", folderID)
	}

	c.logger.Debug("listed folder",
		zap.String("folder_id", folderID),
		zap.String("query", q),
		zap.Int("files", len(files)))
	return files, nil
}

// Download returns the content of fileID.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	var content []byte
	err := c.retry.ExecuteWithCondition(ctx, func() error {
		resp, err := c.service.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		content, err = io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read file content")
		}
		return nil
	}, isRetryable)
	if err != nil {
		return nil, apiError(err, "failed to download file").WithDetail("file_id", fileID)
	}
	return content, nil
}

// Metadata fetches the descriptive fields of fileID.
func (c *Client) Metadata(ctx context.Context, fileID string) (*drive.File, error) {
	var file *drive.File
	err := c.retry.ExecuteWithCondition(ctx, func() error {
		var err error
		file, err = c.service.Files.Get(fileID).
			SupportsAllDrives(true).
			Fields(metadataFields).
			Context(ctx).
			Do()
		return err
	}, isRetryable)
	if err != nil {
		return nil, apiError(err, "failed to fetch file metadata").WithDetail("file_id", fileID)
	}
	return file, nil
}

func isRetryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return errors.IsRetryable(err)
}

// apiError maps a Drive API failure onto the error taxonomy.
func apiError(err error, message string) *errors.Error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		e := errors.FromStatus(gerr.Code, http.MethodGet, "drive", nil)
		e.Message = message + ": " + e.Message
		e.Cause = err
		return e
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, message)
}
