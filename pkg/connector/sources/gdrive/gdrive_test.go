package gdrive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/clients"
	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
	"github.com/ajitpratap0/tidemark/pkg/watermark"
)

type fakeFile struct {
	ID       string
	Name     string
	Modified string
	Content  []byte
}

// fakeDrive serves files.list (one file per page), files.get and alt=media.
type fakeDrive struct {
	mu         sync.Mutex
	files      []fakeFile
	listStatus int
	queries    []string
	listParams []map[string]string
	requests   int
}

func (d *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.requests++
	d.mu.Unlock()

	q := r.URL.Query()
	if r.URL.Path == "/files" {
		if d.listStatus != 0 {
			w.WriteHeader(d.listStatus)
			return
		}
		d.mu.Lock()
		d.queries = append(d.queries, q.Get("q"))
		d.listParams = append(d.listParams, map[string]string{
			"corpora":  q.Get("corpora"),
			"driveId":  q.Get("driveId"),
			"fields":   q.Get("fields"),
			"allDrive": q.Get("supportsAllDrives"),
		})
		d.mu.Unlock()

		idx := 0
		if tok := q.Get("pageToken"); tok != "" {
			idx = len(tok)
		}
		resp := map[string]interface{}{"files": []interface{}{}}
		if idx < len(d.files) {
			f := d.files[idx]
			resp["files"] = []interface{}{map[string]string{
				"id": f.ID, "name": f.Name, "mimeType": MIMETypeCSV, "modifiedTime": f.Modified,
			}}
			if idx+1 < len(d.files) {
				resp["nextPageToken"] = strings.Repeat("p", idx+1)
			}
		}
		writeJSON(w, resp)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/files/")
	for _, f := range d.files {
		if f.ID != id {
			continue
		}
		if q.Get("alt") == "media" {
			_, _ = w.Write(f.Content)
			return
		}
		writeJSON(w, map[string]interface{}{
			"id": f.ID, "name": f.Name, "fileExtension": "csv", "mimeType": MIMETypeCSV,
			"size": "42", "createdTime": "2024-01-01T00:00:00.000Z", "modifiedTime": f.Modified,
			"driveId": "drive-1", "parents": []string{"folder-1"},
		})
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (d *fakeDrive) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	body, _ := jsonpkg.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func newTestSource(t *testing.T, d *fakeDrive, folders ...config.FolderConfig) *Source {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	cfg := config.DriveConfig{
		Enabled:          true,
		DriveID:          "drive-1",
		Endpoint:         srv.URL + "/",
		InitialWatermark: core.DefaultInitialWatermark,
		Folders:          folders,
	}
	service, err := NewService(context.Background(), cfg, srv.Client())
	require.NoError(t, err)

	retry := clients.NewRetryPolicy(1, time.Millisecond, time.Millisecond)
	return newSource(cfg, NewClient(service, cfg.DriveID, retry, zap.NewNop()), zap.NewNop())
}

var csvFolder = config.FolderConfig{
	FolderID:  "folder-1",
	TableName: "budgets",
	MimeType:  MIMETypeCSV,
}

func TestListQuery(t *testing.T) {
	since := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t,
		"'abc' in parents and modifiedTime > '2024-05-01T10:00:00Z' and mimeType = 'text/csv' and trashed = false",
		ListQuery("abc", MIMETypeCSV, since))
	assert.Equal(t, `'it\'s' in parents and trashed = false`, ListQuery("it's", "", time.Time{}))

	withMillis := time.Date(2024, 5, 1, 10, 0, 0, 500*int(time.Millisecond), time.UTC)
	assert.Contains(t, ListQuery("abc", MIMETypeCSV, withMillis), "modifiedTime > '2024-05-01T10:00:00.5Z'")
}

func TestFolderWatermarkKeepsFractionalSeconds(t *testing.T) {
	const modified = "2024-05-03T10:00:00.500Z"
	d := &fakeDrive{files: []fakeFile{
		{ID: "f1", Name: "a.csv", Modified: modified, Content: []byte("name\nrent\n")},
	}}
	src := newTestSource(t, d, csvFolder)
	stream := src.Streams()[0]

	it, err := src.Open(context.Background(), stream, nil)
	require.NoError(t, err)
	pages, err := core.Collect(context.Background(), it)
	require.NoError(t, err)

	tracker := watermark.NewTracker(stream.Name, stream.Cursor.Field)
	for _, p := range pages {
		tracker.Observe(p.Tenant, p.Rows)
	}
	saved, ok := tracker.Max("")
	require.True(t, ok)
	assert.Equal(t, modified, saved)

	it, err = src.Open(context.Background(), stream, core.Watermarks{"": saved})
	require.NoError(t, err)
	_, _ = core.Collect(context.Background(), it)

	require.Len(t, d.queries, 2)
	assert.Contains(t, d.queries[1], "modifiedTime > '2024-05-03T10:00:00.5Z'")
}

func TestFolderStream(t *testing.T) {
	d := &fakeDrive{files: []fakeFile{
		{ID: "f1", Name: "a.csv", Modified: "2024-05-01T10:00:00.000Z", Content: []byte("name,amount\nrent,100\nfood,20\n")},
		{ID: "f2", Name: "b.csv", Modified: "2024-05-02T10:00:00.000Z", Content: []byte("name,amount\n")},
		{ID: "f3", Name: "c.csv", Modified: "2024-05-03T10:00:00.000Z", Content: []byte("name,amount\ntravel,7\n")},
	}}
	src := newTestSource(t, d, csvFolder)
	streams := src.Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, MetadataStream, streams[1].Name)

	it, err := src.Open(context.Background(), streams[0], core.Watermarks{"": "2024-04-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, 0, d.requestCount())

	pages, err := core.Collect(context.Background(), it)
	require.NoError(t, err)

	require.Len(t, pages, 2, "empty files yield no page")
	assert.Equal(t, "f1", pages[0].FileID)
	assert.Equal(t, "f3", pages[1].FileID)
	require.Len(t, pages[0].Rows, 2)
	assert.Equal(t, core.Row{
		"name": "rent", "amount": "100",
		FileIDField: "f1", ModifiedTimeField: "2024-05-01T10:00:00.000Z",
	}, pages[0].Rows[0])

	require.Len(t, d.queries, 3, "one list call per page token")
	assert.Contains(t, d.queries[0], "modifiedTime > '2024-04-01T00:00:00Z'")
	assert.Contains(t, d.queries[0], "mimeType = 'text/csv'")
	assert.Equal(t, "drive", d.listParams[0]["corpora"])
	assert.Equal(t, "drive-1", d.listParams[0]["driveId"])
	assert.Equal(t, "true", d.listParams[0]["allDrive"])
	assert.Equal(t, listFields, d.listParams[0]["fields"])

	meta, err := src.Open(context.Background(), streams[1], nil)
	require.NoError(t, err)
	metaPages, err := core.Collect(context.Background(), meta)
	require.NoError(t, err)
	require.Len(t, metaPages, 3, "every listed file is described, empty or not")
	row := metaPages[0].Rows[0]
	assert.Equal(t, "f1", row["id"])
	assert.Equal(t, int64(42), row["size"])
	assert.Equal(t, []string{"folder-1"}, row["parents"])
}

func TestMetadataStreamWithoutFiles(t *testing.T) {
	src := newTestSource(t, &fakeDrive{}, csvFolder)
	it, err := src.Open(context.Background(), src.Streams()[1], nil)
	require.NoError(t, err)
	pages, err := core.Collect(context.Background(), it)
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestUnsupportedMIMETypeFailsBeforeListing(t *testing.T) {
	d := &fakeDrive{}
	src := newTestSource(t, d, config.FolderConfig{
		FolderID: "folder-1", TableName: "docs", MimeType: "application/pdf",
	})

	_, err := src.Open(context.Background(), src.Streams()[0], nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
	assert.Contains(t, err.Error(), "unsupported MIME type")
	assert.Equal(t, 0, d.requestCount())
}

func TestParseErrorNamesFile(t *testing.T) {
	d := &fakeDrive{files: []fakeFile{
		{ID: "bad", Name: "bad.csv", Modified: "2024-05-01T10:00:00Z", Content: []byte("a,b\nx,\"unterminated\n")},
	}}
	src := newTestSource(t, d, csvFolder)

	it, err := src.Open(context.Background(), src.Streams()[0], nil)
	require.NoError(t, err)
	_, err = core.Collect(context.Background(), it)
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Contains(t, err.Error(), "bad")
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "bad", e.Details["file_id"])
}

func TestListingFailureIsFatal(t *testing.T) {
	d := &fakeDrive{listStatus: http.StatusForbidden}
	src := newTestSource(t, d, csvFolder)

	it, err := src.Open(context.Background(), src.Streams()[0], nil)
	require.NoError(t, err)
	_, err = it.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeListing))
	assert.Contains(t, err.Error(), "listing unavailable")
}

func TestParse(t *testing.T) {
	t.Run("csv", func(t *testing.T) {
		rows, err := Parse(FormatCSV, []byte("\xEF\xBB\xBFid,name,extra\n1,a\n2,b,c\n"))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, core.Row{"id": "1", "name": "a", "extra": nil}, rows[0])
		assert.Equal(t, "c", rows[1]["extra"])
	})

	t.Run("empty csv", func(t *testing.T) {
		rows, err := Parse(FormatCSV, nil)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("xlsx reads the active sheet", func(t *testing.T) {
		f := excelize.NewFile()
		defer f.Close()
		_, err := f.NewSheet("Other")
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"id", "amount"}))
		require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{1, 9.5}))
		require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{2}))
		require.NoError(t, f.SetSheetRow("Other", "A1", &[]interface{}{"ignored"}))
		buf, err := f.WriteToBuffer()
		require.NoError(t, err)

		rows, err := Parse(FormatXLSX, buf.Bytes())
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, core.Row{"id": "1", "amount": "9.5"}, rows[0])
		assert.Equal(t, core.Row{"id": "2", "amount": nil}, rows[1])
	})

	t.Run("corrupt xlsx", func(t *testing.T) {
		_, err := Parse(FormatXLSX, []byte("not a zip"))
		assert.Error(t, err)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := Parse(FormatUnknown, []byte("x"))
		assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
	})
}

func TestFormatFor(t *testing.T) {
	f, err := FormatFor(MIMETypeXLSX)
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = FormatFor("application/pdf")
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
}

func TestNewSourceRequiresEnabled(t *testing.T) {
	_, err := NewSource(context.Background(), config.NewConfig())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
