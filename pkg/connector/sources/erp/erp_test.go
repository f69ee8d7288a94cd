package erp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/clients"
	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
)

type staticTokens struct{}

func (staticTokens) Token(_ context.Context, tenant string) (string, error) {
	return "token-" + tenant, nil
}

// fakeERP serves `total` records per tenant for any path, honouring
// pageSize/pageNumber. Period requests are answered from periods.
type fakeERP struct {
	mu       sync.Mutex
	total    int
	periods  map[string]int
	requests []url.Values
	paths    []string
	auth     []string
}

func (f *fakeERP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.requests = append(f.requests, q)
	f.paths = append(f.paths, r.URL.Path)
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.mu.Unlock()

	total := f.total
	if p := q.Get(ParamPeriod); p != "" {
		total = f.periods[p]
	}

	from, to := 0, total
	if size, err := strconv.Atoi(q.Get(DefaultPageSizeParam)); err == nil {
		page, _ := strconv.Atoi(q.Get(DefaultPageNumberParam))
		from = (page - 1) * size
		to = from + size
		if from > total {
			from = total
		}
		if to > total {
			to = total
		}
	}

	records := make([]map[string]interface{}, 0, to-from)
	for i := from; i < to; i++ {
		records = append(records, map[string]interface{}{
			"internalId":           i,
			"lastModifiedDateTime": fmt.Sprintf("2024-01-01T00:00:%02d", i%60),
		})
	}
	body, _ := jsonpkg.Marshal(records)
	_, _ = w.Write(body)
}

func (f *fakeERP) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestFetcher(t *testing.T, erp *fakeERP) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(erp)
	t.Cleanup(srv.Close)

	cfg := clients.DefaultHTTPConfig()
	cfg.EnableHTTP2 = false
	cfg.RetryAttempts = 1
	httpClient := clients.NewHTTPClient(cfg, zap.NewNop())
	return NewFetcher(NewClient(srv.URL+"/", httpClient, staticTokens{}))
}

func rowCount(pages []core.Page) int {
	n := 0
	for _, p := range pages {
		n += len(p.Rows)
	}
	return n
}

func TestPagesStopsOnShortPage(t *testing.T) {
	erp := &fakeERP{total: 1200}
	f := newTestFetcher(t, erp)

	pages, err := core.Collect(context.Background(),
		f.Pages("t1", "/controller/api/v1/customer", nil, PageOptions{Size: 1000}))
	require.NoError(t, err)

	require.Len(t, pages, 2)
	assert.Len(t, pages[0].Rows, 1000)
	assert.Len(t, pages[1].Rows, 200)
	assert.Equal(t, 2, erp.requestCount())
	assert.Equal(t, "1", erp.requests[0].Get("pageNumber"))
	assert.Equal(t, "2", erp.requests[1].Get("pageNumber"))
	assert.Equal(t, "1000", erp.requests[0].Get("pageSize"))
}

func TestPagesExactMultipleMakesTrailingRequest(t *testing.T) {
	erp := &fakeERP{total: 2000}
	f := newTestFetcher(t, erp)

	pages, err := core.Collect(context.Background(),
		f.Pages("t1", "/controller/api/v1/customer", nil, PageOptions{Size: 1000}))
	require.NoError(t, err)

	assert.Len(t, pages, 2)
	assert.Equal(t, 2000, rowCount(pages))
	assert.Equal(t, 3, erp.requestCount())
}

func TestPagesEmptyResult(t *testing.T) {
	erp := &fakeERP{}
	f := newTestFetcher(t, erp)

	pages, err := core.Collect(context.Background(),
		f.Pages("t1", "/controller/api/v1/customer", nil, PageOptions{Size: 1000}))
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.Equal(t, 1, erp.requestCount())
}

func TestPagesAreLazy(t *testing.T) {
	erp := &fakeERP{total: 5000}
	f := newTestFetcher(t, erp)

	it := f.Pages("t1", "/controller/api/v1/customer", nil, PageOptions{Size: 1000})
	assert.Equal(t, 0, erp.requestCount())

	_, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, erp.requestCount())
}

func TestRowsAreStampedWithTenant(t *testing.T) {
	erp := &fakeERP{total: 3}
	f := newTestFetcher(t, erp)

	pages, err := core.Collect(context.Background(), f.Single("acme", "/controller/api/v1/account", nil))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "acme", pages[0].Tenant)
	for _, row := range pages[0].Rows {
		assert.Equal(t, "acme", row[TenantField])
	}
	assert.Equal(t, "Bearer token-acme", erp.auth[0])
	assert.Empty(t, erp.requests[0].Get("pageSize"))
}

func TestSingleSkipsEmptyResponse(t *testing.T) {
	erp := &fakeERP{}
	f := newTestFetcher(t, erp)

	pages, err := core.Collect(context.Background(), f.Single("acme", "/controller/api/v1/account", nil))
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestModifiedSinceParams(t *testing.T) {
	params, err := ModifiedSinceParams("1970-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01 00:00:00.000", params.Get(ParamLastModified))
	assert.Equal(t, ">", params.Get(ParamLastModifiedCondition))

	params, err = ModifiedSinceParams("2024-03-05T10:11:12.345678")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05 10:11:12.345", params.Get(ParamLastModified))

	_, err = ModifiedSinceParams("yesterday")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestPeriod(t *testing.T) {
	p, err := ParsePeriod("202401")
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2024, Month: time.January}, p)
	assert.Equal(t, "202312", p.Prev().String())
	assert.Equal(t, "202402", Period{Year: 2024, Month: time.March}.Prev().String())
	assert.True(t, p.Prev().Before(p))
	assert.False(t, p.Before(p))

	for _, bad := range []string{"2024", "2024-01", "202413", "abcdef"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestSelectStrategy(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		wm   string
		want Strategy
	}{
		{"recent", "2024-06-01T00:00:00Z", StrategyModifiedSince},
		{"just inside window", now.Add(-DefaultLookback + time.Hour).Format(time.RFC3339), StrategyModifiedSince},
		{"just outside window", now.Add(-DefaultLookback - time.Hour).Format(time.RFC3339), StrategyPeriodBackfill},
		{"initial", core.DefaultInitialWatermark, StrategyPeriodBackfill},
		{"unparseable", "garbage", StrategyPeriodBackfill},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.wm, now, DefaultLookback))
		})
	}
}

func TestBackfill(t *testing.T) {
	periods := map[string]int{"202401": 3, "202312": 2, "202310": 4}
	start := Period{Year: 2024, Month: time.January}
	floor := Period{Year: 2020, Month: time.January}

	t.Run("stops at first empty period", func(t *testing.T) {
		erp := &fakeERP{periods: periods}
		f := newTestFetcher(t, erp)

		pages, err := core.Collect(context.Background(), f.Backfill("t1", LedgerPath, nil, BackfillOptions{
			Start: start, Floor: floor, EmptyPeriodLimit: 1, Page: PageOptions{Size: 1000},
		}))
		require.NoError(t, err)

		require.Len(t, pages, 2)
		assert.Equal(t, "202401", pages[0].Period)
		assert.Equal(t, "202312", pages[1].Period)
		assert.Equal(t, 3, erp.requestCount())
		for _, q := range erp.requests {
			assert.Empty(t, q.Get(ParamLastModified))
		}
		assert.Equal(t, "202311", erp.requests[2].Get(ParamPeriod))
	})

	t.Run("limit two continues past a gap", func(t *testing.T) {
		erp := &fakeERP{periods: periods}
		f := newTestFetcher(t, erp)

		pages, err := core.Collect(context.Background(), f.Backfill("t1", LedgerPath, nil, BackfillOptions{
			Start: start, Floor: floor, EmptyPeriodLimit: 2, Page: PageOptions{Size: 1000},
		}))
		require.NoError(t, err)

		require.Len(t, pages, 3)
		assert.Equal(t, "202310", pages[2].Period)
		assert.Equal(t, 9, rowCount(pages))
		// 202401, 202312, 202311 (empty), 202310, 202309 (empty), 202308 (empty)
		assert.Equal(t, 6, erp.requestCount())
	})

	t.Run("never passes the floor", func(t *testing.T) {
		erp := &fakeERP{periods: periods}
		f := newTestFetcher(t, erp)

		pages, err := core.Collect(context.Background(), f.Backfill("t1", LedgerPath, nil, BackfillOptions{
			Start: start, Floor: start, EmptyPeriodLimit: 5, Page: PageOptions{Size: 1000},
		}))
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, 1, erp.requestCount())
	})
}

func TestStreamsCatalogue(t *testing.T) {
	streams := Streams("")
	require.Len(t, streams, 7)

	byName := make(map[string]*core.Stream, len(streams))
	for _, s := range streams {
		require.NoError(t, s.Validate())
		assert.True(t, s.PerTenant)
		assert.Equal(t, core.DefaultInitialWatermark, s.Cursor.Initial)
		byName[s.Name] = s
	}

	assert.False(t, byName["account"].Paginated)
	assert.Equal(t, 5000, byName["inventory"].PageSize)
	ledger := byName["general_ledger_transactions"]
	assert.Equal(t, core.WriteModeMerge, ledger.WriteMode)
	assert.Equal(t, []string{"batchNumber"}, ledger.PrimaryKey)
	assert.True(t, ledger.PeriodFallback)
	assert.Equal(t, streams[len(streams)-1], ledger)
}

func newTestSource(t *testing.T, erp *fakeERP, tenants ...string) *Source {
	t.Helper()
	srv := httptest.NewServer(erp)
	t.Cleanup(srv.Close)

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.EnableHTTP2 = false
	httpCfg.RetryAttempts = 1
	httpClient := clients.NewHTTPClient(httpCfg, zap.NewNop())

	cfg := config.NewConfig().ERP
	cfg.TenantIDs = tenants
	src := newSource(cfg, httpClient, NewClient(srv.URL, httpClient, staticTokens{}), zap.NewNop())
	src.now = func() time.Time { return time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC) }
	return src
}

func streamNamed(t *testing.T, src *Source, name string) *core.Stream {
	t.Helper()
	for _, s := range src.Streams() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("stream %s not found", name)
	return nil
}

func TestSourceUsesPerTenantWatermarks(t *testing.T) {
	erp := &fakeERP{total: 10}
	src := newTestSource(t, erp, "t1", "t2")

	it, err := src.Open(context.Background(), streamNamed(t, src, "customer"), core.Watermarks{
		"t1": "2024-01-10T08:00:00Z",
	})
	require.NoError(t, err)
	pages, err := core.Collect(context.Background(), it)
	require.NoError(t, err)

	require.Len(t, pages, 2)
	assert.Equal(t, "t1", pages[0].Tenant)
	assert.Equal(t, "t2", pages[1].Tenant)
	assert.Equal(t, "2024-01-10 08:00:00.000", erp.requests[0].Get(ParamLastModified))
	assert.Equal(t, "1970-01-01 00:00:00.000", erp.requests[1].Get(ParamLastModified))
	assert.Equal(t, "Bearer token-t2", erp.auth[1])
}

func TestSourceLedgerStrategy(t *testing.T) {
	t.Run("recent watermark filters by modification time", func(t *testing.T) {
		erp := &fakeERP{total: 5}
		src := newTestSource(t, erp, "t1")

		it, err := src.Open(context.Background(), streamNamed(t, src, "general_ledger_transactions"),
			core.Watermarks{"t1": "2024-01-01T00:00:00Z"})
		require.NoError(t, err)
		_, err = core.Collect(context.Background(), it)
		require.NoError(t, err)

		require.Equal(t, 1, erp.requestCount())
		assert.Equal(t, LedgerPath, erp.paths[0])
		assert.Empty(t, erp.requests[0].Get(ParamPeriod))
		assert.Equal(t, ">", erp.requests[0].Get(ParamLastModifiedCondition))
	})

	t.Run("stale watermark backfills by period", func(t *testing.T) {
		erp := &fakeERP{periods: map[string]int{"202401": 2, "202312": 1}}
		src := newTestSource(t, erp, "t1")

		it, err := src.Open(context.Background(), streamNamed(t, src, "general_ledger_transactions"), nil)
		require.NoError(t, err)
		pages, err := core.Collect(context.Background(), it)
		require.NoError(t, err)

		require.Len(t, pages, 2)
		assert.Equal(t, "202401", erp.requests[0].Get(ParamPeriod))
		assert.Empty(t, erp.requests[0].Get(ParamLastModified))
		assert.True(t, strings.HasPrefix(pages[1].Period, "2023"))
	})
}

func TestSourceAuthErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.EnableHTTP2 = false
	httpClient := clients.NewHTTPClient(httpCfg, zap.NewNop())
	f := NewFetcher(NewClient(srv.URL, httpClient, staticTokens{}))

	_, err := core.Collect(context.Background(), f.Pages("t1", "/controller/api/v1/customer", nil, PageOptions{Size: 10}))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestNewSourceRequiresEnabled(t *testing.T) {
	cfg := config.NewConfig()
	_, err := NewSource(cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
