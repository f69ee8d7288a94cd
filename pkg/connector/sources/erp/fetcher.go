package erp

import (
	"context"
	"net/url"
	"strconv"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	"github.com/ajitpratap0/tidemark/pkg/watermark"
)

// Query parameter names used by the ERP API.
const (
	DefaultPageSizeParam   = "pageSize"
	DefaultPageNumberParam = "pageNumber"

	ParamLastModified          = "lastModifiedDateTime"
	ParamLastModifiedCondition = "lastModifiedDateTimeCondition"
	ParamPeriod                = "periodId"

	lastModifiedLayout = "2006-01-02 15:04:05.000"
)

// PageOptions controls page-number pagination.
type PageOptions struct {
	Size        int
	SizeParam   string
	NumberParam string
}

func (o PageOptions) withDefaults() PageOptions {
	if o.SizeParam == "" {
		o.SizeParam = DefaultPageSizeParam
	}
	if o.NumberParam == "" {
		o.NumberParam = DefaultPageNumberParam
	}
	return o
}

// FormatLastModified converts a stored watermark into the API's
// lastModifiedDateTime representation (millisecond precision, UTC).
func FormatLastModified(wm string) (string, error) {
	t, ok := watermark.ParseTime(wm)
	if !ok {
		return "", errors.Newf(errors.ErrorTypeValidation, "watermark %q is not a timestamp", wm)
	}
	return t.UTC().Format(lastModifiedLayout), nil
}

// ModifiedSinceParams returns the strict greater-than filter for wm.
func ModifiedSinceParams(wm string) (url.Values, error) {
	formatted, err := FormatLastModified(wm)
	if err != nil {
		return nil, err
	}
	return url.Values{
		ParamLastModified:          {formatted},
		ParamLastModifiedCondition: {">"},
	}, nil
}

// Fetcher turns ERP endpoints into lazy page iterators.
type Fetcher struct {
	client *Client
}

// NewFetcher creates a fetcher over client.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client}
}

// Pages requests path page by page for one tenant, starting at page 1. A
// page shorter than opts.Size ends the sequence; a full page is always
// followed by another request, so an exact multiple of the page size costs
// one trailing empty request. Empty pages are never yielded.
func (f *Fetcher) Pages(tenant, path string, params url.Values, opts PageOptions) core.PageIterator {
	opts = opts.withDefaults()
	pageNumber := 1
	done := false

	return core.PageIteratorFunc(func(ctx context.Context) (core.Page, error) {
		for !done {
			q := cloneValues(params)
			q.Set(opts.SizeParam, strconv.Itoa(opts.Size))
			q.Set(opts.NumberParam, strconv.Itoa(pageNumber))

			rows, err := f.client.Get(ctx, tenant, path, q)
			if err != nil {
				return core.Page{}, err
			}

			pageNumber++
			if len(rows) < opts.Size {
				done = true
			}
			if len(rows) > 0 {
				return core.Page{Tenant: tenant, Rows: rows}, nil
			}
		}
		return core.Page{}, core.Done
	})
}

// Single issues one request for tenant and yields its result as one page,
// unless empty.
func (f *Fetcher) Single(tenant, path string, params url.Values) core.PageIterator {
	fetched := false

	return core.PageIteratorFunc(func(ctx context.Context) (core.Page, error) {
		if fetched {
			return core.Page{}, core.Done
		}
		fetched = true

		rows, err := f.client.Get(ctx, tenant, path, cloneValues(params))
		if err != nil {
			return core.Page{}, err
		}
		if len(rows) == 0 {
			return core.Page{}, core.Done
		}
		return core.Page{Tenant: tenant, Rows: rows}, nil
	})
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
