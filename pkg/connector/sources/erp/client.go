// Package erp implements the Visma.net ERP source: per-tenant bearer
// authentication, page-number pagination, modified-since filtering and the
// period backfill used for stale ledger watermarks.
package erp

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ajitpratap0/tidemark/pkg/clients"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
)

// TenantField is stamped on every ERP row.
const TenantField = "tenant_id"

// TokenSource hands out bearer tokens per tenant. *clients.TokenCache
// implements it.
type TokenSource interface {
	Token(ctx context.Context, tenantID string) (string, error)
}

// Client issues authenticated GETs against the ERP API.
type Client struct {
	baseURL string
	http    *clients.HTTPClient
	tokens  TokenSource
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, httpClient *clients.HTTPClient, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
}

// Get fetches path for tenant and returns the response array with
// tenant_id stamped on every record.
func (c *Client) Get(ctx context.Context, tenant, path string, query url.Values) ([]core.Row, error) {
	token, err := c.tokens.Token(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var records []map[string]interface{}
	headers := http.Header{"Authorization": {"Bearer " + token}}
	if err := c.http.GetJSON(ctx, c.baseURL+path, query, headers, &records); err != nil {
		return nil, err
	}

	rows := make([]core.Row, len(records))
	for i, rec := range records {
		if rec == nil {
			rec = make(map[string]interface{}, 1)
		}
		rec[TenantField] = tenant
		rows[i] = rec
	}
	return rows, nil
}
