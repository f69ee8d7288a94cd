package clients

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/tidemark/pkg/errors"
	"github.com/ajitpratap0/tidemark/pkg/metrics"
)

// TokenCacheConfig configures the client credentials flow.
type TokenCacheConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// RefreshMargin is how long before expiry a cached token stops being
	// handed out.
	RefreshMargin time.Duration
}

// TokenCache hands out bearer tokens per tenant, requesting a new one only
// when the cached token is within RefreshMargin of its expiry. Each tenant
// has its own lock, so concurrent callers for one tenant trigger at most one
// token request while other tenants proceed.
type TokenCache struct {
	config     TokenCacheConfig
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	tenants map[string]*tenantToken
}

type tenantToken struct {
	mu     sync.Mutex
	value  string
	expiry time.Time // zero means the server sent no expires_in
}

// NewTokenCache creates a token cache. httpClient may be nil.
func NewTokenCache(config TokenCacheConfig, httpClient *http.Client, logger *zap.Logger) *TokenCache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenCache{
		config:     config,
		httpClient: httpClient,
		logger:     logger.With(zap.String("component", "token_cache")),
		now:        time.Now,
		tenants:    make(map[string]*tenantToken),
	}
}

// Token returns a valid access token for tenantID.
func (c *TokenCache) Token(ctx context.Context, tenantID string) (string, error) {
	entry := c.entry(tenantID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := c.now()
	if entry.value != "" && (entry.expiry.IsZero() || now.Add(c.config.RefreshMargin).Before(entry.expiry)) {
		return entry.value, nil
	}

	cc := clientcredentials.Config{
		ClientID:       c.config.ClientID,
		ClientSecret:   c.config.ClientSecret,
		TokenURL:       c.config.TokenURL,
		Scopes:         c.config.Scopes,
		EndpointParams: url.Values{"tenant_id": {tenantID}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}

	metrics.TokenRequests.WithLabelValues(tenantID).Inc()
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		authErr := errors.Wrap(err, errors.ErrorTypeAuthentication, "token request failed").
			WithDetail("tenant_id", tenantID)
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			authErr.StatusCode = re.Response.StatusCode
		}
		return "", authErr
	}

	entry.value = tok.AccessToken
	entry.expiry = time.Time{}
	if !tok.Expiry.IsZero() {
		// oauth2 stamps Expiry with the wall clock; rebase it onto ours.
		entry.expiry = now.Add(time.Until(tok.Expiry))
	}

	c.logger.Debug("acquired access token",
		zap.String("tenant", tenantID),
		zap.Time("expires_at", entry.expiry))

	return entry.value, nil
}

func (c *TokenCache) entry(tenantID string) *tenantToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.tenants[tenantID]
	if !ok {
		e = &tenantToken{}
		c.tenants[tenantID] = e
	}
	return e
}
