package erp

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/clients"
	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	"github.com/ajitpratap0/tidemark/pkg/logger"
	"github.com/ajitpratap0/tidemark/pkg/watermark"
)

// SourceName is the registry name of the ERP source.
const SourceName = "erp"

// Source emits the ERP streams for every configured tenant.
type Source struct {
	config  config.ERPConfig
	http    *clients.HTTPClient
	fetcher *Fetcher
	streams []*core.Stream
	logger  *zap.Logger
	now     func() time.Time
}

// NewSource builds the ERP source from the run configuration.
func NewSource(cfg *config.Config) (*Source, error) {
	if !cfg.ERP.Enabled {
		return nil, errors.New(errors.ErrorTypeConfig, "erp source is not enabled")
	}

	log := logger.Get().With(zap.String("component", "erp_source"))
	httpClient := clients.NewHTTPClient(clients.HTTPConfigFromReliability(cfg.Reliability), log)
	tokens := clients.NewTokenCache(clients.TokenCacheConfig{
		TokenURL:      cfg.ERP.TokenURL,
		ClientID:      cfg.ERP.ClientID,
		ClientSecret:  cfg.ERP.ClientSecret,
		RefreshMargin: cfg.ERP.TokenRefreshMargin,
	}, httpClient.StandardClient(), log)

	return newSource(cfg.ERP, httpClient, NewClient(cfg.ERP.BaseURL, httpClient, tokens), log), nil
}

func newSource(cfg config.ERPConfig, httpClient *clients.HTTPClient, client *Client, log *zap.Logger) *Source {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	return &Source{
		config:  cfg,
		http:    httpClient,
		fetcher: NewFetcher(client),
		streams: Streams(cfg.InitialWatermark),
		logger:  log,
		now:     time.Now,
	}
}

// Name returns the source name
func (s *Source) Name() string { return SourceName }

// Streams returns the ERP stream catalogue
func (s *Source) Streams() []*core.Stream { return s.streams }

// Open returns the pages of stream across all tenants, tenant by tenant in
// configuration order. Each tenant starts from its own watermark.
func (s *Source) Open(ctx context.Context, stream *core.Stream, watermarks core.Watermarks) (core.PageIterator, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}

	factories := make([]func() (core.PageIterator, error), 0, len(s.config.TenantIDs))
	for _, tenant := range s.config.TenantIDs {
		tenant := tenant
		factories = append(factories, func() (core.PageIterator, error) {
			return s.openTenant(ctx, stream, tenant, watermarks.For(tenant, stream.Cursor.Initial))
		})
	}
	return core.Concat(factories...), nil
}

func (s *Source) openTenant(ctx context.Context, stream *core.Stream, tenant, wm string) (core.PageIterator, error) {
	log := logger.WithContext(ctx).With(zap.String("tenant", tenant))
	opts := PageOptions{
		Size:        stream.PageSize,
		SizeParam:   stream.PageSizeParam,
		NumberParam: stream.PageNumberParam,
	}

	if stream.PeriodFallback {
		now := s.now()
		if strategy := SelectStrategy(wm, now, s.config.Lookback); strategy == StrategyPeriodBackfill {
			floor := PeriodOf(time.Unix(0, 0).UTC())
			if t, ok := watermark.ParseTime(wm); ok {
				floor = PeriodOf(t)
			}
			log.Info("ledger watermark outside lookback, backfilling by period",
				zap.String("watermark", wm),
				zap.String("from_period", PeriodOf(now).String()),
				zap.String("floor_period", floor.String()),
				zap.Int("empty_period_limit", s.config.EmptyPeriodLimit))
			return s.fetcher.Backfill(tenant, stream.Endpoint, nil, BackfillOptions{
				Start:            PeriodOf(now),
				Floor:            floor,
				EmptyPeriodLimit: s.config.EmptyPeriodLimit,
				Page:             opts,
			}), nil
		}
	}

	params, err := ModifiedSinceParams(wm)
	if err != nil {
		return nil, err
	}
	log.Debug("fetching modified since",
		zap.String("stream", stream.Name),
		zap.String(ParamLastModified, params.Get(ParamLastModified)))

	if stream.Paginated {
		return s.fetcher.Pages(tenant, stream.Endpoint, params, opts), nil
	}
	return s.fetcher.Single(tenant, stream.Endpoint, params), nil
}

// Close releases the HTTP client
func (s *Source) Close() error {
	if s.http != nil {
		return s.http.Close()
	}
	return nil
}
