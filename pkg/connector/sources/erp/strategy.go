package erp

import (
	"context"
	"net/url"
	"time"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/watermark"
)

// DefaultLookback is how stale a ledger watermark may be before the period
// backfill takes over.
const DefaultLookback = 180 * 24 * time.Hour

// Strategy is how a ledger stream is fetched.
type Strategy int

const (
	// StrategyModifiedSince filters the live endpoint by lastModifiedDateTime.
	StrategyModifiedSince Strategy = iota
	// StrategyPeriodBackfill walks accounting periods backwards.
	StrategyPeriodBackfill
)

func (s Strategy) String() string {
	if s == StrategyPeriodBackfill {
		return "period_backfill"
	}
	return "modified_since"
}

// SelectStrategy picks the modified-since fetch when wm is later than
// now-lookback and the period backfill otherwise. Unparseable watermarks
// backfill.
func SelectStrategy(wm string, now time.Time, lookback time.Duration) Strategy {
	t, ok := watermark.ParseTime(wm)
	if ok && t.After(now.Add(-lookback)) {
		return StrategyModifiedSince
	}
	return StrategyPeriodBackfill
}

// BackfillOptions bounds a period walk.
type BackfillOptions struct {
	// Start is the first (latest) period fetched.
	Start Period
	// Floor is the earliest period that may be fetched.
	Floor Period
	// EmptyPeriodLimit consecutive periods without pages end the walk.
	EmptyPeriodLimit int
	Page             PageOptions
}

// Backfill walks periods from opts.Start backwards, fetching every page of
// each period with periodId set and no timestamp filter. It ends after
// EmptyPeriodLimit consecutive empty periods or once the floor is passed.
func (f *Fetcher) Backfill(tenant, path string, params url.Values, opts BackfillOptions) core.PageIterator {
	limit := opts.EmptyPeriodLimit
	if limit < 1 {
		limit = 1
	}

	current := opts.Start
	emptyRun := 0
	var pages core.PageIterator
	hadPages := false

	return core.PageIteratorFunc(func(ctx context.Context) (core.Page, error) {
		for {
			if pages == nil {
				if current.Before(opts.Floor) || emptyRun >= limit {
					return core.Page{}, core.Done
				}
				q := cloneValues(params)
				q.Set(ParamPeriod, current.String())
				pages = f.Pages(tenant, path, q, opts.Page)
				hadPages = false
			}

			page, err := pages.Next(ctx)
			if err == core.Done {
				if hadPages {
					emptyRun = 0
				} else {
					emptyRun++
				}
				current = current.Prev()
				pages = nil
				continue
			}
			if err != nil {
				return core.Page{}, err
			}

			hadPages = true
			page.Period = current.String()
			return page, nil
		}
	})
}
