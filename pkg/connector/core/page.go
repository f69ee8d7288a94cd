package core

import (
	"context"

	"google.golang.org/api/iterator"
)

// Row is one output record.
type Row map[string]interface{}

// Page is the batch of rows returned by one request.
type Page struct {
	Tenant string
	// Period is set for ledger backfill pages.
	Period string
	// FileID is set for pages parsed from a Drive file.
	FileID string
	Rows   []Row
}

// Done is returned by PageIterator.Next when no pages remain.
var Done = iterator.Done

// PageIterator yields pages one at a time. Next returns Done once exhausted;
// any other error is fatal for the stream.
type PageIterator interface {
	Next(ctx context.Context) (Page, error)
}

// PageIteratorFunc adapts a function to PageIterator.
type PageIteratorFunc func(ctx context.Context) (Page, error)

// Next calls f.
func (f PageIteratorFunc) Next(ctx context.Context) (Page, error) {
	return f(ctx)
}

// Concat drains each iterator built by the factories in order. Factories
// run lazily, when the previous iterator is exhausted.
func Concat(factories ...func() (PageIterator, error)) PageIterator {
	var current PageIterator
	return PageIteratorFunc(func(ctx context.Context) (Page, error) {
		for {
			if current == nil {
				if len(factories) == 0 {
					return Page{}, Done
				}
				it, err := factories[0]()
				factories = factories[1:]
				if err != nil {
					return Page{}, err
				}
				current = it
			}

			page, err := current.Next(ctx)
			if err == Done {
				current = nil
				continue
			}
			return page, err
		}
	})
}

// Empty returns an iterator with no pages.
func Empty() PageIterator {
	return PageIteratorFunc(func(context.Context) (Page, error) {
		return Page{}, Done
	})
}

// Collect drains it into a slice.
func Collect(ctx context.Context, it PageIterator) ([]Page, error) {
	var pages []Page
	for {
		page, err := it.Next(ctx)
		if err == Done {
			return pages, nil
		}
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
}
