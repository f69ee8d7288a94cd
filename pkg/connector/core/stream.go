// Package core defines the contracts shared by sources, sinks and the
// pipeline runner: streams, pages of rows, page iterators and watermarks.
package core

import (
	"github.com/ajitpratap0/tidemark/pkg/errors"
)

// WriteMode controls how a sink applies a stream's rows.
type WriteMode string

const (
	// WriteModeAppend inserts every row.
	WriteModeAppend WriteMode = "append"
	// WriteModeMerge upserts rows by the stream's primary key.
	WriteModeMerge WriteMode = "merge"
)

// DefaultInitialWatermark is the cursor value used before a stream's first run.
const DefaultInitialWatermark = "1970-01-01T00:00:00Z"

// Cursor names the ordering field a stream tracks and its starting value.
type Cursor struct {
	Field   string
	Initial string
}

// Stream is a named logical entity emitted to one destination table.
type Stream struct {
	Name       string
	Table      string
	Endpoint   string // ERP path or Drive folder id
	PrimaryKey []string
	WriteMode  WriteMode
	Cursor     Cursor

	// Paginated streams request PageSize rows at a time.
	Paginated       bool
	PageSize        int
	PageSizeParam   string
	PageNumberParam string

	// PeriodFallback enables the ledger period backfill for stale watermarks.
	PeriodFallback bool

	// MIMEType is the declared content type of a Drive folder's files.
	MIMEType string

	// PerTenant streams keep one watermark per tenant.
	PerTenant bool
}

// Validate checks the stream definition is usable.
func (s *Stream) Validate() error {
	if s.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "stream name is required")
	}
	switch s.WriteMode {
	case WriteModeAppend:
	case WriteModeMerge:
		if len(s.PrimaryKey) == 0 {
			return errors.Newf(errors.ErrorTypeConfig, "stream %s: merge mode requires a primary key", s.Name)
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "stream %s: unknown write mode %q", s.Name, s.WriteMode)
	}
	if s.Paginated && s.PageSize < 1 {
		return errors.Newf(errors.ErrorTypeConfig, "stream %s: page size must be positive", s.Name)
	}
	return nil
}

// TableName returns Table, falling back to Name.
func (s *Stream) TableName() string {
	if s.Table != "" {
		return s.Table
	}
	return s.Name
}

// Watermarks holds the last seen cursor values of one stream keyed by
// tenant. Streams without tenants use the empty key.
type Watermarks map[string]string

// For returns the watermark for tenant, or initial when none is stored.
func (w Watermarks) For(tenant, initial string) string {
	if v, ok := w[tenant]; ok && v != "" {
		return v
	}
	return initial
}
