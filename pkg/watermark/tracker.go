// Package watermark tracks and persists the "last seen" cursor values that
// make re-runs incremental.
//
// A Tracker folds the cursor field of every emitted row into a per-tenant
// maximum during a run. A Store persists those maxima once the stream has
// completed, and never lets a stored value move backwards.
package watermark

import (
	"sync"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
)

// Key identifies one watermark.
type Key struct {
	Stream string
	Tenant string
}

// Tracker holds the maximum cursor value seen per tenant for one stream.
type Tracker struct {
	stream string
	field  string

	mu   sync.Mutex
	seen map[string]string
}

// NewTracker creates a tracker for stream's cursor field.
func NewTracker(stream, field string) *Tracker {
	return &Tracker{
		stream: stream,
		field:  field,
		seen:   make(map[string]string),
	}
}

// Observe folds the cursor values of page's rows into the tenant maximum.
// Rows without the field are ignored.
func (t *Tracker) Observe(tenant string, rows []core.Row) {
	if t.field == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, row := range rows {
		v, ok := valueString(row[t.field])
		if !ok {
			continue
		}
		if cur, exists := t.seen[tenant]; !exists || Compare(v, cur) > 0 {
			t.seen[tenant] = v
		}
	}
}

// Max returns the largest value seen for tenant.
func (t *Tracker) Max(tenant string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.seen[tenant]
	return v, ok
}

// Advanced returns the values that moved past prev, keyed for the store.
func (t *Tracker) Advanced(prev core.Watermarks) map[Key]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Key]string)
	for tenant, v := range t.seen {
		if old, ok := prev[tenant]; ok && old != "" && Compare(v, old) <= 0 {
			continue
		}
		out[Key{Stream: t.stream, Tenant: tenant}] = v
	}
	return out
}
