package watermark

import (
	"fmt"
	"strings"
	"time"

	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
)

// layouts accepted for timestamp watermarks. Values without a zone are UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// ParseTime parses a watermark value as a timestamp.
func ParseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Compare orders two watermark values: as instants when both parse as
// timestamps, lexically otherwise. It returns -1, 0 or 1.
func Compare(a, b string) int {
	ta, okA := ParseTime(a)
	tb, okB := ParseTime(b)
	if okA && okB {
		return ta.Compare(tb)
	}
	return strings.Compare(a, b)
}

// valueString renders a row's cursor field as a watermark value.
func valueString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), !x.IsZero()
	case jsonpkg.Number:
		return x.String(), true
	default:
		return fmt.Sprint(x), true
	}
}
