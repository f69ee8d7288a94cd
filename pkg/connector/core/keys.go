package core

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tidemark/pkg/errors"
)

// Metadata columns added by file-based sinks.
const (
	WriteModeColumn = "_tidemark_write_mode"
	KeyColumn       = "_tidemark_key"
)

// Key renders row's primary key values joined by "|". Missing or null key
// fields are an error.
func (s *Stream) Key(row Row) (string, error) {
	if len(s.PrimaryKey) == 0 {
		return "", errors.Newf(errors.ErrorTypeConfig, "stream %s has no primary key", s.Name)
	}

	parts := make([]string, len(s.PrimaryKey))
	for i, field := range s.PrimaryKey {
		v, ok := row[field]
		if !ok || v == nil {
			return "", errors.Newf(errors.ErrorTypeData, "stream %s: row is missing primary key field %q", s.Name, field)
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "|"), nil
}

// Tag returns a copy of row carrying the stream's write mode and, for merge
// streams, the primary key, so append-only files can be deduplicated later.
func (s *Stream) Tag(row Row) (Row, error) {
	out := make(Row, len(row)+2)
	for k, v := range row {
		out[k] = v
	}
	out[WriteModeColumn] = string(s.WriteMode)
	if s.WriteMode == WriteModeMerge {
		key, err := s.Key(row)
		if err != nil {
			return nil, err
		}
		out[KeyColumn] = key
	}
	return out, nil
}
