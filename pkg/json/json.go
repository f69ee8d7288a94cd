// Package json wraps goccy/go-json with the settings tidemark needs for API
// payloads: numbers decode as json.Number so large ids survive untouched, and
// HTML escaping is off when writing rows.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// Number is re-exported so callers need not import goccy directly.
type Number = gojson.Number

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// Marshal serializes v.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal parses data into v, keeping numbers as Number.
func Unmarshal(data []byte, v interface{}) error {
	return Decode(bytes.NewReader(data), v)
}

// Decode reads one JSON value from r into v, keeping numbers as Number.
func Decode(r io.Reader, v interface{}) error {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// NewEncoder returns an encoder writing newline-terminated values to w.
func NewEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// MarshalLine serializes v followed by a newline using a pooled buffer.
func MarshalLine(v interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
