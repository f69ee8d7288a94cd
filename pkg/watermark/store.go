package watermark

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
)

// Store persists watermarks between runs. Save must never move a stored
// value backwards.
type Store interface {
	Load(ctx context.Context, stream string) (core.Watermarks, error)
	Save(ctx context.Context, key Key, value string) error
	Close() error
}

// MemoryStore keeps watermarks in memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]core.Watermarks
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]core.Watermarks)}
}

// Load returns a copy of stream's watermarks.
func (s *MemoryStore) Load(_ context.Context, stream string) (core.Watermarks, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyWatermarks(s.data[stream]), nil
}

// Save stores value unless it is older than the current one.
func (s *MemoryStore) Save(_ context.Context, key Key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merge(s.data, key, value)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// FileStore keeps watermarks in a JSON file, rewritten atomically on every
// save.
type FileStore struct {
	path string

	mu   sync.Mutex
	data map[string]core.Watermarks
}

type fileState struct {
	Streams map[string]core.Watermarks `json:"streams"`
}

// NewFileStore opens the store at path. A missing file is an empty store.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: make(map[string]core.Watermarks)}

	raw, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to read state file")
	}

	var st fileState
	if err := jsonpkg.Unmarshal(raw, &st); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to parse state file").
			WithDetail("path", path)
	}
	for stream, w := range st.Streams {
		s.data[stream] = w
	}
	return s, nil
}

// Load returns a copy of stream's watermarks.
func (s *FileStore) Load(_ context.Context, stream string) (core.Watermarks, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyWatermarks(s.data[stream]), nil
}

// Save stores value unless it is older than the current one and rewrites
// the file.
func (s *FileStore) Save(_ context.Context, key Key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !merge(s.data, key, value) {
		return nil
	}
	return s.flush()
}

func (s *FileStore) flush() error {
	raw, err := jsonpkg.Marshal(fileState{Streams: s.data})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create state directory")
	}
	tmp, err := os.CreateTemp(dir, ".tidemark-state-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create temp state file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to replace state file")
	}
	return nil
}

// Close is a no-op; every Save is already durable.
func (s *FileStore) Close() error { return nil }

// merge applies the monotonic rule and reports whether data changed.
func merge(data map[string]core.Watermarks, key Key, value string) bool {
	w, ok := data[key.Stream]
	if !ok {
		w = make(core.Watermarks)
		data[key.Stream] = w
	}
	if cur, ok := w[key.Tenant]; ok && Compare(value, cur) <= 0 {
		return false
	}
	w[key.Tenant] = value
	return true
}

func copyWatermarks(w core.Watermarks) core.Watermarks {
	out := make(core.Watermarks, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
