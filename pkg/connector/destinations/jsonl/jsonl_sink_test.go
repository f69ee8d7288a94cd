package jsonl

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
)

func readLines(t *testing.T, path string, gz bool) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var scanner *bufio.Scanner
	if gz {
		zr, err := gzip.NewReader(f)
		require.NoError(t, err)
		scanner = bufio.NewScanner(zr)
	} else {
		scanner = bufio.NewScanner(f)
	}

	var out []map[string]interface{}
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, jsonpkg.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestSinkAppends(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir, false)
	require.NoError(t, err)

	stream := &core.Stream{Name: "account", WriteMode: core.WriteModeAppend}
	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, stream, core.Page{Rows: []core.Row{{"id": 1}, {"id": 2}}}))
	require.NoError(t, sink.Write(ctx, stream, core.Page{Rows: []core.Row{{"id": 3}}}))

	// flushed per page, readable before Close
	lines := readLines(t, filepath.Join(dir, "account.jsonl"), false)
	require.Len(t, lines, 3)
	assert.Equal(t, "append", lines[0][core.WriteModeColumn])
	require.NoError(t, sink.Close(ctx))
}

func TestSinkCompressedMerge(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	stream := &core.Stream{
		Name: "general_ledger_transactions", Table: "ledger",
		PrimaryKey: []string{"batchNumber"}, WriteMode: core.WriteModeMerge,
	}

	for run := 0; run < 2; run++ {
		sink, err := NewSink(dir, true)
		require.NoError(t, err)
		require.NoError(t, sink.Write(ctx, stream, core.Page{Rows: []core.Row{{"batchNumber": "B1"}}}))
		require.NoError(t, sink.Close(ctx))
	}

	lines := readLines(t, filepath.Join(dir, "ledger.jsonl.gz"), true)
	require.Len(t, lines, 2, "gzip members from both runs are read back")
	assert.Equal(t, "B1", lines[1][core.KeyColumn])
}

func TestSinkRejectsRowWithoutKey(t *testing.T) {
	sink, err := NewSink(t.TempDir(), false)
	require.NoError(t, err)
	defer sink.Close(context.Background())

	stream := &core.Stream{Name: "ledger", PrimaryKey: []string{"batchNumber"}, WriteMode: core.WriteModeMerge}
	err = sink.Write(context.Background(), stream, core.Page{Rows: []core.Row{{"other": 1}}})
	assert.Error(t, err)
}

func TestSinkDropsPageWithBadRow(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	sink, err := NewSink(dir, false)
	require.NoError(t, err)

	stream := &core.Stream{Name: "ledger", PrimaryKey: []string{"batchNumber"}, WriteMode: core.WriteModeMerge}
	require.NoError(t, sink.Write(ctx, stream, core.Page{Rows: []core.Row{{"batchNumber": "B1"}}}))

	err = sink.Write(ctx, stream, core.Page{Rows: []core.Row{
		{"batchNumber": "B2"},
		{"batchNumber": "B3"},
		{"other": 1},
	}})
	require.Error(t, err)
	require.NoError(t, sink.Close(ctx))

	lines := readLines(t, filepath.Join(dir, "ledger.jsonl"), false)
	require.Len(t, lines, 1, "rows of the failed page are not written")
	assert.Equal(t, "B1", lines[0]["batchNumber"])
}
