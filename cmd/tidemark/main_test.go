package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
erp:
  enabled: true
  client_id: cid
  client_secret: s3cret
  tenant_ids: [tenant-a]
drive:
  enabled: true
  folders:
    - folder_id: f1
      table_name: sales_reports
      mime_type: text/csv
destination:
  type: jsonl
  path: out
state:
  type: memory
`

func execute(t *testing.T, args ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tidemark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs(append(args, "--config", path))
	require.NoError(t, root.Execute())
	return out.String()
}

func TestStreamsCommand(t *testing.T) {
	out := execute(t, "streams")

	assert.Contains(t, out, "general_ledger_transactions")
	assert.Contains(t, out, "batchNumber")
	assert.Contains(t, out, "sales_reports")
	assert.Contains(t, out, "file_metadata")
	assert.Regexp(t, `erp\s+inventory\s+inventory\s+\S+\s+inventoryId\s+lastModifiedDateTime\s+5000\s+per-tenant`, out)
	assert.Regexp(t, `gdrive\s+sales_reports\s+sales_reports\s+append\s+\S*\s*modifiedTime\s+-\s+shared`, out)
}

func TestConfigShowMasksSecrets(t *testing.T) {
	out := execute(t, "config", "show")

	assert.Contains(t, out, "client_id: cid")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "****")
}

func TestConnectorsCommand(t *testing.T) {
	out := execute(t, "connectors")

	for _, name := range []string{"erp", "gdrive", "jsonl", "postgres", "gcs", "kafka", "mongodb"} {
		assert.Contains(t, out, name)
	}
}
