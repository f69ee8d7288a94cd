package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tidemark/pkg/errors"
)

const sampleYAML = `
erp:
  enabled: true
  client_id: abc
  client_secret: ${TIDEMARK_TEST_SECRET}
  tenant_ids: [t1, t2]
  lookback: 720h
drive:
  enabled: true
  drive_id: shared-1
  folders:
    - folder_id: f1
      table_name: sales
      mime_type: text/csv
      primary_key: [id]
destination:
  type: jsonl
  path: out
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tidemark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TIDEMARK_TEST_SECRET", "s3cret")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.ERP.ClientSecret)
	assert.Equal(t, []string{"t1", "t2"}, cfg.ERP.TenantIDs)
	assert.Equal(t, 720*time.Hour, cfg.ERP.Lookback)
	assert.Equal(t, DefaultERPBaseURL, cfg.ERP.BaseURL)
	assert.Equal(t, 1, cfg.ERP.EmptyPeriodLimit)
	require.Len(t, cfg.Drive.Folders, 1)
	assert.Equal(t, "sales", cfg.Drive.Folders[0].TableName)
	assert.Equal(t, []string{"id"}, cfg.Drive.Folders[0].PrimaryKey)
	assert.Equal(t, "file", cfg.State.Type)
	assert.Equal(t, 3, cfg.Reliability.RetryAttempts)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TIDEMARK_TEST_SECRET", "from-file")
	t.Setenv("TIDEMARK_ERP_CLIENT_SECRET", "from-env")
	t.Setenv("TIDEMARK_RELIABILITY_RETRY_DELAY", "250ms")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.ERP.ClientSecret)
	assert.Equal(t, 250*time.Millisecond, cfg.Reliability.RetryDelay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := NewConfig()
		cfg.ERP.Enabled = true
		cfg.ERP.ClientID = "id"
		cfg.ERP.ClientSecret = "secret"
		cfg.ERP.TenantIDs = []string{"t1"}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"nothing enabled", func(c *Config) { c.ERP.Enabled = false }, false},
		{"no tenants", func(c *Config) { c.ERP.TenantIDs = nil }, false},
		{"zero period limit", func(c *Config) { c.ERP.EmptyPeriodLimit = 0 }, false},
		{"drive without folders", func(c *Config) { c.Drive.Enabled = true }, false},
		{"duplicate tables", func(c *Config) {
			c.Drive.Enabled = true
			f := FolderConfig{FolderID: "f", TableName: "t", MimeType: "text/csv"}
			c.Drive.Folders = []FolderConfig{f, f}
		}, false},
		{"unknown destination", func(c *Config) { c.Destination.Type = "ftp" }, false},
		{"kafka without brokers", func(c *Config) { c.Destination.Type = "kafka" }, false},
		{"postgres state without dsn", func(c *Config) { c.State.Type = "postgres" }, false},
		{"no retries", func(c *Config) { c.Reliability.RetryAttempts = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestDumpMasksSecrets(t *testing.T) {
	cfg := NewConfig()
	cfg.ERP.ClientSecret = "hunter2"
	cfg.State.DSN = "postgres://user:pw@db/tidemark"

	out, err := Dump(cfg)
	require.NoError(t, err)

	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "user:pw")
	assert.Contains(t, string(out), "****")
	assert.Equal(t, "hunter2", cfg.ERP.ClientSecret)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TIDEMARK_A", "x")
	assert.Equal(t, "x-$b-", substituteEnvVars("${TIDEMARK_A}-$b-${TIDEMARK_UNSET_VAR}"))
}
