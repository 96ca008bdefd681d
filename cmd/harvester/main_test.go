package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProvidersCommand(t *testing.T) {
	out, err := execute(t, "providers")
	require.NoError(t, err)
	for _, name := range []string{"bigquery", "mongodb", "postgres", "sqlite", "trino"} {
		assert.Contains(t, out, name)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Harvester v")
}

func TestValidateCommand(t *testing.T) {
	valid := writeConfig(t, `
service:
  name: warehouse
source:
  type: sqlite
  properties:
    path: ${HARVESTER_TEST_DB}
sink:
  type: file
  path: /tmp/harvest
`)
	t.Setenv("HARVESTER_TEST_DB", "/tmp/warehouse.db")

	out, err := execute(t, "validate", "--config", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "service warehouse, source sqlite, sink file")

	_, err = execute(t, "validate", "--config", valid, "--sink-type", "ftp")
	assert.Error(t, err)

	badPattern := writeConfig(t, `
service:
  name: warehouse
source:
  type: sqlite
ingestion:
  schema_filter:
    includes: ["("]
`)
	_, err = execute(t, "validate", "--config", badPattern)
	assert.Error(t, err)

	unknown := writeConfig(t, `
service:
  name: warehouse
source:
  type: cobol
`)
	_, err = execute(t, "validate", "--config", unknown)
	assert.ErrorContains(t, err, "unknown source type")

	_, err = execute(t, "validate")
	assert.ErrorContains(t, err, "--config")
}

func TestLoadConfig_KeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: warehouse
source:
  type: sqlite
  properties:
    path: /tmp/warehouse.db
`)
	v := viper.New()
	v.Set("config", path)
	v.Set("sink-type", "file")

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.True(t, cfg.Ingestion.IncludeTables)
	assert.True(t, cfg.Ingestion.IncludeViews)
	assert.True(t, cfg.Ingestion.MarkDeletedTables)
	assert.Equal(t, time.Minute, cfg.Source.Timeouts.Query)
	assert.Equal(t, "file", cfg.Sink.Type)
}

func TestRunCommand_SQLite(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "empty.db")
	require.NoError(t, os.WriteFile(db, nil, 0o600))

	cfg := writeConfig(t, `
service:
  name: warehouse
source:
  type: sqlite
  properties:
    path: `+db+`
sink:
  type: memory
observability:
  log_level: error
`)
	out, err := execute(t, "run", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, `"run_id"`)
	assert.Contains(t, out, `"phase": "done"`)
}

func TestRunCommand_FailedRunExitsWithError(t *testing.T) {
	cfg := writeConfig(t, `
service:
  name: warehouse
source:
  type: sqlite
  properties:
    path: `+filepath.Join(t.TempDir(), "missing", "nope.db")+`
observability:
  log_level: error
`)
	out, err := execute(t, "run", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, out, `"phase": "failed"`)
}
