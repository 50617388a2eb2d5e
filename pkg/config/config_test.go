package config

import (
	"github.com/saylorsolutions/routelog/pkg/entries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const fullConfig = `
rules: rules.routelog
logging: {level: debug, format: json}
extractor:
  kind: cut
  delimiter: "|"
  cut: {timestamp: 0, severity: 1}
  remainder: message
sources:
  - kind: file.Tail
    name: app
    args: {path: /var/log/app.log, from: end}
    join: ['^\d{4}-']
    exclude: ['^DEBUG', healthz]
destinations:
  alerts: {kind: file.File, args: {path: ./alerts.log, mode: 644}}
  archive: {kind: sqlite.Table, args: {file: ./archive.db, table: events}}
router:
  queue_size: 10
  max_retries: 0
  write_timeout_ms: 250
reload: {watch: true, debounce_ms: 50}
admin: {listen: "127.0.0.1:8080"}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routelog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, fullConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(path), "rules.routelog"), cfg.Rules)
	assert.Equal(t, LoggingConfig{Level: "debug", Format: FormatJSON}, cfg.Logging)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "file.Tail", cfg.Sources[0].Kind)
	assert.Equal(t, "app", cfg.Sources[0].Name)
	assert.Equal(t, map[string]string{"path": "/var/log/app.log", "from": "end"}, cfg.Sources[0].Args)
	assert.Equal(t, []string{`^\d{4}-`}, cfg.Sources[0].Join)
	excluded, err := cfg.Sources[0].Excluded()
	require.NoError(t, err)
	assert.True(t, excluded("GET /healthz 200"))
	assert.True(t, excluded("DEBUG noise"))
	assert.False(t, excluded("2023-01-01 INFO DEBUG"))
	assert.Equal(t, []string{"alerts", "archive"}, cfg.DestinationNames())
	assert.Equal(t, "644", cfg.Destinations["alerts"].Args["mode"], "Numbers should be kept as strings")

	opts := cfg.Router.Options()
	assert.Equal(t, 10, opts.QueueSize)
	assert.Equal(t, 0, opts.MaxRetries, "An explicit zero should not be replaced by the default")
	assert.Equal(t, 250*time.Millisecond, opts.WriteTimeout)
	assert.Equal(t, time.Second, opts.EnqueueTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Reload.Debounce())
	assert.True(t, cfg.Reload.Watch)
	assert.Equal(t, "127.0.0.1:8080", cfg.Admin.Listen)

	ex, err := cfg.Extractor.Build()
	require.NoError(t, err)
	e := entries.Extract(ex, "2023-01-01|ERROR|disk|full", 1, "app")
	sev, _ := e.Get("severity")
	msg, _ := e.Get("message")
	assert.Equal(t, "ERROR", sev)
	assert.Equal(t, "disk|full", msg)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []SourceConfig{{Kind: "std.In"}}, cfg.Sources)
	assert.Empty(t, cfg.Destinations)
	assert.Equal(t, ExtractRegex, cfg.Extractor.Kind)
	assert.Equal(t, 3, cfg.Router.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, FormatAuto, cfg.Logging.Format)

	ex, err := cfg.Extractor.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"line", "timestamp", "source", "severity", "message"}, entries.WellKnown(ex))
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROUTELOG_RULES", "/etc/routelog/rules")
	t.Setenv("ROUTELOG_LOG_LEVEL", "warn")
	t.Setenv("ROUTELOG_ADMIN_LISTEN", "")
	t.Setenv("ROUTELOG_RELOAD_WATCH", "off")
	t.Setenv("ROUTELOG_WRITE_TIMEOUT_MS", "75")

	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)
	assert.Equal(t, "/etc/routelog/rules", cfg.Rules)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "", cfg.Admin.Listen, "An empty override should disable the admin server")
	assert.False(t, cfg.Reload.Watch)
	assert.Equal(t, 75, cfg.Router.WriteTimeoutMs)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":            "rules: [",
		"unknown key":         "rulez: x",
		"log level":           "logging: {level: loud}",
		"log format":          "logging: {format: xml}",
		"extractor kind":      "extractor: {kind: csv}",
		"no named groups":     "extractor: {kind: regex, pattern: '(a)'}",
		"bad pattern":         "extractor: {kind: regex, pattern: '(?P<a>'}",
		"json no fields":      "extractor: {kind: json}",
		"cut reserved":        "extractor: {kind: cut, cut: {line: 0}}",
		"cut same index":      "extractor: {kind: cut, cut: {a: 0, b: 0}}",
		"source kind":         "sources: [{args: {path: x}}]",
		"source exclude":      "sources: [{kind: std.In, exclude: ['(']}]",
		"destination kind":    "destinations: {alerts: {args: {path: x}}}",
		"destination keyword": "destinations: {stop: {kind: std.Out}}",
		"destination name":    "destinations: {'my dest': {kind: std.Out}}",
		"retries":             "router: {max_retries: -1}",
		"backoff":             "router: {initial_backoff_ms: 500, max_backoff_ms: 100}",
	}

	for name, text := range tests {
		text := text
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(text))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, IsIdentifier("alerts"))
	assert.True(t, IsIdentifier("app.errors-2"))
	assert.False(t, IsIdentifier("route"))
	assert.False(t, IsIdentifier("2fast"))
	assert.False(t, IsIdentifier(""))
	assert.False(t, IsIdentifier("a b"))
}
