package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/pkg/plugin"
)

const checkYAML = `
log: {level: warn}
plugins:
  javascript:
    instances:
      - name: good
        source: |
          metricd.registerRead(function read() {
            const f = new MetricFamily("up", MetricFamily.GAUGE);
            f.addMetric(new MetricGauge(1));
            f.dispatch();
          });
      - name: broken
        source: "this is not javascript"
`

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metricd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCmd(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestBadFlagIsUsageError(t *testing.T) {
	code, _, _ := runCmd(t, "version", "--nope")
	assert.Equal(t, 2, code)
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "metricd "), stdout)

	code, stdout, _ = runCmd(t, "version", "--json")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"engine"`)
}

func TestCheckReportsEachInstance(t *testing.T) {
	path := writeConfig(t, checkYAML)
	code, stdout, stderr := runCmd(t, "check", "--config", path)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "good: ok units=[good/read] families=1 notifications=0")
	assert.Contains(t, stdout, "broken: FAIL (failed)")
	assert.Contains(t, stdout, "2 instances, 1 failed")
	assert.Contains(t, stderr, errCheckFailed.Error())
}

func TestCheckPassesWithHealthyInstances(t *testing.T) {
	doc := strings.SplitN(checkYAML, "      - name: broken", 2)[0]
	code, stdout, _ := runCmd(t, "check", "--config", writeConfig(t, doc))
	assert.Equal(t, 0, code, stdout)
	assert.Contains(t, stdout, "1 instances, 0 failed")
}

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "demo.js")
	require.NoError(t, os.WriteFile(scriptPath, []byte(`metricd.info("hi");`), 0o600))

	doc := `
plugins:
  archive:
    path: ` + filepath.Join(dir, "missing.db") + `
  javascript:
    instances:
      - name: demo
        script: ` + scriptPath + `
`
	cfgPath := writeConfig(t, doc)
	out := filepath.Join(dir, "backup.tar.gz")

	code, stdout, stderr := runCmd(t, "backup", "--config", cfgPath, "--output", out)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "backup created")

	target := t.TempDir()
	code, stdout, stderr = runCmd(t, "restore", "--input", out, "--dir", target)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "restored 2 files")
	assert.FileExists(t, filepath.Join(target, "metricd.yaml"))
	assert.FileExists(t, filepath.Join(target, "scripts", "demo.js"))

	code, _, stderr = runCmd(t, "restore", "--input", out, "--dir", target)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--force")
}

func TestRestoreRequiresInput(t *testing.T) {
	code, _, stderr := runCmd(t, "restore")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "--input is required")
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := newLogger("debug", format)
		require.NoError(t, err, format)
		assert.True(t, l.Core().Enabled(zap.DebugLevel))
	}
	_, err := newLogger("loud", "json")
	assert.Error(t, err)
	_, err = newLogger("info", "xml")
	assert.Error(t, err)
}

func TestPluginsForHonorsEnabled(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
plugins:
  stream: {enabled: false}
  mqtt: {enabled: true}
`))
	require.NoError(t, err)

	var names []string
	for _, p := range pluginsFor(cfg) {
		names = append(names, p.Info().Name)
	}
	assert.Equal(t, []string{"exporter", "mqtt", "javascript"}, names)
}

func TestDaemonRunsUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(writeConfig(t, `
server: {addr: "127.0.0.1:0"}
plugins:
  archive: {enabled: true, path: `+filepath.Join(dir, "metricd.db")+`}
  javascript:
    instances:
      - name: demo
        source: metricd.registerRead(function read() {});
`))
	require.NoError(t, err)

	d, err := newDaemon(cfg, zap.NewNop())
	require.NoError(t, err)

	deps := d.deps("archive")
	assert.NotNil(t, deps.Store)
	assert.Equal(t, plugin.Scheduler(d.dispatcher), deps.Scheduler)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, d.run(ctx))

	for _, name := range []string{"exporter", "archive", "stream", "javascript"} {
		_, ok := d.registry.Get(name)
		assert.True(t, ok, name)
		assert.False(t, d.registry.IsDisabled(name), name)
	}
	assert.FileExists(t, filepath.Join(dir, "metricd.db"))
}
