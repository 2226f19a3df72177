package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/metricd/pkg/plugin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigGetters(t *testing.T) {
	v := viper.New()
	v.Set("name", "demo")
	v.Set("port", 9103)
	v.Set("enabled", true)
	v.Set("timeout", "5s")
	v.Set("include", []string{"a.js", "b.js"})
	cfg := New(v)

	assert.Equal(t, "demo", cfg.GetString("name"))
	assert.Equal(t, 9103, cfg.GetInt("port"))
	assert.True(t, cfg.GetBool("enabled"))
	assert.Equal(t, 5*time.Second, cfg.GetDuration("timeout"))
	assert.Equal(t, []string{"a.js", "b.js"}, cfg.GetStringSlice("include"))
	assert.True(t, cfg.IsSet("name"))
	assert.False(t, cfg.IsSet("missing"))
}

func TestConfigSub(t *testing.T) {
	v := viper.New()
	v.Set("plugins.javascript.enabled", true)
	v.Set("plugins.javascript.drain_timeout", "2s")
	cfg := New(v)

	sub := cfg.Sub("plugins.javascript")
	require.NotNil(t, sub)
	assert.True(t, sub.GetBool("enabled"))
	assert.Equal(t, 2*time.Second, sub.GetDuration("drain_timeout"))
}

func TestConfigSubMissing(t *testing.T) {
	cfg := New(viper.New())

	sub := cfg.Sub("nonexistent")
	require.NotNil(t, sub, "Sub should return an empty Config, not nil")
	assert.Equal(t, "", sub.GetString("anything"))
	assert.Nil(t, sub.Node())
}

func TestNilViper(t *testing.T) {
	cfg := New(nil)
	assert.Equal(t, "", cfg.GetString("key"))
}

func TestUnmarshalValid(t *testing.T) {
	type target struct {
		Name   string `mapstructure:"name" validate:"required"`
		Script string `mapstructure:"script" validate:"required"`
	}

	v := viper.New()
	v.Set("name", "demo")
	var ok target
	err := UnmarshalValid(New(v), &ok)
	assert.Error(t, err, "missing script must fail validation")

	v.Set("script", "demo.js")
	require.NoError(t, UnmarshalValid(New(v), &ok))
	assert.Equal(t, "demo.js", ok.Script)
}

const sampleYAML = `
server:
  addr: ":9999"
plugins:
  javascript:
    instances:
      - name: first
        script: first.js
        config:
          zeta: 1
          alpha: [two, 3, true]
          match: !regex "^eth[0-9]+$"
          target:
            - host: a
            - host: b
      - name: second
        script: second.js
`

func TestParseTreeKeepsOrderAndTypes(t *testing.T) {
	tree, err := ParseTree([]byte(sampleYAML))
	require.NoError(t, err)

	instances := tree.Lookup("plugins", "javascript").ChildrenNamed("instances")
	require.Len(t, instances, 2)
	assert.Equal(t, "second", instances[1].Child("name").Values[0].String)

	conf := instances[0].Child("config")
	require.NotNil(t, conf)
	keys := make([]string, 0, len(conf.Children))
	for _, c := range conf.Children {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{"zeta", "alpha", "match", "target", "target"}, keys)

	assert.Equal(t, plugin.ConfigValue{Kind: plugin.ConfigNumber, Number: 1}, conf.Child("zeta").Values[0])
	assert.Equal(t, []plugin.ConfigValue{
		{Kind: plugin.ConfigString, String: "two"},
		{Kind: plugin.ConfigNumber, Number: 3},
		{Kind: plugin.ConfigBool, Bool: true},
	}, conf.Child("alpha").Values)
	assert.Equal(t, plugin.ConfigRegex, conf.Child("match").Values[0].Kind)

	targets := conf.ChildrenNamed("target")
	assert.Equal(t, "b", targets[1].Child("host").Values[0].String)
}

func TestParseTreeRejectsScalarDocument(t *testing.T) {
	_, err := ParseTree([]byte("just a string"))
	assert.Error(t, err)
}

func TestLoadAttachesTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metricd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.GetString("server.addr"))
	assert.Equal(t, 256, cfg.GetInt("dispatch.queue_size"), "defaults apply")

	js := cfg.Sub("plugins.javascript")
	require.NotNil(t, js.Node())
	assert.Len(t, js.Node().ChildrenNamed("instances"), 2)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
