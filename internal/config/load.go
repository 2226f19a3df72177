package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// METRICD_SERVER_ADDR overrides server.addr.
const EnvPrefix = "METRICD"

// SetDefaults registers the daemon defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.addr", ":9103")
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.default_interval", 10*time.Second)
	v.SetDefault("dispatch.max_read_interval", time.Hour)
	v.SetDefault("dispatch.failure_threshold", 3)
	v.SetDefault("plugins.javascript.enabled", true)
	v.SetDefault("plugins.exporter.enabled", true)
	v.SetDefault("plugins.exporter.path", "/metrics")
	v.SetDefault("plugins.stream.enabled", true)
	v.SetDefault("plugins.archive.enabled", false)
	v.SetDefault("plugins.archive.path", "metricd.db")
	v.SetDefault("plugins.archive.retention", 24*time.Hour)
	v.SetDefault("plugins.mqtt.enabled", false)
	v.SetDefault("plugins.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("plugins.mqtt.topic_prefix", "metricd")
	v.SetDefault("plugins.mqtt.client_id", "metricd")
}

// Load reads the configuration file at path (or metricd.yaml from the
// working directory and /etc/metricd when path is empty), applies defaults
// and environment overrides, and attaches the ordered file tree.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("metricd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/metricd")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := New(v)
	if used := v.ConfigFileUsed(); used != "" {
		data, err := os.ReadFile(used)
		if err != nil {
			return nil, fmt.Errorf("read config tree: %w", err)
		}
		tree, err := ParseTree(data)
		if err != nil {
			return nil, fmt.Errorf("parse config tree %s: %w", used, err)
		}
		cfg.WithTree(tree)
	}
	return cfg, nil
}
