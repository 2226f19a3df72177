// Package config wraps viper for plugin configuration and keeps an ordered
// copy of the file tree for consumers that need key order.
package config

import (
	"strings"
	"time"

	"github.com/HerbHall/metricd/pkg/plugin"
	"github.com/spf13/viper"
)

// Compile-time interface guard.
var _ plugin.Config = (*Config)(nil)

// Config implements plugin.Config backed by a viper instance.
type Config struct {
	v    *viper.Viper
	tree *plugin.ConfigNode
}

// New wraps v. A nil viper behaves as an empty configuration.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	return &Config{v: v}
}

// WithTree attaches the ordered file tree matching this configuration.
func (c *Config) WithTree(tree *plugin.ConfigNode) *Config {
	c.tree = tree
	return c
}

func (c *Config) GetString(key string) string               { return c.v.GetString(key) }
func (c *Config) GetInt(key string) int                     { return c.v.GetInt(key) }
func (c *Config) GetBool(key string) bool                   { return c.v.GetBool(key) }
func (c *Config) GetDuration(key string) time.Duration      { return c.v.GetDuration(key) }
func (c *Config) GetStringSlice(key string) []string        { return c.v.GetStringSlice(key) }
func (c *Config) IsSet(key string) bool                     { return c.v.IsSet(key) }
func (c *Config) Unmarshal(target any) error                { return c.v.Unmarshal(target) }
func (c *Config) UnmarshalKey(key string, target any) error { return c.v.UnmarshalKey(key, target) }

// Sub returns the subtree at key. Missing keys yield an empty Config, never
// nil.
func (c *Config) Sub(key string) plugin.Config {
	sub := New(c.v.Sub(key))
	if c.tree != nil {
		sub.tree = c.tree.Lookup(strings.Split(key, ".")...)
	}
	return sub
}

// Node returns the ordered tree for this subtree.
func (c *Config) Node() *plugin.ConfigNode {
	return c.tree
}

// Viper exposes the underlying viper instance.
func (c *Config) Viper() *viper.Viper {
	return c.v
}
