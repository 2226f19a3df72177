package plugin

import "time"

// Config is a read-only view of a configuration subtree.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
	IsSet(key string) bool
	Sub(key string) Config
	Unmarshal(target any) error

	// Node returns the ordered tree for this subtree, or nil when the
	// configuration did not come from a file.
	Node() *ConfigNode
}
