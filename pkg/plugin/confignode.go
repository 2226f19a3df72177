package plugin

import (
	"strconv"
	"strings"
)

// ConfigValueKind tags a leaf value of a ConfigNode.
type ConfigValueKind int

const (
	ConfigString ConfigValueKind = iota
	ConfigNumber
	ConfigBool
	ConfigRegex
)

// ConfigValue is one typed leaf value. String holds the pattern for
// ConfigRegex values.
type ConfigValue struct {
	Kind   ConfigValueKind
	String string
	Number float64
	Bool   bool
}

func (v ConfigValue) Text() string {
	switch v.Kind {
	case ConfigNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case ConfigBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.String
	}
}

// ConfigNode is an ordered configuration tree node: a key, its leaf values
// and its child blocks, all in file order.
type ConfigNode struct {
	Key      string
	Values   []ConfigValue
	Children []*ConfigNode
}

// Child returns the first child whose key matches, ignoring case.
func (n *ConfigNode) Child(key string) *ConfigNode {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if strings.EqualFold(c.Key, key) {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child whose key matches, ignoring case.
func (n *ConfigNode) ChildrenNamed(key string) []*ConfigNode {
	if n == nil {
		return nil
	}
	var out []*ConfigNode
	for _, c := range n.Children {
		if strings.EqualFold(c.Key, key) {
			out = append(out, c)
		}
	}
	return out
}

// Lookup follows a path of child keys. An empty path returns n.
func (n *ConfigNode) Lookup(path ...string) *ConfigNode {
	cur := n
	for _, key := range path {
		if cur = cur.Child(key); cur == nil {
			return nil
		}
	}
	return cur
}
