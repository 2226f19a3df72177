package config

import (
	"fmt"
	"strconv"

	"github.com/HerbHall/metricd/pkg/plugin"
	"gopkg.in/yaml.v3"
)

// RegexTag marks a YAML scalar as a regular expression: `match: !regex ^eth`.
const RegexTag = "!regex"

// ParseTree parses a YAML document into an ordered ConfigNode tree.
//
// A mapping entry becomes a child node keyed by the entry name. Scalars and
// sequences of scalars become the node's values. A sequence of mappings
// becomes one child per element, all sharing the entry name.
func ParseTree(data []byte) (*plugin.ConfigNode, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	root := &plugin.ConfigNode{}
	if len(doc.Content) == 0 {
		return root, nil
	}
	body := resolve(doc.Content[0])
	if body.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping", body.Line)
	}
	children, err := mappingChildren(body)
	if err != nil {
		return nil, err
	}
	root.Children = children
	return root, nil
}

func mappingChildren(m *yaml.Node) ([]*plugin.ConfigNode, error) {
	var out []*plugin.ConfigNode
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i].Value
		nodes, err := entryNodes(key, resolve(m.Content[i+1]))
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func entryNodes(key string, v *yaml.Node) ([]*plugin.ConfigNode, error) {
	switch v.Kind {
	case yaml.ScalarNode:
		n := &plugin.ConfigNode{Key: key}
		if val, ok := scalarValue(v); ok {
			n.Values = []plugin.ConfigValue{val}
		}
		return []*plugin.ConfigNode{n}, nil

	case yaml.MappingNode:
		children, err := mappingChildren(v)
		if err != nil {
			return nil, err
		}
		return []*plugin.ConfigNode{{Key: key, Children: children}}, nil

	case yaml.SequenceNode:
		if allScalars(v) {
			n := &plugin.ConfigNode{Key: key}
			for _, item := range v.Content {
				if val, ok := scalarValue(resolve(item)); ok {
					n.Values = append(n.Values, val)
				}
			}
			return []*plugin.ConfigNode{n}, nil
		}
		var out []*plugin.ConfigNode
		for _, item := range v.Content {
			nodes, err := entryNodes(key, resolve(item))
			if err != nil {
				return nil, err
			}
			out = append(out, nodes...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: unsupported value for %q", v.Line, key)
}

func allScalars(seq *yaml.Node) bool {
	for _, item := range seq.Content {
		if resolve(item).Kind != yaml.ScalarNode {
			return false
		}
	}
	return true
}

func scalarValue(v *yaml.Node) (plugin.ConfigValue, bool) {
	switch v.ShortTag() {
	case "!!null":
		return plugin.ConfigValue{}, false
	case "!!bool":
		b, err := strconv.ParseBool(v.Value)
		if err == nil {
			return plugin.ConfigValue{Kind: plugin.ConfigBool, Bool: b}, true
		}
		var yb bool
		if v.Decode(&yb) == nil {
			return plugin.ConfigValue{Kind: plugin.ConfigBool, Bool: yb}, true
		}
	case "!!int", "!!float":
		var f float64
		if v.Decode(&f) == nil {
			return plugin.ConfigValue{Kind: plugin.ConfigNumber, Number: f}, true
		}
	case RegexTag:
		return plugin.ConfigValue{Kind: plugin.ConfigRegex, String: v.Value}, true
	}
	return plugin.ConfigValue{Kind: plugin.ConfigString, String: v.Value}, true
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}
