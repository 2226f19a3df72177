package script

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/HerbHall/metricd/pkg/plugin"
)

// ConfigToValue converts a configuration node into the object handed to
// config hooks: {key, values, childrens}. Regex values become RegExp
// objects; children keep file order.
func (b *Bridge) ConfigToValue(n *plugin.ConfigNode) (goja.Value, error) {
	regexp, ok := goja.AssertConstructor(b.rt.Get("RegExp"))
	if !ok {
		return nil, fmt.Errorf("%w: RegExp constructor unavailable", ErrMarshal)
	}
	return b.configNode(n, regexp)
}

func (b *Bridge) configNode(n *plugin.ConfigNode, regexp goja.Constructor) (*goja.Object, error) {
	values := make([]any, 0, len(n.Values))
	for _, v := range n.Values {
		switch v.Kind {
		case plugin.ConfigNumber:
			values = append(values, v.Number)
		case plugin.ConfigBool:
			values = append(values, v.Bool)
		case plugin.ConfigRegex:
			re, err := regexp(nil, b.rt.ToValue(v.String))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: regex %q: %w", ErrMarshal, n.Key, v.String, err)
			}
			values = append(values, re)
		default:
			values = append(values, v.String)
		}
	}

	children := make([]any, 0, len(n.Children))
	for _, child := range n.Children {
		obj, err := b.configNode(child, regexp)
		if err != nil {
			return nil, err
		}
		children = append(children, obj)
	}

	obj := b.rt.NewObject()
	_ = obj.Set("key", n.Key)
	_ = obj.Set("values", b.rt.NewArray(values...))
	_ = obj.Set("childrens", b.rt.NewArray(children...))
	return obj, nil
}
