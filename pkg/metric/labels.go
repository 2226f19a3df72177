package metric

import (
	"strconv"
	"strings"
)

// Label is a single name/value pair.
type Label struct {
	Name  string
	Value string
}

// LabelSet is an ordered list of labels. Only Set enforces unique names;
// producers appending directly are responsible for uniqueness.
type LabelSet []Label

// Labels builds a LabelSet from alternating name, value arguments. A
// trailing odd argument is ignored.
func Labels(pairs ...string) LabelSet {
	ls := make(LabelSet, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ls = append(ls, Label{Name: pairs[i], Value: pairs[i+1]})
	}
	return ls
}

// Get returns the value of the named label.
func (ls LabelSet) Get(name string) (string, bool) {
	for _, l := range ls {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing label or appends a new one.
func (ls *LabelSet) Set(name, value string) {
	for i := range *ls {
		if (*ls)[i].Name == name {
			(*ls)[i].Value = value
			return
		}
	}
	*ls = append(*ls, Label{Name: name, Value: value})
}

// Delete removes the named label and reports whether it was present.
func (ls *LabelSet) Delete(name string) bool {
	for i := range *ls {
		if (*ls)[i].Name == name {
			*ls = append((*ls)[:i], (*ls)[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (ls LabelSet) Clone() LabelSet {
	return cloneSlice(ls)
}

// Equal compares names, values and order. Nil and empty sets are equal.
func (ls LabelSet) Equal(o LabelSet) bool {
	return sliceEqual(ls, o)
}

// Map returns the labels as a map. Later duplicates win.
func (ls LabelSet) Map() map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		m[l.Name] = l.Value
	}
	return m
}

// String renders the set as {name="value", ...}.
func (ls LabelSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, l := range ls {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(l.Name)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(l.Value))
	}
	b.WriteByte('}')
	return b.String()
}
