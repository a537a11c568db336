package props

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// A Map holds driver properties as strings, the way they arrive in URIs and
// on the command line. Typed getters parse on access.
type Map struct {
	values map[string]string
}

func New() *Map {
	return &Map{values: make(map[string]string)}
}

// FromMap copies m into a new property map.
func FromMap(m map[string]string) *Map {
	p := New()
	for k, v := range m {
		p.values[k] = v
	}
	return p
}

// Clone returns an independent copy of p.
func (p *Map) Clone() *Map {
	return FromMap(p.values)
}

func (p *Map) Set(key, value string) {
	p.values[key] = value
}

// SetDefault sets key only if it is not already present.
func (p *Map) SetDefault(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.values[key] = value
	}
}

// Has reports whether key or any of its aliases is set.
func (p *Map) Has(key string, aliases ...string) bool {
	_, ok := p.lookup(key, aliases)
	return ok
}

// Keys returns all keys in sorted order.
func (p *Map) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Map) lookup(key string, aliases []string) (string, bool) {
	if v, ok := p.values[key]; ok {
		return v, true
	}
	for _, a := range aliases {
		if v, ok := p.values[a]; ok {
			return v, true
		}
	}
	return "", false
}

// String returns the value of key (or the first alias present), or def.
func (p *Map) String(key, def string, aliases ...string) string {
	if v, ok := p.lookup(key, aliases); ok {
		return v
	}
	return def
}

// Int parses key as an integer.
func (p *Map) Int(key string, def int, aliases ...string) (int, error) {
	v, ok := p.lookup(key, aliases)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, errors.Errorf("property %s: invalid integer '%s'", key, v)
	}
	return n, nil
}

// Float parses key as a floating point number.
func (p *Map) Float(key string, def float64, aliases ...string) (float64, error) {
	v, ok := p.lookup(key, aliases)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, errors.Errorf("property %s: invalid number '%s'", key, v)
	}
	return f, nil
}

// Bool parses key as a boolean. A key that is present with an empty value
// counts as true, so flags like "loop" need no value.
func (p *Map) Bool(key string, def bool, aliases ...string) (bool, error) {
	v, ok := p.lookup(key, aliases)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1", "t", "true", "yes", "on":
		return true, nil
	case "0", "f", "false", "no", "off":
		return false, nil
	}
	return def, errors.Errorf("property %s: invalid boolean '%s'", key, v)
}

// List returns key as a list. Values in bracketed list syntax, "[a,b,c]", are
// split on commas; any other value is a one-element list.
func (p *Map) List(key string, aliases ...string) []string {
	v, ok := p.lookup(key, aliases)
	if !ok {
		return nil
	}
	return ParseList(v)
}

// ParseList splits "[a,b,c]" into its elements.
func ParseList(v string) []string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "[") || !strings.HasSuffix(v, "]") {
		if v == "" {
			return nil
		}
		return []string{v}
	}
	inner := strings.TrimSpace(v[1 : len(v)-1])
	if inner == "" {
		return nil
	}
	parts := strings.Split(inner, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Parse reads a comma-separated "key=value" list, as found between the brackets
// of a camera URI. Commas inside nested brackets belong to the value, so list
// values can be written inline: "Channels=[a,b],Loop=1".
func Parse(s string) (*Map, error) {
	p := New()
	for _, item := range splitTopLevel(s) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		kv := strings.SplitN(item, "=", 2)
		key := strings.TrimSpace(kv[0])
		if key == "" {
			return nil, errors.Errorf("property list: missing key in '%s'", item)
		}
		var value string
		if len(kv) == 2 {
			value = strings.TrimSpace(kv[1])
		}
		p.values[key] = value
	}
	return p, nil
}

func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// Merge copies every property of other into p, overwriting existing keys.
func (p *Map) Merge(other *Map) {
	if other == nil {
		return
	}
	for k, v := range other.values {
		p.values[k] = v
	}
}

// UnmarshalYAML accepts a mapping of scalars and sequences. Sequences become
// bracketed lists.
func (p *Map) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if p.values == nil {
		p.values = make(map[string]string)
	}
	for k, v := range raw {
		switch v := v.(type) {
		case []interface{}:
			items := make([]string, len(v))
			for i := range v {
				items[i] = fmt.Sprint(v[i])
			}
			p.values[k] = "[" + strings.Join(items, ",") + "]"
		case nil:
			p.values[k] = ""
		case map[string]interface{}:
			return errors.Errorf("property %s: nested mappings are not supported", k)
		default:
			p.values[k] = fmt.Sprint(v)
		}
	}
	return nil
}

// MarshalYAML writes the raw string values.
func (p *Map) MarshalYAML() (interface{}, error) {
	return p.values, nil
}

// LoadYAML parses a YAML mapping into a property map.
func LoadYAML(data []byte) (*Map, error) {
	p := New()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, "properties")
	}
	return p, nil
}

// Encode renders p back into property list syntax, with sorted keys.
func (p *Map) Encode() string {
	var b strings.Builder
	for i, k := range p.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		if v := p.values[k]; v != "" {
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}
