package color

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrColorNotFound is returned by Table.Lookup for unknown names.
var ErrColorNotFound = errors.New("color: name not in table")

//go:embed colors.yaml
var builtinColors []byte

// Named is one record of the static color list.
type Named struct {
	Name  string `yaml:"name"`
	Color Color  `yaml:"color"`
}

// Table maps normalised spoken names to colors. It is read-only once built.
type Table struct {
	entries map[string]Color
}

// NewTable builds a table from records. Two records whose names normalise
// to the same key are rejected.
func NewTable(records []Named) (*Table, error) {
	entries := make(map[string]Color, len(records))
	for _, r := range records {
		key := Normalize(r.Name)
		if key == "" {
			return nil, fmt.Errorf("color: empty name in table")
		}
		if _, dup := entries[key]; dup {
			return nil, fmt.Errorf("color: duplicate name %q (normalised %q)", r.Name, key)
		}
		entries[key] = r.Color
	}
	return &Table{entries: entries}, nil
}

// ParseTable decodes a YAML list of {name, color} records.
func ParseTable(data []byte) (*Table, error) {
	var records []Named
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("color: parsing table: %w", err)
	}
	return NewTable(records)
}

// LoadTable reads a YAML color list from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("color: reading table: %w", err)
	}
	return ParseTable(data)
}

// Builtin returns the table shipped with the binary.
func Builtin() *Table {
	t, err := ParseTable(builtinColors)
	if err != nil {
		panic(err) // embedded data is checked by tests
	}
	return t
}

// Lookup normalises name and returns its color, or ErrColorNotFound.
func (t *Table) Lookup(name string) (Color, error) {
	c, ok := t.entries[Normalize(name)]
	if !ok {
		return Color{}, fmt.Errorf("%q: %w", name, ErrColorNotFound)
	}
	return c, nil
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Names returns the normalised keys in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for k := range t.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
