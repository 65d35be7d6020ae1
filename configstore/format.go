package configstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format reads and writes a Store from and to a file encoding.
//
// Decode merges the document into the store: mappings become groups and
// scalars become parameters. A list of mappings named n becomes the groups
// n:0, n:1, ...
type Format interface {
	Name() string
	Decode(r io.Reader, s *Store) error
	Encode(w io.Writer, s *Store) error
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]Format{
		".yaml": YAML{},
		".yml":  YAML{},
		".toml": TOML{},
	}
)

// RegisterFormat associates a file extension (with the leading dot) with f.
func RegisterFormat(ext string, f Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[strings.ToLower(ext)] = f
}

// FormatFor returns the format registered for the extension of filename.
func FormatFor(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	f, ok := formats[ext]
	if !ok {
		return nil, fmt.Errorf("no configuration format for extension %q", ext)
	}
	return f, nil
}

// LoadFile reads filename into a new store using the format of its extension.
func LoadFile(filename string) (*Store, error) {
	f, err := FormatFor(filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	s := New()
	if err := f.Decode(file, s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	return s, nil
}

// SaveFile writes s to filename using the format of its extension.
func SaveFile(s *Store, filename string) error {
	f, err := FormatFor(filename)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := f.Encode(&buf, s); err != nil {
		return fmt.Errorf("encode %s: %w", filename, err)
	}
	return os.WriteFile(filename, buf.Bytes(), 0o644)
}

// snapshot copies the tree so encoders run without holding the lock.
func (s *Store) snapshot() *group {
	d := s.lock()
	defer d.mu.Unlock()
	return d.root.clone("")
}

// YAML is the YAML format.
type YAML struct{}

func (YAML) Name() string { return "yaml" }

func (YAML) Decode(r io.Reader, s *Store) error {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: top level must be a mapping", root.Line)
	}
	return decodeYAMLMapping(s, "", root)
}

func decodeYAMLMapping(s *Store, path string, n *yaml.Node) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if err := decodeYAMLValue(s, path, key.Value, val); err != nil {
			return fmt.Errorf("line %d: %w", key.Line, err)
		}
	}
	return nil
}

func decodeYAMLValue(s *Store, path, name string, val *yaml.Node) error {
	switch val.Kind {
	case yaml.ScalarNode:
		return s.CreateParameter(path, name, val.Value)
	case yaml.MappingNode:
		child := Join(path, name)
		if !s.GroupExists(child) {
			if err := s.CreateSubGroup(path, name); err != nil {
				return err
			}
		}
		return decodeYAMLMapping(s, child, val)
	case yaml.SequenceNode:
		for i, item := range val.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("%s[%d]: only lists of mappings are supported", name, i)
			}
			if err := decodeYAMLValue(s, path, name+":"+strconv.Itoa(i), item); err != nil {
				return err
			}
		}
		return nil
	case yaml.AliasNode:
		return decodeYAMLValue(s, path, name, val.Alias)
	default:
		return fmt.Errorf("%s: unsupported yaml node", name)
	}
}

func (YAML) Encode(w io.Writer, s *Store) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(yamlMapping(s.snapshot())); err != nil {
		return err
	}
	return enc.Close()
}

func yamlMapping(g *group) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range sortedParams(g) {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.value},
		)
	}
	for _, child := range sortedGroups(g) {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: child.name},
			yamlMapping(child),
		)
	}
	return n
}

// TOML is the TOML format.
type TOML struct{}

func (TOML) Name() string { return "toml" }

func (TOML) Decode(r io.Reader, s *Store) error {
	var doc map[string]any
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return err
	}
	return decodeTOMLTable(s, "", doc)
}

func decodeTOMLTable(s *Store, path string, table map[string]any) error {
	for _, name := range sortedKeys(table) {
		if err := decodeTOMLValue(s, path, name, table[name]); err != nil {
			return err
		}
	}
	return nil
}

func decodeTOMLValue(s *Store, path, name string, v any) error {
	switch tv := v.(type) {
	case map[string]any:
		child := Join(path, name)
		if !s.GroupExists(child) {
			if err := s.CreateSubGroup(path, name); err != nil {
				return err
			}
		}
		return decodeTOMLTable(s, child, tv)
	case []map[string]any:
		for i, item := range tv {
			if err := decodeTOMLValue(s, path, name+":"+strconv.Itoa(i), item); err != nil {
				return err
			}
		}
		return nil
	case []any:
		return fmt.Errorf("%s: arrays are not supported", Join(path, name))
	case string:
		return s.CreateParameter(path, name, tv)
	case time.Time:
		return s.CreateParameter(path, name, tv.Format(time.RFC3339Nano))
	default:
		return s.CreateParameter(path, name, fmt.Sprint(tv))
	}
}

func (TOML) Encode(w io.Writer, s *Store) error {
	return toml.NewEncoder(w).Encode(tomlTable(s.snapshot()))
}

func tomlTable(g *group) map[string]any {
	out := make(map[string]any, len(g.params)+len(g.groups))
	for _, p := range g.params {
		out[p.name] = p.value
	}
	for _, child := range g.groups {
		out[child.name] = tomlTable(child)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortNames(keys)
	return keys
}
