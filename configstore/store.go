// Package configstore is a hierarchical namespace of groups and string
// parameters addressed by slash-separated paths.
//
// A Store is safe for concurrent use. Copies made with Alias share the
// same data and lock, copies made with DeepCopy are independent.
package configstore

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type group struct {
	name   string
	groups map[string]*group
	params map[string]*param
}

type param struct {
	name  string
	value string
}

func newGroup(name string) *group {
	return &group{
		name:   name,
		groups: make(map[string]*group),
		params: make(map[string]*param),
	}
}

func (g *group) clone(name string) *group {
	out := newGroup(name)
	for k, p := range g.params {
		out.params[k] = &param{name: p.name, value: p.value}
	}
	for k, child := range g.groups {
		out.groups[k] = child.clone(child.name)
	}
	return out
}

type data struct {
	mu   sync.Mutex
	root *group
}

// Store is a handle on a configuration tree.
type Store struct {
	d atomic.Pointer[data]
}

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.d.Store(&data{root: newGroup("")})
	return s
}

// Alias returns a store sharing data with s: changes through either are
// visible to both.
func (s *Store) Alias() *Store {
	out := &Store{}
	out.d.Store(s.d.Load())
	return out
}

// Assign makes s an alias of other, dropping its previous data.
func (s *Store) Assign(other *Store) {
	s.d.Store(other.d.Load())
}

// DeepCopy returns an independent copy of s.
func (s *Store) DeepCopy() *Store {
	d := s.lock()
	defer d.mu.Unlock()

	out := &Store{}
	out.d.Store(&data{root: d.root.clone("")})
	return out
}

// ReplaceWith replaces the content of s with a copy of other's content.
// Aliases of s observe the new content.
func (s *Store) ReplaceWith(other *Store) {
	od := other.lock()
	root := od.root.clone("")
	od.mu.Unlock()

	d := s.lock()
	defer d.mu.Unlock()
	d.root = root
}

// Clear removes every group and parameter.
func (s *Store) Clear() {
	d := s.lock()
	defer d.mu.Unlock()
	d.root = newGroup("")
}

func (s *Store) lock() *data {
	d := s.d.Load()
	d.mu.Lock()
	return d
}

func (d *data) find(segs []string) *group {
	g := d.root
	for _, seg := range segs {
		child, ok := g.groups[Key(seg)]
		if !ok {
			return nil
		}
		g = child
	}
	return g
}

// CreateGroup creates the group at path together with any missing parent.
func (s *Store) CreateGroup(path string) error {
	segs := Segments(path)
	if len(segs) == 0 {
		return AlreadyExistingGroupError{Path: Clean(path)}
	}
	for _, seg := range segs {
		if !validName(seg) {
			return InvalidNameError{Name: seg}
		}
	}

	d := s.lock()
	defer d.mu.Unlock()
	g := d.root
	for i, seg := range segs {
		child, ok := g.groups[Key(seg)]
		if ok {
			if i == len(segs)-1 {
				return AlreadyExistingGroupError{Path: Clean(path)}
			}
			g = child
			continue
		}
		child = newGroup(seg)
		g.groups[Key(seg)] = child
		g = child
	}
	return nil
}

// CreateSubGroup creates the group name inside the existing group parent.
func (s *Store) CreateSubGroup(parent, name string) error {
	if !validName(name) {
		return InvalidNameError{Name: name}
	}

	d := s.lock()
	defer d.mu.Unlock()
	g := d.find(Segments(parent))
	if g == nil {
		return NonExistentGroupError{Path: Clean(parent)}
	}
	if _, ok := g.groups[Key(name)]; ok {
		return AlreadyExistingGroupError{Path: Join(parent, name)}
	}
	g.groups[Key(name)] = newGroup(name)
	return nil
}

// GroupExists reports whether path names a group. The root always exists.
func (s *Store) GroupExists(path string) bool {
	d := s.lock()
	defer d.mu.Unlock()
	return d.find(Segments(path)) != nil
}

// DeleteGroup removes the group at path and everything below it.
func (s *Store) DeleteGroup(path string) error {
	segs := Segments(path)
	if len(segs) == 0 {
		return InvalidNameError{Name: path}
	}

	d := s.lock()
	defer d.mu.Unlock()
	parent := d.find(segs[:len(segs)-1])
	key := Key(segs[len(segs)-1])
	if parent == nil || parent.groups[key] == nil {
		return NonExistentGroupError{Path: Clean(path)}
	}
	delete(parent.groups, key)
	return nil
}

// RenameGroup gives the group at path the new name, keeping its parent.
func (s *Store) RenameGroup(path, newName string) error {
	if !validName(newName) {
		return InvalidNameError{Name: newName}
	}
	segs := Segments(path)
	if len(segs) == 0 {
		return InvalidNameError{Name: path}
	}

	d := s.lock()
	defer d.mu.Unlock()
	parent := d.find(segs[:len(segs)-1])
	oldKey := Key(segs[len(segs)-1])
	if parent == nil || parent.groups[oldKey] == nil {
		return NonExistentGroupError{Path: Clean(path)}
	}
	newKey := Key(newName)
	if newKey == oldKey {
		parent.groups[oldKey].name = newName
		return nil
	}
	if _, ok := parent.groups[newKey]; ok {
		return AlreadyExistingGroupError{Path: Join(strings.Join(segs[:len(segs)-1], Separator), newName)}
	}
	g := parent.groups[oldKey]
	delete(parent.groups, oldKey)
	g.name = newName
	parent.groups[newKey] = g
	return nil
}

// CopyGroup copies the subtree at src to dst. Missing parents of dst are
// created; dst itself must not exist.
func (s *Store) CopyGroup(src, dst string) error {
	dstSegs := Segments(dst)
	if len(dstSegs) == 0 {
		return AlreadyExistingGroupError{Path: ""}
	}
	for _, seg := range dstSegs {
		if !validName(seg) {
			return InvalidNameError{Name: seg}
		}
	}

	d := s.lock()
	defer d.mu.Unlock()
	from := d.find(Segments(src))
	if from == nil {
		return NonExistentGroupError{Path: Clean(src)}
	}
	if d.find(dstSegs) != nil {
		return AlreadyExistingGroupError{Path: Clean(dst)}
	}
	name := dstSegs[len(dstSegs)-1]
	copied := from.clone(name)

	g := d.root
	for _, seg := range dstSegs[:len(dstSegs)-1] {
		child, ok := g.groups[Key(seg)]
		if !ok {
			child = newGroup(seg)
			g.groups[Key(seg)] = child
		}
		g = child
	}
	g.groups[Key(name)] = copied
	return nil
}

// CreateParameter adds the parameter name with value to group.
func (s *Store) CreateParameter(group, name, value string) error {
	if !validName(name) {
		return InvalidNameError{Name: name}
	}

	d := s.lock()
	defer d.mu.Unlock()
	g := d.find(Segments(group))
	if g == nil {
		return NonExistentGroupError{Path: Clean(group)}
	}
	if _, ok := g.params[Key(name)]; ok {
		return AlreadyExistingParameterError{Path: Join(group, name)}
	}
	g.params[Key(name)] = &param{name: name, value: value}
	return nil
}

func (d *data) findParam(path string) (*param, error) {
	segs := Segments(path)
	if len(segs) == 0 {
		return nil, InvalidNameError{Name: path}
	}
	g := d.find(segs[:len(segs)-1])
	if g == nil {
		return nil, NonExistentGroupError{Path: strings.Join(segs[:len(segs)-1], Separator)}
	}
	p, ok := g.params[Key(segs[len(segs)-1])]
	if !ok {
		return nil, NonExistentParameterError{Path: Clean(path)}
	}
	return p, nil
}

// ParameterExists reports whether path names a parameter.
func (s *Store) ParameterExists(path string) bool {
	d := s.lock()
	defer d.mu.Unlock()
	_, err := d.findParam(path)
	return err == nil
}

// DeleteParameter removes the parameter at path.
func (s *Store) DeleteParameter(path string) error {
	d := s.lock()
	defer d.mu.Unlock()
	if _, err := d.findParam(path); err != nil {
		return err
	}
	dir, name := Split(path)
	delete(d.find(Segments(dir)).params, name)
	return nil
}

// Value returns the value of the parameter at path.
func (s *Store) Value(path string) (string, error) {
	d := s.lock()
	defer d.mu.Unlock()
	p, err := d.findParam(path)
	if err != nil {
		return "", err
	}
	return p.value, nil
}

// SetValue changes the value of the existing parameter at path.
func (s *Store) SetValue(path, value string) error {
	d := s.lock()
	defer d.mu.Unlock()
	p, err := d.findParam(path)
	if err != nil {
		return err
	}
	p.value = value
	return nil
}

// ValueAlsoMatchParents looks the parameter up in its group and then in
// every enclosing group up to the root, returning the nearest value.
func (s *Store) ValueAlsoMatchParents(path string) (string, error) {
	segs := Segments(path)
	if len(segs) == 0 {
		return "", InvalidNameError{Name: path}
	}
	key := Key(segs[len(segs)-1])
	groups := segs[:len(segs)-1]

	d := s.lock()
	defer d.mu.Unlock()
	if d.find(groups) == nil {
		return "", NonExistentGroupError{Path: strings.Join(groups, Separator)}
	}
	for i := len(groups); i >= 0; i-- {
		g := d.find(groups[:i])
		if p, ok := g.params[key]; ok {
			return p.value, nil
		}
	}
	return "", NonExistentParameterError{Path: Clean(path)}
}

// Groups lists the names of the groups directly inside path.
func (s *Store) Groups(path string) ([]string, error) {
	return s.listGroups(path, nil)
}

// GroupsWithPrefix lists the groups inside path whose name starts with prefix.
func (s *Store) GroupsWithPrefix(path, prefix string) ([]string, error) {
	return s.listGroups(path, func(name string) bool { return strings.HasPrefix(name, prefix) })
}

// FilteredGroups lists the groups inside path whose name matches re.
func (s *Store) FilteredGroups(path string, re *regexp.Regexp) ([]string, error) {
	return s.listGroups(path, re.MatchString)
}

// Parameters lists the names of the parameters of the group at path.
func (s *Store) Parameters(path string) ([]string, error) {
	return s.listParams(path, nil)
}

// ParametersWithPrefix lists the parameters of path starting with prefix.
func (s *Store) ParametersWithPrefix(path, prefix string) ([]string, error) {
	return s.listParams(path, func(name string) bool { return strings.HasPrefix(name, prefix) })
}

// FilteredParameters lists the parameters of path whose name matches re.
func (s *Store) FilteredParameters(path string, re *regexp.Regexp) ([]string, error) {
	return s.listParams(path, re.MatchString)
}

func (s *Store) listGroups(path string, keep func(string) bool) ([]string, error) {
	d := s.lock()
	defer d.mu.Unlock()
	g := d.find(Segments(path))
	if g == nil {
		return nil, NonExistentGroupError{Path: Clean(path)}
	}
	out := make([]string, 0, len(g.groups))
	for _, child := range g.groups {
		if keep == nil || keep(child.name) {
			out = append(out, child.name)
		}
	}
	sortNames(out)
	return out, nil
}

func (s *Store) listParams(path string, keep func(string) bool) ([]string, error) {
	d := s.lock()
	defer d.mu.Unlock()
	g := d.find(Segments(path))
	if g == nil {
		return nil, NonExistentGroupError{Path: Clean(path)}
	}
	out := make([]string, 0, len(g.params))
	for _, p := range g.params {
		if keep == nil || keep(p.name) {
			out = append(out, p.name)
		}
	}
	sortNames(out)
	return out, nil
}

func sortNames(names []string) {
	sort.Slice(names, func(i, j int) bool { return Less(names[i], names[j]) })
}

// Dump renders the subtree at path as sorted "relative/path=value" lines.
// Two subtrees with the same content produce the same dump.
func (s *Store) Dump(path string) (string, error) {
	d := s.lock()
	defer d.mu.Unlock()
	g := d.find(Segments(path))
	if g == nil {
		return "", NonExistentGroupError{Path: Clean(path)}
	}
	var b strings.Builder
	dumpGroup(&b, "", g)
	return b.String(), nil
}

func dumpGroup(b *strings.Builder, prefix string, g *group) {
	for _, p := range sortedParams(g) {
		b.WriteString(prefix)
		b.WriteString(Key(p.name))
		b.WriteByte('=')
		b.WriteString(p.value)
		b.WriteByte('\n')
	}
	for _, child := range sortedGroups(g) {
		childPrefix := prefix + Key(child.name) + Separator
		b.WriteString(childPrefix)
		b.WriteByte('\n')
		dumpGroup(b, childPrefix, child)
	}
}

func sortedGroups(g *group) []*group {
	out := make([]*group, 0, len(g.groups))
	for _, child := range g.groups {
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i].name, out[j].name) })
	return out
}

func sortedParams(g *group) []*param {
	out := make([]*param, 0, len(g.params))
	for _, p := range g.params {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i].name, out[j].name) })
	return out
}
