package extvars

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// VariableSet is an ordered string map. Keys keep the position of their first
// occurrence; a repeated key overwrites the value.
type VariableSet struct {
	keys   []string
	values map[string]string
}

// NewVariableSet returns an empty set.
func NewVariableSet() *VariableSet {
	return &VariableSet{values: make(map[string]string)}
}

// Set binds key to value.
func (s *VariableSet) Set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Get returns the value bound to key.
func (s *VariableSet) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	value, ok := s.values[key]
	return value, ok
}

// Value returns the value bound to key or "".
func (s *VariableSet) Value(key string) string {
	value, _ := s.Get(key)
	return value
}

// Keys returns the keys in discovery order.
func (s *VariableSet) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

// Len returns the number of keys.
func (s *VariableSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Map returns a copy of the set as a plain map.
func (s *VariableSet) Map() map[string]string {
	out := make(map[string]string, s.Len())
	if s == nil {
		return out
	}
	for key, value := range s.values {
		out[key] = value
	}
	return out
}

func (s *VariableSet) clone() *VariableSet {
	out := &VariableSet{
		keys:   append([]string(nil), s.keys...),
		values: make(map[string]string, len(s.values)),
	}
	for key, value := range s.values {
		out.values[key] = value
	}
	return out
}

// Parse reads the external variables text. Blank lines, lines starting with
// # and lines without = are skipped. The key is the trimmed text before the
// first =, the value the trimmed remainder.
func Parse(text string) *VariableSet {
	set := NewVariableSet()
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		set.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return set
}

// maxResolvedLen caps a substituted value. A reference whose expansion would
// push the value past it stays literal.
const maxResolvedLen = 1 << 20

// Resolve returns a new set with ${name} references substituted by the
// resolved value of name. References to unknown keys stay literal, as do
// references that lead back to a key already being expanded.
func Resolve(set *VariableSet) *VariableSet {
	if set == nil {
		return NewVariableSet()
	}
	r := &resolver{
		source:    set,
		resolved:  make(map[string]string, set.Len()),
		expanding: make(map[string]bool),
	}
	out := set.clone()
	for _, key := range set.keys {
		out.values[key] = r.resolve(key)
	}
	return out
}

type resolver struct {
	source    *VariableSet
	resolved  map[string]string
	expanding map[string]bool
}

func (r *resolver) resolve(key string) string {
	if value, ok := r.resolved[key]; ok {
		return value
	}
	value := r.source.values[key]
	if !strings.Contains(value, "${") {
		r.resolved[key] = value
		return value
	}

	r.expanding[key] = true
	defer delete(r.expanding, key)

	var b strings.Builder
	last := 0
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(value, -1) {
		b.WriteString(value[last:loc[0]])
		last = loc[1]
		reference := value[loc[0]:loc[1]]
		name := value[loc[2]:loc[3]]
		if _, known := r.source.values[name]; !known || r.expanding[name] {
			b.WriteString(reference)
			continue
		}
		replacement := r.resolve(name)
		if b.Len()+len(replacement) > maxResolvedLen {
			b.WriteString(reference)
			continue
		}
		b.WriteString(replacement)
	}
	b.WriteString(value[last:])

	out := b.String()
	r.resolved[key] = out
	return out
}

// Unresolved lists keys whose values still reference a known key. Empty after
// Resolve unless the set contains cyclic references or oversized expansions.
func Unresolved(set *VariableSet) []string {
	var keys []string
	for _, key := range set.Keys() {
		for _, match := range placeholderPattern.FindAllStringSubmatch(set.values[key], -1) {
			if _, ok := set.values[match[1]]; ok {
				keys = append(keys, key)
				break
			}
		}
	}
	return keys
}

// GroupEntry is one indexed member of a prefix group such as cast.entry.N.
type GroupEntry struct {
	Index string
	Value string
}

// ExtractGroups collects every key starting with prefix, in discovery order,
// with the prefix stripped as the index.
func ExtractGroups(set *VariableSet, prefix string) []GroupEntry {
	var entries []GroupEntry
	for _, key := range set.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entries = append(entries, GroupEntry{Index: strings.TrimPrefix(key, prefix), Value: set.values[key]})
	}
	return entries
}
