// Package tags implements hierarchical labels and the tag conditions that gate
// mission completion and branching.
//
// A Tag is a dotted path such as "Mission.Intro.Start". Sets and conditions are
// plain values: evaluating a condition never mutates the condition or the set it
// is evaluated against.
package tags

import (
	"encoding/json"
	"sort"
	"strings"
)

// Tag is a dotted hierarchical label.
type Tag string

// Parent returns the direct parent of the tag, or "" for a root tag.
func (t Tag) Parent() Tag {
	idx := strings.LastIndexByte(string(t), '.')
	if idx <= 0 {
		return ""
	}
	return t[:idx]
}

// Valid reports whether the tag is non-empty and has no empty segments.
func (t Tag) Valid() bool {
	if t == "" {
		return false
	}
	for _, seg := range strings.Split(string(t), ".") {
		if strings.TrimSpace(seg) == "" || seg != strings.TrimSpace(seg) {
			return false
		}
	}
	return true
}

// MatchesParent reports whether t equals parent or sits somewhere below it.
func (t Tag) MatchesParent(parent Tag) bool {
	if parent == "" {
		return false
	}
	return t == parent || strings.HasPrefix(string(t), string(parent)+".")
}

// Set is an unordered collection of tags.
type Set map[Tag]struct{}

// NewSet builds a set from the given tags, ignoring empty ones.
func NewSet(list ...Tag) Set {
	s := make(Set, len(list))
	for _, t := range list {
		if t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// Parse builds a set from raw strings.
func Parse(raw []string) Set {
	s := make(Set, len(raw))
	for _, r := range raw {
		if t := Tag(strings.TrimSpace(r)); t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// Has reports whether the set contains t.
func (s Set) Has(t Tag) bool {
	_, ok := s[t]
	return ok
}

// Len returns the number of tags in the set.
func (s Set) Len() int { return len(s) }

// Add inserts the given tags.
func (s Set) Add(list ...Tag) {
	for _, t := range list {
		if t != "" {
			s[t] = struct{}{}
		}
	}
}

// Remove deletes the given tags.
func (s Set) Remove(list ...Tag) {
	for _, t := range list {
		delete(s, t)
	}
}

// Clear removes every tag.
func (s Set) Clear() {
	for t := range s {
		delete(s, t)
	}
}

// Clone returns an independent copy. A nil set clones to an empty set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	return out
}

// ContainsAll reports whether every tag of other is present in s.
func (s Set) ContainsAll(other Set) bool {
	for t := range other {
		if _, ok := s[t]; !ok {
			return false
		}
	}
	return true
}

// Equal reports set equality. Nil and empty sets are equal.
func (s Set) Equal(other Set) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

// Sorted returns the tags in lexical order.
func (s Set) Sorted() []Tag {
	out := make([]Tag, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the tags as sorted strings.
func (s Set) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, t := range sorted {
		out[i] = string(t)
	}
	return out
}

// MarshalJSON encodes the set as a sorted list.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of tags.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Parse(raw)
	return nil
}
