// Package directory defines the directory-side data model (entries,
// distinguished names, attribute sets) and the narrow client interface the
// synchronization engine writes through.
package directory

import (
	"sort"
	"strings"
)

// Operation is the directory action an entry requests. The choice between
// add and modify for an upsert is made at write time, based on whether the
// DN already exists, which is what makes re-delivery of the same record
// idempotent.
type Operation int

const (
	OpUpsert Operation = iota
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Entry is one directory entry ready to be written. Attribute values are
// multi-valued with duplicates collapsed; value order is preserved on
// insertion but is irrelevant for equality. Delete entries carry no
// attributes beyond the DN.
type Entry struct {
	DN            string
	Attributes    map[string][]string
	ObjectClasses []string
	Op            Operation
}

// NewEntry returns an upsert entry with empty attribute and class sets.
func NewEntry(dn string) *Entry {
	return &Entry{
		DN:         dn,
		Attributes: make(map[string][]string),
	}
}

// SetAttribute assigns the values of an attribute, collapsing duplicates
// while preserving first-seen order. Empty values are dropped; an attribute
// left with no values is removed entirely, since the directory rejects
// empty attribute values.
func (e *Entry) SetAttribute(name string, values []string) {
	deduped := dedupe(values)
	if len(deduped) == 0 {
		delete(e.Attributes, name)
		return
	}
	e.Attributes[name] = deduped
}

// AddObjectClasses extends the entry's object classes, ignoring duplicates
// case-insensitively. Classes can only ever be added, never removed.
func (e *Entry) AddObjectClasses(classes ...string) {
	for _, c := range classes {
		if c == "" || containsFold(e.ObjectClasses, c) {
			continue
		}
		e.ObjectClasses = append(e.ObjectClasses, c)
	}
}

// HasObjectClass reports whether the entry carries the class, ignoring case.
func (e *Entry) HasObjectClass(class string) bool {
	return containsFold(e.ObjectClasses, class)
}

// ValuesEqual compares two attribute value lists ignoring order and
// duplicates.
func ValuesEqual(a, b []string) bool {
	return equalSorted(dedupe(a), dedupe(b))
}

// AttributesEqual compares two attribute maps with order-insensitive,
// duplicate-collapsed value comparison.
func AttributesEqual(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for name, av := range a {
		bv, ok := b[name]
		if !ok || !ValuesEqual(av, bv) {
			return false
		}
	}
	return true
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func equalSorted(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
