package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// FakeEntry is the stored form of an entry in the in-memory directory.
type FakeEntry struct {
	Attributes    map[string][]string
	ObjectClasses []string
}

// Fake is an in-memory Client used by tests and by dry-run mode. It applies
// the same add/modify/delete semantics as a real directory, including
// rejecting an Add for an existing DN, and supports scripted failures.
type Fake struct {
	mu      sync.Mutex
	entries map[string]*FakeEntry
	log     *slog.Logger

	// FailNext maps a DN to errors returned by successive operations on it,
	// consumed front to back. Used to script transient and permanent
	// failures in tests.
	FailNext map[string][]error
}

func NewFake(log *slog.Logger) *Fake {
	return &Fake{
		entries:  make(map[string]*FakeEntry),
		log:      log,
		FailNext: make(map[string][]error),
	}
}

func (f *Fake) scripted(dn string) error {
	queue := f.FailNext[dn]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	f.FailNext[dn] = queue[1:]
	return err
}

func (f *Fake) Exists(_ context.Context, dn string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted(dn); err != nil {
		return false, err
	}
	_, ok := f.entries[dn]
	return ok, nil
}

func (f *Fake) Add(_ context.Context, dn string, attrs map[string][]string, objectClasses []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted(dn); err != nil {
		return err
	}
	if _, ok := f.entries[dn]; ok {
		return Permanent("add", dn, fmt.Errorf("entry already exists"))
	}

	stored := &FakeEntry{
		Attributes:    make(map[string][]string, len(attrs)),
		ObjectClasses: append([]string(nil), objectClasses...),
	}
	for name, values := range attrs {
		stored.Attributes[name] = append([]string(nil), values...)
	}
	f.entries[dn] = stored
	f.log.Debug("fake directory add", "dn", dn, "attributes", len(attrs))
	return nil
}

func (f *Fake) Modify(_ context.Context, dn string, attrs map[string][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted(dn); err != nil {
		return err
	}
	existing, ok := f.entries[dn]
	if !ok {
		return Permanent("modify", dn, fmt.Errorf("no such object"))
	}

	changes := FindChanges(existing.Attributes, attrs)
	for name, values := range attrs {
		existing.Attributes[name] = append([]string(nil), values...)
	}
	f.log.Debug("fake directory modify", "dn", dn, "changed", len(changes))
	return nil
}

func (f *Fake) Delete(_ context.Context, dn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted(dn); err != nil {
		return err
	}
	if _, ok := f.entries[dn]; !ok {
		return Permanent("delete", dn, fmt.Errorf("no such object"))
	}
	delete(f.entries, dn)
	f.log.Debug("fake directory delete", "dn", dn)
	return nil
}

func (f *Fake) Close() error { return nil }

// Get returns a copy of the stored entry, or nil when absent.
func (f *Fake) Get(dn string) *FakeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.entries[dn]
	if !ok {
		return nil
	}
	out := &FakeEntry{
		Attributes:    make(map[string][]string, len(stored.Attributes)),
		ObjectClasses: append([]string(nil), stored.ObjectClasses...),
	}
	for name, values := range stored.Attributes {
		out.Attributes[name] = append([]string(nil), values...)
	}
	return out
}

// Len returns the number of stored entries.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
