// Package state tracks the entities seen while one schema is traversed.
package state

import "sort"

// Tracker is the seen-set of the schema currently being traversed.
// It has a single writer and is not safe for concurrent use.
type Tracker struct {
	seen map[string]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// Reset clears the seen-set. It must be called before each schema.
func (t *Tracker) Reset() {
	clear(t.seen)
}

// MarkSeen records fqn as present in the source.
func (t *Tracker) MarkSeen(fqn string) {
	t.seen[fqn] = struct{}{}
}

// Seen reports whether fqn was marked since the last Reset.
func (t *Tracker) Seen(fqn string) bool {
	_, ok := t.seen[fqn]
	return ok
}

// Len returns the number of entities seen since the last Reset.
func (t *Tracker) Len() int {
	return len(t.seen)
}

// ComputeDeleted returns prior minus the seen-set, sorted and without
// duplicates.
func (t *Tracker) ComputeDeleted(prior []string) []string {
	deleted := make([]string, 0)
	dup := make(map[string]struct{}, len(prior))
	for _, fqn := range prior {
		if _, ok := t.seen[fqn]; ok {
			continue
		}
		if _, ok := dup[fqn]; ok {
			continue
		}
		dup[fqn] = struct{}{}
		deleted = append(deleted, fqn)
	}
	sort.Strings(deleted)
	return deleted
}
