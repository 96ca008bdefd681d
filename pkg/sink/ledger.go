package sink

import (
	"sort"
	"sync"

	"github.com/ajitpratap0/harvester/pkg/harvest/record"
)

// Ledger is an in-memory index of live entities per schema. Table and view
// records add entries, deletion markers remove them.
type Ledger struct {
	mu       sync.RWMutex
	entities map[string]map[string]record.Kind
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entities: make(map[string]map[string]record.Kind)}
}

// Apply updates the index from r. Namespace records are ignored.
func (l *Ledger) Apply(r record.Record) {
	switch r.Kind {
	case record.KindTable, record.KindView:
		l.Put(r.SchemaFQN(), r.FQN, r.Kind)
	case record.KindDeletion:
		l.mu.Lock()
		schema := r.SchemaFQN()
		delete(l.entities[schema], r.FQN)
		if len(l.entities[schema]) == 0 {
			delete(l.entities, schema)
		}
		l.mu.Unlock()
	}
}

// Put records fqn as a live entity of kind under schemaFQN.
func (l *Ledger) Put(schemaFQN, fqn string, kind record.Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.entities[schemaFQN]
	if !ok {
		m = make(map[string]record.Kind)
		l.entities[schemaFQN] = m
	}
	m[fqn] = kind
}

// Known returns the sorted FQNs of entities of the given kinds under
// schemaFQN. No kinds means every kind.
func (l *Ledger) Known(schemaFQN string, kinds ...record.Kind) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.entities[schemaFQN]))
	for fqn, kind := range l.entities[schemaFQN] {
		if matchKind(kind, kinds) {
			out = append(out, fqn)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live entities.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, m := range l.entities {
		n += len(m)
	}
	return n
}

// Entry is one ledger entity in its persisted form.
type Entry struct {
	FQN  string      `json:"fqn"`
	Kind record.Kind `json:"kind"`
}

// Snapshot returns the ledger content keyed by schema FQN, entries sorted.
func (l *Ledger) Snapshot() map[string][]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]Entry, len(l.entities))
	for schema, m := range l.entities {
		entries := make([]Entry, 0, len(m))
		for fqn, kind := range m {
			entries = append(entries, Entry{FQN: fqn, Kind: kind})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].FQN < entries[j].FQN })
		out[schema] = entries
	}
	return out
}

// Restore replaces the ledger content with a snapshot.
func (l *Ledger) Restore(snapshot map[string][]Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entities = make(map[string]map[string]record.Kind, len(snapshot))
	for schema, entries := range snapshot {
		m := make(map[string]record.Kind, len(entries))
		for _, e := range entries {
			m[e.FQN] = e.Kind
		}
		l.entities[schema] = m
	}
}

func matchKind(k record.Kind, kinds []record.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
