package sink

import (
	"context"
	"sync"

	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
)

// Memory keeps every accepted record and a ledger of live entities. It
// survives across runs for as long as the process does.
type Memory struct {
	ledger *Ledger

	mu      sync.Mutex
	records []record.Record
	closed  bool
}

// NewMemory returns an empty memory sink.
func NewMemory() *Memory {
	return &Memory{ledger: NewLedger()}
}

// Seed marks fqn as known under schemaFQN without recording a record.
func (m *Memory) Seed(schemaFQN, fqn string, kind record.Kind) *Memory {
	m.ledger.Put(schemaFQN, fqn, kind)
	return m
}

// Accept implements Sink.
func (m *Memory) Accept(_ context.Context, r record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New(errors.ErrorTypeSink, "memory sink is closed")
	}
	m.records = append(m.records, r)
	m.ledger.Apply(r)
	return nil
}

// PriorKnown implements Sink.
func (m *Memory) PriorKnown(_ context.Context, schemaFQN string, kinds ...record.Kind) ([]string, error) {
	return m.ledger.Known(schemaFQN, kinds...), nil
}

// Records returns a copy of every accepted record.
func (m *Memory) Records() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.Record(nil), m.records...)
}

// Reset forgets accepted records but keeps the ledger.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.records = nil
	m.closed = false
	m.mu.Unlock()
}

// Close implements Sink.
func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
