// Package sink defines where harvested records go and how the catalog
// reports the entities it already knows.
//
// A Sink is a ledger: it accepts records and answers prior-known lookups
// for deletion reconciliation. A Publisher only forwards records and is
// composed with a ledger through Tee.
package sink

import (
	"context"

	"go.uber.org/multierr"

	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
)

// Sink consumes records and answers prior-known lookups. Implementations
// must be safe for concurrent use.
type Sink interface {
	// Accept stores or forwards one record.
	Accept(ctx context.Context, r record.Record) error

	// PriorKnown returns the FQNs of live entities of the given kinds under
	// schemaFQN, sorted.
	PriorKnown(ctx context.Context, schemaFQN string, kinds ...record.Kind) ([]string, error)

	// Close flushes and releases the sink.
	Close(ctx context.Context) error
}

// Publisher forwards records to a downstream system that keeps no ledger.
type Publisher interface {
	Publish(ctx context.Context, r record.Record) error
	Close() error
}

// Outputs is implemented by sinks that write files worth archiving.
type Outputs interface {
	Outputs() []string
}

// Tee returns a sink that stores records in ledger and then publishes them
// to every publisher. Prior-known lookups are answered by ledger alone.
func Tee(ledger Sink, publishers ...Publisher) Sink {
	if len(publishers) == 0 {
		return ledger
	}
	return &tee{ledger: ledger, publishers: publishers}
}

type tee struct {
	ledger     Sink
	publishers []Publisher
}

func (t *tee) Accept(ctx context.Context, r record.Record) error {
	if err := t.ledger.Accept(ctx, r); err != nil {
		return err
	}
	for _, p := range t.publishers {
		if err := p.Publish(ctx, r); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSink, "failed to publish record").
				WithDetail("fqn", r.FQN)
		}
	}
	return nil
}

func (t *tee) PriorKnown(ctx context.Context, schemaFQN string, kinds ...record.Kind) ([]string, error) {
	return t.ledger.PriorKnown(ctx, schemaFQN, kinds...)
}

func (t *tee) Close(ctx context.Context) error {
	var err error
	for _, p := range t.publishers {
		err = multierr.Append(err, p.Close())
	}
	return multierr.Append(err, t.ledger.Close(ctx))
}

// Outputs reports the ledger's outputs, if any.
func (t *tee) Outputs() []string {
	if o, ok := t.ledger.(Outputs); ok {
		return o.Outputs()
	}
	return nil
}
