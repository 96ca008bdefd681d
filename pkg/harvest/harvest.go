// Package harvest drives incremental metadata harvesting: it walks the
// catalog → schema → table/view namespace of a provider, applies the
// configured filters, emits normalized records as a pull stream, and
// reconciles each schema against the entities a sink already knows to emit
// deletion markers.
//
// One bad table never aborts a run: introspection and conversion failures
// are counted and logged per item. A lost source aborts the run; records
// already pulled stay valid (at-least-once, no rollback).
package harvest

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/filter"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/harvest/walker"
	"github.com/ajitpratap0/harvester/pkg/logger"
	"github.com/ajitpratap0/harvester/pkg/metrics"
	"github.com/ajitpratap0/harvester/pkg/observability"
	"github.com/ajitpratap0/harvester/pkg/provider"
)

// PriorKnown reports the fully-qualified names of the entities of the given
// kinds that the catalog knows under a schema.
type PriorKnown interface {
	PriorKnown(ctx context.Context, schemaFQN string, kinds ...record.Kind) ([]string, error)
}

// Options configure a Harvester.
type Options struct {
	Service   record.ServiceRef
	Source    config.SourceConfig
	Ingestion config.IngestionConfig
}

// Harvester runs harvests of one provider. Runs are sequential: a Harvester
// refuses to start a run while another one is producing.
type Harvester struct {
	provider provider.Provider
	walker   *walker.Walker
	filter   *filter.Engine
	emitter  *record.Emitter
	known    PriorKnown
	opts     Options
	rc       *RunContext
	running  atomic.Bool
}

// New creates a harvester. Filter patterns are compiled here, so malformed
// patterns fail with a configuration error before any traversal. known may
// be nil unless deletion marking is enabled.
func New(p provider.Provider, opts Options, known PriorKnown, rc *RunContext) (*Harvester, error) {
	if p == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "provider is required")
	}
	if opts.Ingestion.MarkDeletedTables && known == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "mark_deleted_tables requires a sink that knows prior entities")
	}

	f, err := filter.New(opts.Ingestion)
	if err != nil {
		return nil, err
	}

	return &Harvester{
		provider: p,
		walker:   walker.New(p, opts.Source),
		filter:   f,
		emitter:  record.NewEmitter(opts.Service),
		known:    known,
		opts:     opts,
		rc:       rc.withDefaults(),
	}, nil
}

// Status returns the counters of the current or last run.
func (h *Harvester) Status() Report {
	return h.rc.Status.Snapshot()
}

// Run starts a harvest and returns its record stream. The stream ends at
// Done with a nil Err, or at Failed with the fatal error.
func (h *Harvester) Run(ctx context.Context) *Stream {
	if !h.running.CompareAndSwap(false, true) {
		return failedStream(errors.New(errors.ErrorTypeInternal, "a harvest run is already in progress"))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	go func() {
		err := h.run(ctx, s)
		cancel()
		h.running.Store(false)
		s.finish(err)
	}()
	return s
}

func (h *Harvester) run(ctx context.Context, s *Stream) error {
	rc := h.rc
	log := logger.FromContext(ctx, rc.Logger)
	if rc.RunID != "" {
		log = log.With(zap.String("run_id", rc.RunID))
	}

	rc.Status.reset(time.Now())
	rc.Tracker.Reset()

	ctx, span := observability.StartSpan(ctx, rc.Tracer, "harvest.run",
		attribute.String("run_id", rc.RunID),
		attribute.String("provider", h.provider.Kind()),
		attribute.String("service", h.opts.Service.Name),
	)
	err := h.walk(ctx, s, log)
	span.End(err)

	report := rc.Status.Snapshot()
	fields := []zap.Field{
		zap.Int64("processed", report.Processed),
		zap.Int64("filtered", report.Filtered),
		zap.Int64("failed", report.Failed),
		zap.Int64("deleted", report.Deleted),
		zap.Duration("duration", time.Since(report.StartedAt)),
	}
	if err != nil {
		rc.Status.finish(PhaseFailed, time.Now())
		rc.Metrics.RunFinished(PhaseFailed.String())
		log.Error("harvest failed", append(fields,
			zap.String("phase", report.PhaseName),
			zap.String("error_type", string(errors.TypeOf(err))),
			zap.Error(err))...)
		return err
	}

	rc.Status.finish(PhaseDone, time.Now())
	rc.Metrics.RunFinished(PhaseDone.String())
	log.Info("harvest finished", fields...)
	return nil
}

func (h *Harvester) walk(ctx context.Context, s *Stream, log *zap.Logger) error {
	rc := h.rc
	rc.Status.setPhase(PhasePreparing)

	if err := h.provider.Connect(ctx); err != nil {
		return classifyConnect(ctx, err)
	}
	defer func() {
		if err := h.provider.Close(); err != nil {
			log.Warn("failed to close provider", zap.Error(err))
		}
	}()

	rc.Status.setPhase(PhaseWalkingCatalogs)
	catalogs, err := h.walker.ListCatalogs(ctx)
	if err != nil {
		return err
	}

	for _, catalog := range catalogs {
		rc.Status.setPhase(PhaseWalkingCatalogs)
		if err := h.walkCatalog(ctx, s, log, catalog); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harvester) walkCatalog(ctx context.Context, s *Stream, log *zap.Logger, catalog string) error {
	rc := h.rc
	rc.Status.setPhase(PhaseWalkingSchemas)

	schemas, err := h.walker.ListSchemas(ctx, catalog)
	if err != nil {
		if errors.IsRecoverable(err) {
			h.fail(log, "database", record.FQN(catalog), err)
			return nil
		}
		return err
	}

	databaseEmitted := false
	for _, schema := range schemas {
		if err := ctx.Err(); err != nil {
			return err
		}
		rc.Status.setPhase(PhaseWalkingSchemas)
		rc.Tracker.Reset()

		schemaFQN := record.FQN(catalog, schema)
		if h.filter.ShouldSkip(filter.KindSchema, schemaFQN) {
			h.skip(log, filter.KindSchema, schemaFQN)
			continue
		}

		if !databaseEmitted {
			if err := s.send(ctx, h.emitter.Database(catalog)); err != nil {
				return err
			}
			databaseEmitted = true
		}
		if err := s.send(ctx, h.emitter.Schema(catalog, schema)); err != nil {
			return err
		}

		if err := h.harvestSchema(ctx, s, log, catalog, schema); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harvester) harvestSchema(ctx context.Context, s *Stream, log *zap.Logger, catalog, schema string) (err error) {
	schemaFQN := record.FQN(catalog, schema)
	timer := metrics.NewTimer()
	ctx, span := observability.StartSpan(ctx, h.rc.Tracer, "harvest.schema", attribute.String("schema", schemaFQN))
	defer func() {
		span.End(err)
		h.rc.Metrics.SchemaDuration(timer.Stop())
	}()

	log = log.With(zap.String("schema", schemaFQN))
	ingestion := h.opts.Ingestion

	// With no entity kind listed nothing is seen, so nothing can be reconciled.
	kinds := h.reconciledKinds()
	reconcile := ingestion.MarkDeletedTables && len(kinds) > 0

	var prior []string
	if reconcile {
		prior, err = h.known.PriorKnown(ctx, schemaFQN, kinds...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, errors.ErrorTypeSink, "failed to look up known entities").
				WithDetail("schema", schemaFQN)
		}
	}

	complete := true
	if ingestion.IncludeTables {
		h.rc.Status.setPhase(PhaseEmittingTables)
		ok, listErr := h.emitEntities(ctx, s, log, filter.KindTable, catalog, schema, h.walker.ListTables)
		if listErr != nil {
			return listErr
		}
		complete = complete && ok
	}
	if ingestion.IncludeViews {
		h.rc.Status.setPhase(PhaseEmittingViews)
		ok, listErr := h.emitEntities(ctx, s, log, filter.KindView, catalog, schema, h.walker.ListViews)
		if listErr != nil {
			return listErr
		}
		complete = complete && ok
	}

	if !reconcile {
		return nil
	}
	if !complete {
		log.Warn("skipping deletion reconciliation after an incomplete listing")
		return nil
	}

	h.rc.Status.setPhase(PhaseReconcilingDeletions)
	for _, fqn := range h.rc.Tracker.ComputeDeleted(prior) {
		if sendErr := s.send(ctx, h.emitter.Deletion(schemaFQN, fqn)); sendErr != nil {
			return sendErr
		}
		h.rc.Status.markDeleted()
		h.rc.Metrics.DeletionEmitted()
		log.Debug("entity marked deleted", zap.String("fqn", fqn))
	}
	return nil
}

type listFunc func(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error

// emitEntities emits every admitted entity of one listing. It returns false
// when the listing as a whole could not be read.
func (h *Harvester) emitEntities(ctx context.Context, s *Stream, log *zap.Logger, kind filter.Kind, catalog, schema string, list listFunc) (bool, error) {
	rc := h.rc
	schemaFQN := record.FQN(catalog, schema)

	err := list(ctx, catalog, schema, func(desc *provider.Descriptor, itemErr error) error {
		name := schemaFQN
		if desc != nil && desc.Name != "" {
			name = record.FQN(catalog, schema, desc.Name)
		}

		if itemErr != nil {
			if !errors.IsRecoverable(itemErr) {
				return itemErr
			}
			if name != schemaFQN {
				// Unreadable entities still exist in the source.
				rc.Tracker.MarkSeen(name)
			}
			h.fail(log, kind.String(), name, itemErr)
			return nil
		}

		if name != schemaFQN && h.filter.ShouldSkip(kind, name) {
			h.skip(log, kind, name)
			return nil
		}
		if name != schemaFQN {
			rc.Tracker.MarkSeen(name)
		}

		rec, err := h.emitter.ToRecord(desc)
		if err != nil {
			h.fail(log, kind.String(), name, err)
			return nil
		}
		if err := s.send(ctx, rec); err != nil {
			return err
		}
		rc.Status.markProcessed()
		rc.Metrics.EntityEmitted(kind.String())
		return nil
	})
	if err != nil {
		if errors.IsRecoverable(err) {
			h.fail(log, kind.String(), schemaFQN, err)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (h *Harvester) reconciledKinds() []record.Kind {
	var kinds []record.Kind
	if h.opts.Ingestion.IncludeTables {
		kinds = append(kinds, record.KindTable)
	}
	if h.opts.Ingestion.IncludeViews {
		kinds = append(kinds, record.KindView)
	}
	return kinds
}

func (h *Harvester) skip(log *zap.Logger, kind filter.Kind, fqn string) {
	h.rc.Status.markFiltered(fqn, kind.Reason())
	h.rc.Metrics.EntityFiltered(kind.String())
	log.Debug("entity filtered", zap.String("fqn", fqn), zap.String("reason", kind.Reason()))
}

func (h *Harvester) fail(log *zap.Logger, kind, fqn string, err error) {
	h.rc.Status.markFailed(fqn, err)
	h.rc.Metrics.EntityFailed(kind)
	log.Warn("failed to harvest entity",
		zap.String("fqn", fqn),
		zap.String("kind", kind),
		zap.String("error_type", string(errors.TypeOf(err))),
		zap.Error(err))
}

func classifyConnect(ctx context.Context, err error) error {
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to connect to source")
}
