// Package pipeline wires one harvest run end to end: it builds the provider,
// sink, publishers, metrics and tracing from a config.Config, pulls the
// record stream into the sink and archives the sink's outputs.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/archive"
	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/logger"
	"github.com/ajitpratap0/harvester/pkg/metrics"
	"github.com/ajitpratap0/harvester/pkg/observability"
	"github.com/ajitpratap0/harvester/pkg/provider"
	"github.com/ajitpratap0/harvester/pkg/sink"
)

// Version is reported on spans and by the CLI.
var Version = "0.1.0"

// ProviderFactory builds the provider of a run.
type ProviderFactory func(cfg config.SourceConfig, log *zap.Logger) (provider.Provider, error)

// SinkFactory builds the ledger sink of a run.
type SinkFactory func(ctx context.Context, cfg config.SinkConfig, service, runID string, log *zap.Logger) (sink.Sink, error)

// PublisherFactory builds the record publishers of a run.
type PublisherFactory func(cfg config.SinkConfig, log *zap.Logger) ([]sink.Publisher, error)

// ArchiverFactory builds the archiver of a run. A nil archiver disables archiving.
type ArchiverFactory func(ctx context.Context, cfg config.ArchiveConfig, log *zap.Logger) (*archive.Archiver, error)

// Summary reports one run.
type Summary struct {
	RunID    string         `json:"run_id"`
	Report   harvest.Report `json:"report"`
	Records  int64          `json:"records"`
	Outputs  []string       `json:"outputs,omitempty"`
	Archived []string       `json:"archived,omitempty"`
}

// Runner executes harvest runs for one configuration.
type Runner struct {
	cfg *config.Config
	log *zap.Logger

	registry     *prometheus.Registry
	traceWriter  io.Writer
	newProvider  ProviderFactory
	newSink      SinkFactory
	newPublisher PublisherFactory
	newArchiver  ArchiverFactory
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the base logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithRegistry registers run metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithTraceWriter sends exported spans to w.
func WithTraceWriter(w io.Writer) Option {
	return func(r *Runner) { r.traceWriter = w }
}

// WithProviderFactory replaces the provider registry lookup.
func WithProviderFactory(f ProviderFactory) Option {
	return func(r *Runner) { r.newProvider = f }
}

// WithSinkFactory replaces the sink selection by sink.type.
func WithSinkFactory(f SinkFactory) Option {
	return func(r *Runner) { r.newSink = f }
}

// WithPublisherFactory replaces the Kafka publisher.
func WithPublisherFactory(f PublisherFactory) Option {
	return func(r *Runner) { r.newPublisher = f }
}

// WithArchiverFactory replaces the archive backend selection.
func WithArchiverFactory(f ArchiverFactory) Option {
	return func(r *Runner) { r.newArchiver = f }
}

// NewRunner validates cfg and returns a runner.
func NewRunner(cfg *config.Config, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:          cfg,
		newProvider:  provider.Create,
		newSink:      NewSink,
		newPublisher: NewPublishers,
		newArchiver:  archive.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get()
	}
	return r, nil
}

// Run executes one harvest. The summary is returned even when the run fails.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	summary := &Summary{RunID: runID}
	cfg := r.cfg

	ctx = logger.ContextWithRun(ctx, runID, cfg.Service.Name, cfg.Source.Type)
	log := logger.FromContext(ctx, r.log)

	reg := r.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	collector := metrics.NewCollector(reg)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srvCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		go func() {
			if err := metrics.Serve(srvCtx, addr, reg); err != nil {
				log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
			}
		}()
	}

	tracer, shutdown, err := r.tracer()
	if err != nil {
		return summary, err
	}
	defer shutdown(log)

	p, err := r.newProvider(cfg.Source, log)
	if err != nil {
		return summary, err
	}
	retry := cfg.Source.Retry
	p = provider.WithConnectRetry(p, provider.NewRetryPolicy(retry.MaxAttempts, retry.InitialDelay, retry.MaxDelay), log)

	ledger, err := r.newSink(ctx, cfg.Sink, cfg.Service.Name, runID, log)
	if err != nil {
		_ = p.Close()
		return summary, err
	}
	pubs, err := r.newPublisher(cfg.Sink, log)
	if err != nil {
		_ = p.Close()
		_ = ledger.Close(ctx)
		return summary, err
	}
	out := sink.Tee(ledger, pubs...)

	rc := harvest.NewRunContext(runID, log)
	rc.Metrics = collector
	rc.Tracer = tracer

	h, err := harvest.New(p, harvest.Options{
		Service:   record.ServiceRef{Name: cfg.Service.Name, Type: cfg.Service.Type},
		Source:    cfg.Source,
		Ingestion: cfg.Ingestion,
	}, out, rc)
	if err != nil {
		_ = p.Close()
		_ = out.Close(ctx)
		return summary, err
	}

	runErr := r.drain(ctx, h, out, summary)
	summary.Report = h.Status()

	// The sink is closed after a failed run too; what it accepted stays valid.
	if err := out.Close(context.WithoutCancel(ctx)); err != nil {
		log.Error("failed to close sink", zap.Error(err))
		runErr = multierr.Append(runErr, errors.Wrap(err, errors.ErrorTypeSink, "failed to close sink"))
	}
	if o, ok := out.(sink.Outputs); ok {
		summary.Outputs = o.Outputs()
	}
	if runErr != nil {
		return summary, runErr
	}

	if err := r.archive(ctx, log, summary); err != nil {
		return summary, err
	}

	log.Info("run complete",
		zap.String("phase", summary.Report.PhaseName),
		zap.Int64("records", summary.Records),
		zap.Int64("processed", summary.Report.Processed),
		zap.Int64("filtered", summary.Report.Filtered),
		zap.Int64("failed", summary.Report.Failed),
		zap.Int64("deleted", summary.Report.Deleted),
		zap.Strings("archived", summary.Archived))
	return summary, nil
}

// drain pulls the stream into the sink. A sink failure stops the harvest.
func (r *Runner) drain(ctx context.Context, h *harvest.Harvester, out sink.Sink, summary *Summary) error {
	stream := h.Run(ctx)
	defer stream.Close()

	for stream.Next() {
		if err := out.Accept(ctx, stream.Record()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSink, "sink rejected record").
				WithDetail("fqn", stream.Record().FQN)
		}
		summary.Records++
	}
	return stream.Err()
}

func (r *Runner) archive(ctx context.Context, log *zap.Logger, summary *Summary) error {
	if !r.cfg.Archive.Enabled() || len(summary.Outputs) == 0 {
		return nil
	}
	a, err := r.newArchiver(ctx, r.cfg.Archive, log)
	if err != nil || a == nil {
		return err
	}
	defer a.Close()

	urls, err := a.Upload(ctx, r.cfg.Service.Name, summary.RunID, summary.Outputs)
	summary.Archived = urls
	return err
}

func (r *Runner) tracer() (trace.Tracer, func(*zap.Logger), error) {
	obs := r.cfg.Observability
	if !obs.EnableTracing {
		return observability.Tracer(nil), func(*zap.Logger) {}, nil
	}
	tp, err := observability.NewTracerProvider(observability.TracingConfig{
		ServiceName:    r.cfg.Service.Name,
		ServiceVersion: Version,
		SamplingRate:   obs.TracingSampleRate,
		Writer:         r.traceWriter,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to set up tracing")
	}
	shutdown := func(log *zap.Logger) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("failed to flush spans", zap.Error(err))
		}
	}
	return observability.Tracer(tp), shutdown, nil
}
