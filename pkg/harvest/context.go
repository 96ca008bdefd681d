package harvest

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/harvest/state"
	"github.com/ajitpratap0/harvester/pkg/logger"
	"github.com/ajitpratap0/harvester/pkg/metrics"
	"github.com/ajitpratap0/harvester/pkg/observability"
)

// RunContext carries the per-run collaborators through the orchestrator.
// Nothing in the harvest core reaches for process-wide state.
type RunContext struct {
	RunID   string
	Status  *Status
	Tracker *state.Tracker
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer
}

// NewRunContext returns a run context with a fresh status and tracker.
// Metrics are disabled and spans are dropped until set.
func NewRunContext(runID string, log *zap.Logger) *RunContext {
	if log == nil {
		log = logger.Get()
	}
	return &RunContext{
		RunID:   runID,
		Status:  NewStatus(),
		Tracker: state.NewTracker(),
		Logger:  log,
		Tracer:  observability.Tracer(nil),
	}
}

func (rc *RunContext) withDefaults() *RunContext {
	if rc == nil {
		return NewRunContext("", nil)
	}
	if rc.Status == nil {
		rc.Status = NewStatus()
	}
	if rc.Tracker == nil {
		rc.Tracker = state.NewTracker()
	}
	if rc.Logger == nil {
		rc.Logger = logger.Get()
	}
	if rc.Tracer == nil {
		rc.Tracer = observability.Tracer(nil)
	}
	return rc
}
