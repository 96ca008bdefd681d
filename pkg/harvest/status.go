package harvest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/harvester/pkg/errors"
)

// Phase is the state of a harvest run.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseWalkingCatalogs
	PhaseWalkingSchemas
	PhaseEmittingTables
	PhaseEmittingViews
	PhaseReconcilingDeletions
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:                 "idle",
	PhasePreparing:            "preparing",
	PhaseWalkingCatalogs:      "walking_catalogs",
	PhaseWalkingSchemas:       "walking_schemas",
	PhaseEmittingTables:       "emitting_tables",
	PhaseEmittingViews:        "emitting_views",
	PhaseReconcilingDeletions: "reconciling_deletions",
	PhaseDone:                 "done",
	PhaseFailed:               "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether the run is over.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Filtered is an entity skipped by the filters.
type Filtered struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Failure is an entity that could not be harvested.
type Failure struct {
	Name  string           `json:"name"`
	Type  errors.ErrorType `json:"type"`
	Error string           `json:"error"`
}

// Report is a point-in-time copy of a run's status.
type Report struct {
	Phase      Phase      `json:"-"`
	PhaseName  string     `json:"phase"`
	Processed  int64      `json:"processed"`
	Filtered   int64      `json:"filtered"`
	Failed     int64      `json:"failed"`
	Deleted    int64      `json:"deleted"`
	Skipped    []Filtered `json:"filtered_entities,omitempty"`
	Failures   []Failure  `json:"failures,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Status holds the counters of one run. Counters are written by the run
// goroutine and may be read from any goroutine.
type Status struct {
	phase     atomic.Int32
	processed atomic.Int64
	filtered  atomic.Int64
	failed    atomic.Int64
	deleted   atomic.Int64

	mu         sync.Mutex
	skipped    []Filtered
	failures   []Failure
	startedAt  time.Time
	finishedAt time.Time
}

// NewStatus returns an idle status.
func NewStatus() *Status {
	return &Status{}
}

func (s *Status) reset(now time.Time) {
	s.phase.Store(int32(PhaseIdle))
	s.processed.Store(0)
	s.filtered.Store(0)
	s.failed.Store(0)
	s.deleted.Store(0)

	s.mu.Lock()
	s.skipped = nil
	s.failures = nil
	s.startedAt = now
	s.finishedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Status) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

// Phase returns the current phase.
func (s *Status) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Status) markProcessed() {
	s.processed.Add(1)
}

func (s *Status) markDeleted() {
	s.deleted.Add(1)
}

func (s *Status) markFiltered(name, reason string) {
	s.filtered.Add(1)
	s.mu.Lock()
	s.skipped = append(s.skipped, Filtered{Name: name, Reason: reason})
	s.mu.Unlock()
}

func (s *Status) markFailed(name string, err error) {
	s.failed.Add(1)
	s.mu.Lock()
	s.failures = append(s.failures, Failure{Name: name, Type: errors.TypeOf(err), Error: err.Error()})
	s.mu.Unlock()
}

func (s *Status) finish(p Phase, now time.Time) {
	s.mu.Lock()
	s.finishedAt = now
	s.mu.Unlock()
	s.setPhase(p)
}

// Snapshot copies the current status.
func (s *Status) Snapshot() Report {
	p := s.Phase()
	r := Report{
		Phase:     p,
		PhaseName: p.String(),
		Processed: s.processed.Load(),
		Filtered:  s.filtered.Load(),
		Failed:    s.failed.Load(),
		Deleted:   s.deleted.Load(),
	}

	s.mu.Lock()
	r.Skipped = append([]Filtered(nil), s.skipped...)
	r.Failures = append([]Failure(nil), s.failures...)
	r.StartedAt = s.startedAt
	r.FinishedAt = s.finishedAt
	s.mu.Unlock()

	return r
}
