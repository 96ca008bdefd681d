// Package file implements a sink that appends records to a compressed
// JSON-lines log and keeps the known-entity ledger in a manifest next to it.
//
// Layout of the output directory:
//
//	manifest.json                  ledger of live entities per schema
//	records-<run_id>.jsonl[.ext]   one record per line, one file per run
//
// The manifest is rewritten atomically on Close, so a crashed run leaves
// the previous ledger intact.
package file

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/compression"
	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/logger"
	"github.com/ajitpratap0/harvester/pkg/sink"
)

// ManifestName is the ledger file name inside the output directory.
const ManifestName = "manifest.json"

// Manifest is the persisted ledger.
type Manifest struct {
	Version   int                     `json:"version"`
	UpdatedAt time.Time               `json:"updated_at"`
	RunID     string                  `json:"run_id"`
	Schemas   map[string][]sink.Entry `json:"schemas"`
}

// Sink writes records under a directory. It is safe for concurrent use.
type Sink struct {
	dir    string
	runID  string
	alg    compression.Algorithm
	ledger *sink.Ledger
	log    *zap.Logger

	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	codec   interface{ Close() error }
	enc     *json.Encoder
	written int64
	closed  bool
}

// New opens the output directory, loads the manifest if present and
// creates the record log for runID.
func New(cfg config.SinkConfig, runID string, log *zap.Logger) (*Sink, error) {
	if log == nil {
		log = logger.Get()
	}
	if cfg.Path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "sink.path is required for the file sink")
	}
	alg, err := compression.Parse(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to create output directory").
			WithDetail("path", cfg.Path)
	}

	s := &Sink{
		dir:    cfg.Path,
		runID:  runID,
		alg:    alg,
		ledger: sink.NewLedger(),
		log:    log.With(zap.String("component", "sink"), zap.String("sink", "file")),
	}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.RecordsPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to create record log").
			WithDetail("path", s.RecordsPath())
	}
	s.file = f
	s.buf = bufio.NewWriterSize(f, 64*1024)
	w, err := compression.NewWriter(s.buf, alg, compression.Default)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.codec = w
	s.enc = json.NewEncoder(w)
	return s, nil
}

// RecordsPath returns the path of this run's record log.
func (s *Sink) RecordsPath() string {
	return filepath.Join(s.dir, "records-"+s.runID+".jsonl"+s.alg.Extension())
}

// ManifestPath returns the path of the manifest.
func (s *Sink) ManifestPath() string {
	return filepath.Join(s.dir, ManifestName)
}

// Outputs returns the files this run wrote.
func (s *Sink) Outputs() []string {
	return []string{s.RecordsPath(), s.ManifestPath()}
}

// Accept implements sink.Sink.
func (s *Sink) Accept(_ context.Context, r record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrorTypeSink, "file sink is closed")
	}
	if err := s.enc.Encode(r); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to write record").WithDetail("fqn", r.FQN)
	}
	s.written++
	s.ledger.Apply(r)
	return nil
}

// PriorKnown implements sink.Sink.
func (s *Sink) PriorKnown(_ context.Context, schemaFQN string, kinds ...record.Kind) ([]string, error) {
	return s.ledger.Known(schemaFQN, kinds...), nil
}

// Close flushes the record log and persists the manifest.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.codec.Close(); err != nil {
		_ = s.file.Close()
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to flush compressed record log")
	}
	if err := s.buf.Flush(); err != nil {
		_ = s.file.Close()
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to flush record log")
	}
	if err := s.file.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to close record log")
	}
	if err := s.saveManifest(); err != nil {
		return err
	}

	s.log.Info("file sink closed",
		zap.String("records", s.RecordsPath()),
		zap.Int64("written", s.written),
		zap.Int("known_entities", s.ledger.Len()))
	return nil
}

func (s *Sink) loadManifest() error {
	data, err := os.ReadFile(s.ManifestPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to read manifest").
			WithDetail("path", s.ManifestPath())
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "manifest is corrupt").
			WithDetail("path", s.ManifestPath())
	}
	s.ledger.Restore(m.Schemas)
	return nil
}

func (s *Sink) saveManifest() error {
	data, err := json.MarshalIndent(Manifest{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		RunID:     s.runID,
		Schemas:   s.ledger.Snapshot(),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode manifest")
	}

	tmp, err := os.CreateTemp(s.dir, ManifestName+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to create manifest")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to write manifest")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to sync manifest")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to close manifest")
	}
	if err := os.Rename(tmp.Name(), s.ManifestPath()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to replace manifest")
	}
	return nil
}

// ReadRecords decodes a record log written by the sink.
func ReadRecords(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "failed to open record log").WithDetail("path", path)
	}
	defer f.Close()

	alg := compression.None
	for _, a := range compression.Algorithms {
		if ext := a.Extension(); ext != "" && filepath.Ext(path) == ext {
			alg = a
		}
	}
	r, err := compression.NewReader(bufio.NewReader(f), alg)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []record.Record
	dec := json.NewDecoder(r)
	for dec.More() {
		var rec record.Record
		if err := dec.Decode(&rec); err != nil {
			return out, errors.Wrap(err, errors.ErrorTypeSink, "failed to decode record log").WithDetail("path", path)
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ sink.Sink = (*Sink)(nil)
