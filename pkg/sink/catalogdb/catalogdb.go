// Package catalogdb implements a sink backed by a Postgres catalog table.
// Entities are upserted on every record; deletion markers soft-delete them
// so the history of an entity survives its removal from the source.
//
// Several services can share one catalog database. Every row is keyed by
// (service, fqn) and a Sink only reads and deletes the rows of its own
// service.
package catalogdb

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/logger"
	"github.com/ajitpratap0/harvester/pkg/sink"
)

const (
	createTable = `
CREATE TABLE IF NOT EXISTS harvest_entities (
    service     TEXT        NOT NULL,
    fqn         TEXT        NOT NULL,
    schema_fqn  TEXT        NOT NULL,
    kind        TEXT        NOT NULL,
    payload     JSONB       NOT NULL,
    deleted     BOOLEAN     NOT NULL DEFAULT FALSE,
    updated_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (service, fqn)
)`
	createIndex = `CREATE INDEX IF NOT EXISTS harvest_entities_schema_idx ON harvest_entities (service, schema_fqn) WHERE NOT deleted`

	upsertEntity = `
INSERT INTO harvest_entities (service, fqn, schema_fqn, kind, payload, deleted, updated_at)
VALUES ($1, $2, $3, $4, $5, FALSE, $6)
ON CONFLICT (service, fqn) DO UPDATE SET
    schema_fqn = EXCLUDED.schema_fqn,
    kind       = EXCLUDED.kind,
    payload    = EXCLUDED.payload,
    deleted    = FALSE,
    updated_at = EXCLUDED.updated_at`

	softDelete = `UPDATE harvest_entities SET deleted = TRUE, updated_at = $3 WHERE service = $1 AND fqn = $2 AND NOT deleted`

	selectKnown = `
SELECT fqn FROM harvest_entities
WHERE service = $1 AND schema_fqn = $2 AND NOT deleted AND kind = ANY($3)
ORDER BY fqn`
)

// DB is the subset of *pgxpool.Pool the sink needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Sink stores the records of one service in harvest_entities.
type Sink struct {
	db      DB
	service string
	close   func()
	log     *zap.Logger
}

// Open connects to cfg.DSN, verifies the connection and ensures the table
// exists. The sink is scoped to service.
func Open(ctx context.Context, cfg config.SinkConfig, service string, log *zap.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "sink.dsn is required for the catalogdb sink")
	}
	if service == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "service name is required for the catalogdb sink")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse catalog database DSN")
	}
	poolConfig.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to create catalog database pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "catalog database is unreachable")
	}

	s, err := New(ctx, pool, service, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.close = pool.Close
	return s, nil
}

// New wraps an existing connection and ensures the table exists.
func New(ctx context.Context, db DB, service string, log *zap.Logger) (*Sink, error) {
	if service == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "service name is required for the catalogdb sink")
	}
	if log == nil {
		log = logger.Get()
	}
	for _, stmt := range []string{createTable, createIndex} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to prepare catalog table")
		}
	}
	return &Sink{
		db:      db,
		service: service,
		close:   func() {},
		log: log.With(zap.String("component", "sink"), zap.String("sink", "catalogdb"),
			zap.String("service", service)),
	}, nil
}

// Accept implements sink.Sink. Namespace, table and view records are
// upserted; deletion markers soft-delete. Records of another service are
// rejected.
func (s *Sink) Accept(ctx context.Context, r record.Record) error {
	if r.Service.Name != "" && r.Service.Name != s.service {
		return errors.Newf(errors.ErrorTypeSink, "record of service %q sent to the sink of %q", r.Service.Name, s.service).
			WithDetail("fqn", r.FQN)
	}
	now := time.Now().UTC()
	if r.Kind == record.KindDeletion {
		if _, err := s.db.Exec(ctx, softDelete, s.service, r.FQN, now); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSink, "failed to mark entity deleted").WithDetail("fqn", r.FQN)
		}
		return nil
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode record").WithDetail("fqn", r.FQN)
	}
	if _, err := s.db.Exec(ctx, upsertEntity, s.service, r.FQN, r.SchemaFQN(), string(r.Kind), payload, now); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to upsert entity").WithDetail("fqn", r.FQN)
	}
	return nil
}

// PriorKnown implements sink.Sink. Only the sink's service is consulted.
func (s *Sink) PriorKnown(ctx context.Context, schemaFQN string, kinds ...record.Kind) ([]string, error) {
	if len(kinds) == 0 {
		kinds = []record.Kind{record.KindTable, record.KindView}
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	rows, err := s.db.Query(ctx, selectKnown, s.service, schemaFQN, names)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to query known entities").WithDetail("schema", schemaFQN)
	}
	known, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to read known entities").WithDetail("schema", schemaFQN)
	}
	if known == nil {
		known = []string{}
	}
	return known, nil
}

// Close releases the pool when the sink owns it.
func (s *Sink) Close(context.Context) error {
	s.close()
	return nil
}

var _ sink.Sink = (*Sink)(nil)
