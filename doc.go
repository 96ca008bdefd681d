// Package harvester is an incremental metadata-harvesting engine. It walks
// the catalogs, schemas, tables and views of a data source through an
// introspection provider, emits normalized records to a sink and marks the
// entities that disappeared since the previous run as deleted.
//
// # Layout
//
//   - pkg/harvest: filter engine, namespace walker, state tracker, record
//     emitter and the orchestrator producing a pull stream of records
//   - pkg/provider: provider registry plus the sqlinfo (Trino, Postgres,
//     MySQL, Snowflake, SQL Server, SQLite), bigquery and mongodb providers
//   - pkg/sink: memory, file and catalogdb ledgers and the Kafka publisher
//   - pkg/archive: S3 and GCS upload of file sink outputs
//   - internal/pipeline: the runner wiring one run end to end
//   - cmd/harvester: the CLI
//
// # Quick Start
//
//	harvester validate --config harvest.yaml
//	harvester run --config harvest.yaml --sink-path ./out
//
// A minimal configuration:
//
//	service:
//	  name: warehouse
//	source:
//	  type: postgres
//	  host: localhost
//	  catalog: analytics
//	ingestion:
//	  include_tables: true
//	  include_views: true
//	  mark_deleted_tables: true
//	sink:
//	  type: file
//	  path: ./out
//	  compression: zstd
package harvester
