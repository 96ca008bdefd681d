// Package config provides configuration management for harvest runs.
//
// # Usage
//
// ## Loading a run configuration
//
//	cfg, err := config.LoadConfig("harvest.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// LoadConfig reads the file, substitutes ${VAR_NAME} references from the
// environment, fills defaults and validates. Every filter regex is compiled
// during validation so a malformed pattern fails before any source is touched.
//
// ## Environment Variable Substitution
//
//	# harvest.yaml
//	service:
//	  name: warehouse
//	source:
//	  type: trino
//	  host: trino.internal
//	  port: 8080
//	  username: ${TRINO_USER}
//	  catalog: hive
//	ingestion:
//	  schema_filter:
//	    excludes: ["tmp_"]
//	  include_tables: true
//	  include_views: true
//	  mark_deleted_tables: true
//	sink:
//	  type: file
//	  path: /var/lib/harvester
//	  compression: zstd
//
// # Filter patterns
//
// Includes and excludes are Go regular expressions anchored at the start of
// the unqualified name: "tmp_" matches "tmp_scratch" but not "my_tmp_".
// Exclusion always wins over inclusion.
package config
