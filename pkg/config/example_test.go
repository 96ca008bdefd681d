package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/harvester/pkg/config"
)

// ExampleNewConfig demonstrates creating a run configuration with default values.
func ExampleNewConfig() {
	cfg := config.NewConfig("warehouse", "trino")

	fmt.Printf("Sink: %s\n", cfg.Sink.Type)
	fmt.Printf("Tables: %v\n", cfg.Ingestion.IncludeTables)
	fmt.Printf("Mark deleted: %v\n", cfg.Ingestion.MarkDeletedTables)
	fmt.Printf("Connection Timeout: %s\n", cfg.Source.Timeouts.Connection)

	// Output:
	// Sink: memory
	// Tables: true
	// Mark deleted: true
	// Connection Timeout: 10s
}

// ExampleConfig_Validate shows how to validate a configuration
// before using it.
func ExampleConfig_Validate() {
	cfg := config.NewConfig("warehouse", "postgres")
	cfg.Ingestion.SchemaFilter.Excludes = []string{"tmp_", "staging_.*"}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	fmt.Println("Configuration is valid!")

	cfg.Ingestion.TableFilter.Includes = []string{"orders("}
	fmt.Println(cfg.Validate() != nil)

	// Output:
	// Configuration is valid!
	// true
}

// ExampleParse demonstrates decoding YAML with environment variable substitution.
func ExampleParse() {
	doc := []byte(`
service:
  name: analytics
source:
  type: sqlite
  dsn: file:catalog.db
ingestion:
  include_tables: true
`)

	cfg := &config.Config{}
	if err := config.Parse(doc, cfg); err != nil {
		log.Fatal(err)
	}
	cfg.ApplyDefaults()

	fmt.Printf("Service: %s/%s\n", cfg.Service.Name, cfg.Service.Type)
	fmt.Printf("Views: %v\n", cfg.Ingestion.IncludeViews)

	// Output:
	// Service: analytics/sqlite
	// Views: false
}
