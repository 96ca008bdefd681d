// Package config provides the configuration system for the harvester.
// A single Config structure describes one harvest run end to end.
//
// The configuration is organized into logical sections:
//   - Service: identity of the catalog service the records belong to
//   - Source: connection descriptor for the warehouse being introspected
//   - Ingestion: filter patterns and the tables/views/deletions switches
//   - Sink: where records go, plus optional Kafka publishing
//   - Archive: optional upload of the file sink outputs
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg := config.NewConfig("warehouse", "trino")
//	cfg.Ingestion.SchemaFilter.Excludes = []string{"tmp_"}
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"regexp"
	"time"

	"github.com/ajitpratap0/harvester/pkg/errors"
)

// Config is the complete configuration of a harvest run.
type Config struct {
	// Service identifies the catalog service owning every emitted record
	Service ServiceConfig `yaml:"service" json:"service"`

	// Source is the connection descriptor of the warehouse
	Source SourceConfig `yaml:"source" json:"source"`

	// Ingestion controls what is walked and what is emitted
	Ingestion IngestionConfig `yaml:"ingestion" json:"ingestion"`

	// Sink receives the records
	Sink SinkConfig `yaml:"sink" json:"sink"`

	// Archive uploads file sink outputs after a successful run
	Archive ArchiveConfig `yaml:"archive" json:"archive"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServiceConfig names the catalog service records are attached to.
type ServiceConfig struct {
	// Name of the service entity in the catalog (e.g. "warehouse")
	Name string `yaml:"name" json:"name"`
	// Type is the service type reported on records (defaults to the source type)
	Type string `yaml:"type" json:"type"`
}

// IngestionConfig contains the switches and filters of the walk.
type IngestionConfig struct {
	// SchemaFilter is matched against schema names
	SchemaFilter FilterPattern `yaml:"schema_filter" json:"schema_filter"`
	// TableFilter is matched against table names (and view names when ViewFilter is empty)
	TableFilter FilterPattern `yaml:"table_filter" json:"table_filter"`
	// ViewFilter is matched against view names
	ViewFilter FilterPattern `yaml:"view_filter" json:"view_filter"`
	// IncludeTables enables table emission
	IncludeTables bool `yaml:"include_tables" json:"include_tables"`
	// IncludeViews enables view emission
	IncludeViews bool `yaml:"include_views" json:"include_views"`
	// MarkDeletedTables enables deletion reconciliation against the sink
	MarkDeletedTables bool `yaml:"mark_deleted_tables" json:"mark_deleted_tables"`
}

// FilterPattern is an ordered set of include and exclude regular expressions.
// Patterns are anchored at the start of the name they are matched against.
type FilterPattern struct {
	Includes []string `yaml:"includes" json:"includes"`
	Excludes []string `yaml:"excludes" json:"excludes"`
}

// IsEmpty returns true if no pattern is configured.
func (f FilterPattern) IsEmpty() bool {
	return len(f.Includes) == 0 && len(f.Excludes) == 0
}

// Compile compiles every pattern, returning includes and excludes in order.
func (f FilterPattern) Compile() ([]*regexp.Regexp, []*regexp.Regexp, error) {
	includes, err := compileAll(f.Includes)
	if err != nil {
		return nil, nil, err
	}
	excludes, err := compileAll(f.Excludes)
	if err != nil {
		return nil, nil, err
	}
	return includes, excludes, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid filter pattern").
				WithDetail("pattern", p)
		}
		out = append(out, re)
	}
	return out, nil
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat selects json or console encoding
	LogFormat string `yaml:"log_format" json:"log_format"`
	// MetricsAddr serves /metrics when set (e.g. ":9090")
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing activates span export
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// NewConfig creates a Config with sensible defaults for the given service
// name and source type.
//
// Example:
//
//	cfg := config.NewConfig("warehouse", "postgres")
//	cfg.Source.DSN = os.Getenv("WAREHOUSE_DSN")
func NewConfig(serviceName, sourceType string) *Config {
	return &Config{
		Service: ServiceConfig{
			Name: serviceName,
			Type: sourceType,
		},
		Source: SourceConfig{
			Type:       sourceType,
			Properties: make(map[string]string),
			Timeouts: TimeoutConfig{
				Connection: 10 * time.Second,
				Query:      time.Minute,
			},
		},
		Ingestion: IngestionConfig{
			IncludeTables:     true,
			IncludeViews:      true,
			MarkDeletedTables: true,
		},
		Sink: SinkConfig{
			Type:        "memory",
			Compression: "none",
			Kafka: KafkaConfig{
				Encoding: "json",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			EnableTracing:     false,
			TracingSampleRate: 0.1,
		},
	}
}

// ApplyDefaults fills fields a loaded file left empty.
func (c *Config) ApplyDefaults() {
	if c.Service.Type == "" {
		c.Service.Type = c.Source.Type
	}
	if c.Source.Properties == nil {
		c.Source.Properties = make(map[string]string)
	}
	if c.Source.Timeouts.Connection == 0 {
		c.Source.Timeouts.Connection = 10 * time.Second
	}
	if c.Sink.Type == "" {
		c.Sink.Type = "memory"
	}
	if c.Sink.Compression == "" {
		c.Sink.Compression = "none"
	}
	if c.Sink.Kafka.Encoding == "" {
		c.Sink.Kafka.Encoding = "json"
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = "json"
	}
}

// Validate validates the configuration for correctness. Every filter
// pattern is compiled so malformed expressions surface before a run starts.
//
// All failures are errors of type ErrorTypeConfig.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "service.name is required")
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}

	for name, fp := range map[string]FilterPattern{
		"schema_filter": c.Ingestion.SchemaFilter,
		"table_filter":  c.Ingestion.TableFilter,
		"view_filter":   c.Ingestion.ViewFilter,
	} {
		if _, _, err := fp.Compile(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "ingestion."+name+" is invalid")
		}
	}

	if err := c.Sink.Validate(); err != nil {
		return err
	}
	if err := c.Archive.Validate(c.Sink); err != nil {
		return err
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return errors.New(errors.ErrorTypeConfig, "observability.tracing_sample_rate must be between 0 and 1")
	}
	return nil
}
