package config

import (
	"time"

	"github.com/ajitpratap0/harvester/pkg/errors"
)

// SourceConfig is the connection descriptor of the warehouse being harvested.
// It stays immutable for the duration of a run.
type SourceConfig struct {
	// Type selects the introspection provider (trino, postgres, mysql, snowflake,
	// sqlserver, sqlite, bigquery, mongodb)
	Type string `yaml:"type" json:"type"`

	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`

	// DSN overrides the host/port/credential fields when the driver accepts one
	DSN string `yaml:"dsn" json:"-"`

	// Catalog restricts the walk to one catalog (database, project)
	Catalog string `yaml:"catalog" json:"catalog"`
	// Schema restricts the walk to one schema and skips schema discovery
	Schema string `yaml:"schema" json:"schema"`

	// Project is the cloud project for bigquery
	Project string `yaml:"project" json:"project"`
	// CredentialsFile points at a service account key
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// AccessToken is a static OAuth2 bearer token
	AccessToken string `yaml:"access_token" json:"-"`

	// Properties are passed through to the driver (e.g. sslmode, warehouse, role)
	Properties map[string]string `yaml:"properties" json:"properties"`

	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Retry controls how often Connect is retried while the source is unavailable
	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// RetryConfig is an exponential backoff for connection attempts.
type RetryConfig struct {
	// MaxAttempts counts the first attempt; 0 or 1 disables retries
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
}

// TimeoutConfig bounds source I/O. The harvest core imposes no timeouts itself.
type TimeoutConfig struct {
	// Connection timeout for establishing and pinging the connection
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Query timeout applied to each introspection query (0 = none)
	Query time.Duration `yaml:"query" json:"query"`
}

// Property returns a driver property or def when unset.
func (s *SourceConfig) Property(key, def string) string {
	if v, ok := s.Properties[key]; ok && v != "" {
		return v
	}
	return def
}

// Validate checks the connection descriptor.
func (s *SourceConfig) Validate() error {
	if s.Type == "" {
		return errors.New(errors.ErrorTypeConfig, "source.type is required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return errors.Newf(errors.ErrorTypeConfig, "source.port %d is out of range", s.Port)
	}
	if s.Retry.MaxAttempts < 0 {
		return errors.New(errors.ErrorTypeConfig, "source.retry.max_attempts must not be negative")
	}
	if s.Schema != "" && s.Catalog == "" && needsCatalogForSchema(s.Type) {
		return errors.New(errors.ErrorTypeConfig, "source.schema requires source.catalog for "+s.Type)
	}
	return nil
}

func needsCatalogForSchema(sourceType string) bool {
	switch sourceType {
	case "trino", "snowflake":
		return true
	default:
		return false
	}
}

// SinkConfig selects where records are written.
type SinkConfig struct {
	// Type is memory, file or catalogdb
	Type string `yaml:"type" json:"type"`
	// Path is the output directory of the file sink
	Path string `yaml:"path" json:"path"`
	// Compression of the file sink record log (none, gzip, snappy, lz4, zstd, s2)
	Compression string `yaml:"compression" json:"compression"`
	// DSN of the catalogdb sink
	DSN string `yaml:"dsn" json:"-"`
	// Kafka publishes every record in addition to the ledger sink when brokers are set
	Kafka KafkaConfig `yaml:"kafka" json:"kafka"`
}

// KafkaConfig configures the record publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
	// Encoding is json or avro
	Encoding string `yaml:"encoding" json:"encoding"`
}

// Enabled returns true if the publisher is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

var compressionAlgorithms = map[string]bool{
	"none": true, "gzip": true, "snappy": true, "lz4": true, "zstd": true, "s2": true,
}

// Validate checks the sink section.
func (s *SinkConfig) Validate() error {
	switch s.Type {
	case "memory":
	case "file":
		if s.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "sink.path is required for the file sink")
		}
	case "catalogdb":
		if s.DSN == "" {
			return errors.New(errors.ErrorTypeConfig, "sink.dsn is required for the catalogdb sink")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown sink type %q", s.Type)
	}

	if !compressionAlgorithms[s.Compression] {
		return errors.Newf(errors.ErrorTypeConfig, "unknown sink compression %q", s.Compression)
	}

	if s.Kafka.Enabled() {
		if s.Kafka.Topic == "" {
			return errors.New(errors.ErrorTypeConfig, "sink.kafka.topic is required when brokers are set")
		}
		if s.Kafka.Encoding != "json" && s.Kafka.Encoding != "avro" {
			return errors.Newf(errors.ErrorTypeConfig, "unknown sink.kafka.encoding %q", s.Kafka.Encoding)
		}
	}
	return nil
}

// ArchiveConfig uploads the file sink outputs to object storage.
type ArchiveConfig struct {
	// Type is s3 or gcs; empty disables archiving
	Type     string `yaml:"type" json:"type"`
	Bucket   string `yaml:"bucket" json:"bucket"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// CredentialsFile is a GCS service account key
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// Enabled returns true if archiving is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Type != ""
}

// Validate checks the archive section against the sink it archives.
func (a *ArchiveConfig) Validate(sink SinkConfig) error {
	if !a.Enabled() {
		return nil
	}
	if a.Type != "s3" && a.Type != "gcs" {
		return errors.Newf(errors.ErrorTypeConfig, "unknown archive type %q", a.Type)
	}
	if a.Bucket == "" {
		return errors.New(errors.ErrorTypeConfig, "archive.bucket is required")
	}
	if sink.Type != "file" {
		return errors.New(errors.ErrorTypeConfig, "archive requires the file sink")
	}
	return nil
}
